package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

func ParseSignalKind(s string) (SignalKind, error) {
	switch k := SignalKind(s); k {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, s)
	}
}

// Signal is an opaque offer, answer or candidate blob. The payload is never
// inspected past checking that it is a JSON value.
type Signal struct {
	Kind    SignalKind
	Payload json.RawMessage
}

func NewSignal(kind string, payload json.RawMessage) (Signal, error) {
	k, err := ParseSignalKind(kind)
	if err != nil {
		return Signal{}, err
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Signal{}, fmt.Errorf("%w: empty payload", ErrInvalidSignal)
	}
	if !json.Valid(trimmed) {
		return Signal{}, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidSignal)
	}
	return Signal{Kind: k, Payload: json.RawMessage(trimmed)}, nil
}
