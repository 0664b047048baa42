package services

import "roomrelay/internal/core/domain"

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) IncJoins() {}
func (NoopMetrics) IncRejections(string) {}
func (NoopMetrics) IncSignals(string) {}
func (NoopMetrics) IncDroppedDeliveries() {}
func (NoopMetrics) IncFailovers() {}
func (NoopMetrics) IncMessages() {}
func (NoopMetrics) SetActiveRooms(int) {}
func (NoopMetrics) SetParticipants(domain.Role, int) {}
func (NoopMetrics) SetActiveConnections(int) {}

// NoopPublisher discards room events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(domain.RoomEvent) {}
