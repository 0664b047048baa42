package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	"roomrelay/pkg/config"
	"roomrelay/pkg/errors"
	rlog "roomrelay/pkg/logger"
	"roomrelay/pkg/tracing"
	"roomrelay/pkg/utils"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServerConfig holds the transport settings of the signaling endpoint.
type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
	MaxMessageSize int64
	MaxConnections int
	AllowedOrigins []string
	ICEServers     []webrtc.ICEServer
	// NewLimiter returns the inbound message limiter of a new connection; nil disables limiting.
	NewLimiter func() *rate.Limiter
}

// ServerConfigFrom maps the signal and webrtc config sections.
func ServerConfigFrom(cfg *config.Config) ServerConfig {
	ice := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		ice = append(ice, server)
	}
	return ServerConfig{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBufferSize: cfg.Signal.SendBufferSize,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
		MaxConnections: cfg.Signal.MaxConnections,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
		ICEServers:     ice,
	}
}

// ConnectedPayload is the first frame of every connection.
type ConnectedPayload struct {
	ID         domain.ParticipantID `json:"id"`
	ICEServers []webrtc.ICEServer   `json:"iceServers"`
}

// RejectionPayload is sent back to the connection whose event was refused.
type RejectionPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

type messageObserver interface {
	ObserveMessage(messageType string, d time.Duration)
}

type WebSocketServer struct {
	rooms   ports.RoomService
	relay   ports.SignalRelay
	dir     ports.Directory
	metrics ports.RoomMetrics

	cfg      ServerConfig
	upgrader websocket.Upgrader
	dispatch map[string]handlerFunc

	connections map[domain.ParticipantID]*Client
	mu          sync.RWMutex

	// active counts reserved slots, including handshakes still in flight.
	active atomic.Int64

	logger *zap.SugaredLogger
	ctxLog *rlog.ContextLogger
}

func NewWebSocketServer(
	rooms ports.RoomService,
	relay ports.SignalRelay,
	dir ports.Directory,
	metrics ports.RoomMetrics,
	cfg ServerConfig,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if metrics == nil {
		metrics = services.NoopMetrics{}
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = cfg.PingInterval * 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 64
	}

	s := &WebSocketServer{
		rooms:       rooms,
		relay:       relay,
		dir:         dir,
		metrics:     metrics,
		cfg:         cfg,
		connections: make(map[domain.ParticipantID]*Client),
		logger:      logger,
		ctxLog:      rlog.NewContextLogger(logger.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	s.dispatch = s.handlers()
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Warnw("Rejected websocket origin", "origin", origin)
	return false
}

// HandleWebSocket upgrades the request and serves the connection until it closes.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.reserveSlot() {
		s.logger.Warnw("Connection limit reached", "max_connections", s.cfg.MaxConnections)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer s.active.Add(-1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("Websocket upgrade failed", "error", err)
		return
	}
	if err := s.HandleConnection(r.Context(), conn); err != nil {
		s.logger.Debugw("Connection closed", "error", err)
	}
}

// reserveSlot claims a connection slot before the upgrade so concurrent
// handshakes cannot overshoot MaxConnections. The caller releases it.
func (s *WebSocketServer) reserveSlot() bool {
	max := int64(s.cfg.MaxConnections)
	for {
		n := s.active.Load()
		if max > 0 && n >= max {
			return false
		}
		if s.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// HandleConnection serves an upgraded *websocket.Conn. It blocks until the
// connection is gone and always leaves the participant's room on return.
func (s *WebSocketServer) HandleConnection(ctx context.Context, wsConn interface{}) error {
	conn, ok := wsConn.(*websocket.Conn)
	if !ok {
		return fmt.Errorf("unsupported connection type %T", wsConn)
	}
	// The request context ends with the upgrade handler on some servers.
	ctx = context.WithoutCancel(ctx)

	id := domain.ParticipantID(utils.GenerateConnectionID())
	var limiter *rate.Limiter
	if s.cfg.NewLimiter != nil {
		limiter = s.cfg.NewLimiter()
	}
	client := newClient(id, conn, s.cfg.SendBufferSize, limiter)

	s.mu.Lock()
	s.connections[id] = client
	s.mu.Unlock()

	s.dir.Register(id, client)
	go client.writePump(s.cfg.PingInterval, s.cfg.WriteTimeout)

	s.logger.Infow("Participant connected", "participant_id", id, "remote_addr", conn.RemoteAddr().String())

	if msg, err := domain.Encode(domain.EventConnected, ConnectedPayload{ID: id, ICEServers: s.cfg.ICEServers}); err == nil {
		client.Enqueue(msg)
	}

	ctx = rlog.WithConnectionID(ctx, string(id))
	err := client.readPump(s.cfg.MaxMessageSize, s.cfg.PongTimeout, func(data []byte) {
		if !client.allow() {
			s.reject(ctx, id, requestType(data), errors.NewRateLimitError())
			return
		}
		if err := s.HandleMessage(ctx, id, data); err != nil {
			s.reject(ctx, id, requestType(data), err)
		}
	})

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		s.logger.Infow("Error reading from participant", "participant_id", id, "error", err)
	}

	_ = s.HandleDisconnect(ctx, id)
	client.close()

	s.mu.Lock()
	delete(s.connections, id)
	s.mu.Unlock()

	s.logger.Infow("Participant disconnected", "participant_id", id)
	return err
}

// HandleMessage decodes one frame and dispatches it. The returned error is
// what the sender should be told.
func (s *WebSocketServer) HandleMessage(ctx context.Context, id domain.ParticipantID, message []byte) error {
	var env domain.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return errors.NewInvalidInputError("message must be a JSON envelope")
	}
	if env.Type == "" {
		return errors.NewInvalidInputError("message type is required")
	}

	handle, ok := s.dispatch[env.Type]
	if !ok {
		return errors.NewInvalidInputError(fmt.Sprintf("unknown message type: %s", env.Type)).
			WithContext("type", env.Type)
	}

	ctx, span := tracing.TraceWebSocketMessage(ctx, env.Type, string(id))
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = rlog.WithTraceID(ctx, sc.TraceID().String())
	}
	start := time.Now()

	p, err := decodePayload(env.Payload)
	if err == nil {
		err = handle(ctx, id, p)
	}
	if roomID, ok := s.dir.CurrentRoom(id); ok {
		tracing.Annotate(ctx, tracing.RoomIDKey.String(string(roomID)))
	}
	if err != nil {
		tracing.RecordError(ctx, err, tracing.ErrorCodeKey.String(string(errors.FromDomain(err).Code)))
	}

	if obs, ok := s.metrics.(messageObserver); ok {
		obs.ObserveMessage(env.Type, time.Since(start))
	}
	return err
}

// HandleDisconnect removes the participant from its room. Safe to call twice.
func (s *WebSocketServer) HandleDisconnect(ctx context.Context, id domain.ParticipantID) error {
	s.rooms.Disconnect(ctx, id)
	return nil
}

func (s *WebSocketServer) reject(ctx context.Context, id domain.ParticipantID, request string, err error) {
	appErr := errors.FromDomain(err)
	s.metrics.IncRejections(string(appErr.Code))
	if roomID, ok := s.dir.CurrentRoom(id); ok {
		ctx = rlog.WithRoomID(ctx, string(roomID))
	}

	log := s.ctxLog.Sugar(ctx)
	if appErr.Code == errors.ErrCodeInternal {
		log.Errorw("Request failed", "request", request, "error", err)
	} else {
		log.Infow("Request rejected", "request", request, "code", appErr.Code, "error", err)
	}

	msg, encErr := domain.Encode(domain.EventError, RejectionPayload{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Request: request,
	})
	if encErr != nil {
		return
	}
	s.dir.Send(id, msg)
}

// requestType best-effort extracts the event type for error reports.
func requestType(data []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &env)
	return utils.TruncateString(env.Type, 64)
}

// ConnectionCount reports the number of live websocket connections.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *WebSocketServer) IsConnected(id domain.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.connections[id]
	return exists
}

// Shutdown asks every connection to close and waits until they are gone
// or ctx expires.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.connections))
	for _, c := range s.connections {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

var _ ports.WebSocketHandler = (*WebSocketServer)(nil)
