package signal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"peerwave/internal/core/services"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// RelayMetrics receives relay-level measurements. Nil disables recording.
type RelayMetrics interface {
	ClientConnected()
	ClientDisconnected()
	FrameRelayed(event string)
}

// Server is the channel relay: clients subscribe to named channels and
// every published frame fans out to all subscribers of that channel,
// sender included. At-least-once, no cross-event ordering; a single
// client's publishes on one channel keep their order because each client
// has one ordered send queue.
type Server struct {
	auth services.AuthService // nil disables auth

	mu       sync.RWMutex
	clients  map[*client]struct{}
	channels map[string]map[*client]struct{}

	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration
	messagesPerSec rate.Limit
	burst          int

	metrics RelayMetrics
	logger  *zap.SugaredLogger
}

type client struct {
	peerID   string
	conn     *websocket.Conn
	channels map[string]struct{}
	limiter  *rate.Limiter

	mu     sync.Mutex
	send   chan ServerFrame
	closed bool
}

// trySend enqueues without blocking; a full or closed queue drops the
// frame. Guarded so a concurrent fan-out never races the close.
func (c *client) trySend(frame ServerFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServerOption mutates optional server settings.
type ServerOption func(*Server)

// WithAuth requires a valid token query parameter on every connection.
func WithAuth(auth services.AuthService) ServerOption {
	return func(s *Server) { s.auth = auth }
}

// WithMetrics wires a relay metrics sink.
func WithMetrics(m RelayMetrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit caps per-client message throughput.
func WithRateLimit(messagesPerSecond float64, burst int) ServerOption {
	return func(s *Server) {
		s.messagesPerSec = rate.Limit(messagesPerSecond)
		s.burst = burst
	}
}

// WithKeepalive overrides the ping/pong timers.
func WithKeepalive(pingInterval, pongTimeout time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = pingInterval
		s.pongTimeout = pongTimeout
	}
}

func NewServer(logger *zap.SugaredLogger, opts ...ServerOption) *Server {
	s := &Server{
		clients:        make(map[*client]struct{}),
		channels:       make(map[string]map[*client]struct{}),
		pingInterval:   30 * time.Second,
		pongTimeout:    60 * time.Second,
		writeTimeout:   10 * time.Second,
		messagesPerSec: 100,
		burst:          200,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleWebSocket upgrades the connection and runs the client until it
// disconnects.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer_id")
	if peerID == "" {
		http.Error(w, "peer_id is required", http.StatusBadRequest)
		return
	}

	if s.auth != nil {
		token := r.URL.Query().Get("token")
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if claims.UserID != peerID {
			http.Error(w, "token does not match peer_id", http.StatusForbidden)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		peerID:   peerID,
		conn:     conn,
		send:     make(chan ServerFrame, 256),
		channels: make(map[string]struct{}),
		limiter:  rate.NewLimiter(s.messagesPerSec, s.burst),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ClientConnected()
	}
	s.logger.Infow("client connected", "peer_id", peerID)

	go s.writeLoop(c)
	s.readLoop(c)

	s.removeClient(c)
	if s.metrics != nil {
		s.metrics.ClientDisconnected()
	}
	s.logger.Infow("client disconnected", "peer_id", peerID)
}

func (s *Server) readLoop(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	for {
		var frame ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read error", "peer_id", c.peerID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))

		if !c.limiter.Allow() {
			s.sendError(c, "rate limit exceeded")
			continue
		}
		if err := s.handleFrame(c, frame); err != nil {
			s.sendError(c, err.Error())
		}
	}
}

func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleFrame(c *client, frame ClientFrame) error {
	if frame.Channel == "" {
		return fmt.Errorf("channel is required")
	}

	switch frame.Action {
	case ActionSubscribe:
		s.subscribe(c, frame.Channel)
		return nil
	case ActionUnsubscribe:
		s.unsubscribe(c, frame.Channel)
		return nil
	case ActionPublish:
		if frame.Event == "" {
			return fmt.Errorf("event is required for publish")
		}
		s.fanOut(frame.Channel, frame.Event, frame.Payload)
		if s.metrics != nil {
			s.metrics.FrameRelayed(frame.Event)
		}
		return nil
	default:
		return fmt.Errorf("unknown action: %s", frame.Action)
	}
}

func (s *Server) subscribe(c *client, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[channel] == nil {
		s.channels[channel] = make(map[*client]struct{})
	}
	s.channels[channel][c] = struct{}{}
	c.channels[channel] = struct{}{}
}

func (s *Server) unsubscribe(c *client, channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropSubscriptionLocked(c, channel)
}

func (s *Server) dropSubscriptionLocked(c *client, channel string) {
	if subs := s.channels[channel]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(s.channels, channel)
		}
	}
	delete(c.channels, channel)
}

// fanOut delivers to every subscriber of the channel, the sender included:
// echo suppression is the protocol layer's responsibility, and keeping the
// relay symmetric keeps it stateless about message semantics.
func (s *Server) fanOut(channel, event string, payload json.RawMessage) {
	frame := ServerFrame{Channel: channel, Event: event, Payload: payload}

	s.mu.RLock()
	subscribers := make([]*client, 0, len(s.channels[channel]))
	for sub := range s.channels[channel] {
		subscribers = append(subscribers, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subscribers {
		if !sub.trySend(frame) {
			s.logger.Warnw("dropping frame for slow client",
				"peer_id", sub.peerID,
				"channel", channel,
				"event", event,
			)
		}
	}
}

func (s *Server) sendError(c *client, message string) {
	c.trySend(ServerFrame{Error: message})
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	for channel := range c.channels {
		s.dropSubscriptionLocked(c, channel)
	}
	delete(s.clients, c)
	s.mu.Unlock()

	c.shutdown()
	c.conn.Close()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HealthCheck reports relay liveness and connection count.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ClientCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
