package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftchat/backend/internal/auth"
	"github.com/driftchat/backend/internal/domain"
	"github.com/driftchat/backend/pkg/validator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the HTTP layer
	},
}

// Client is one live device connection. Its read goroutine is the only
// path touching the rate limiter and the only dispatcher of inbound
// events, which keeps both lock-free and preserves per-sender ordering.
type Client struct {
	ID       uuid.UUID
	DeviceID string
	Conn     *websocket.Conn
	Send     chan []byte

	limiter      *domain.RateLimiter
	lastCriteria *domain.Criteria
}

// Gateway owns the device-to-connection mapping and is the sole writer
// of outbound events to each client. It never reaches into engine or
// session state except through their public operations.
type Gateway struct {
	clients       map[*Client]bool
	deviceClients map[string]*Client
	register      chan *Client
	unregister    chan *Client
	mu            sync.RWMutex

	jwtManager *auth.JWTManager
	matcher    *domain.MatchingService
	sessions   *domain.SessionService
	directory  *domain.Directory
	rlConfig   domain.RateLimiterConfig
	logger     *zap.Logger
}

// NewGateway creates the connection gateway. Sessions are wired in
// afterwards (SetSessions) to break the construction cycle with the
// session service, which needs the gateway as its Sender.
func NewGateway(jwtManager *auth.JWTManager, matcher *domain.MatchingService, directory *domain.Directory, rlConfig domain.RateLimiterConfig, logger *zap.Logger) *Gateway {
	return &Gateway{
		clients:       make(map[*Client]bool),
		deviceClients: make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		jwtManager:    jwtManager,
		matcher:       matcher,
		directory:     directory,
		rlConfig:      rlConfig,
		logger:        logger,
	}
}

// SetSessions completes wiring; must be called before Run.
func (g *Gateway) SetSessions(sessions *domain.SessionService) {
	g.sessions = sessions
}

// Run processes connection registration until the process exits. One
// live connection per device: a new connection replaces the old one.
func (g *Gateway) Run() {
	for {
		select {
		case client := <-g.register:
			g.mu.Lock()
			old := g.deviceClients[client.DeviceID]
			g.clients[client] = true
			g.deviceClients[client.DeviceID] = client
			g.mu.Unlock()
			if old != nil {
				old.Conn.Close()
			}
			g.logger.Debug("client registered", zap.String("device_id", client.DeviceID))

		case client := <-g.unregister:
			g.mu.Lock()
			_, known := g.clients[client]
			if known {
				delete(g.clients, client)
				close(client.Send)
			}
			// Only drop the device mapping if it still points at this
			// connection; a replacement may already own it.
			current := known && g.deviceClients[client.DeviceID] == client
			if current {
				delete(g.deviceClients, client.DeviceID)
			}
			g.mu.Unlock()
			if current {
				g.handleDisconnect(client.DeviceID)
			}
			g.logger.Debug("client unregistered", zap.String("device_id", client.DeviceID))
		}
	}
}

// SendToDevice implements domain.Sender. Delivery to an offline device
// is a no-op; a full send buffer drops the frame rather than blocking
// the session path.
func (g *Gateway) SendToDevice(deviceID string, event domain.Event) {
	// The read lock is held across the channel send: unregister closes
	// Send under the write lock, so close and send stay mutually
	// exclusive.
	g.mu.RLock()
	defer g.mu.RUnlock()

	client := g.deviceClients[deviceID]
	if client == nil {
		return
	}

	msg, err := json.Marshal(event)
	if err != nil {
		g.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	select {
	case client.Send <- msg:
	default:
		g.logger.Warn("send buffer full, dropping event",
			zap.String("device_id", deviceID),
			zap.String("event", event.Type),
		)
	}
}

// HandleWebSocket authenticates and upgrades the persistent connection.
// The token travels in the query string since browser WebSocket clients
// cannot set headers.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	deviceID, err := g.jwtManager.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:       uuid.New(),
		DeviceID: deviceID,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		limiter:  domain.NewRateLimiter(g.rlConfig),
	}

	g.register <- client

	go client.writePump()
	go client.readPump(g)
}

// handleDisconnect tears down whatever the device left behind: a queue
// entry is dropped, a live session ends with reason disconnect (the
// peer is notified and requeued), and the cached snapshots are
// forgotten along with the device-connection mapping.
func (g *Gateway) handleDisconnect(deviceID string) {
	g.matcher.CancelIfQueued(deviceID)
	g.sessions.EndOnDisconnect(deviceID)
	g.directory.Forget(deviceID)
}

func (c *Client) readPump(g *Gateway) {
	defer func() {
		g.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 << 10)

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("unexpected close", zap.String("device_id", c.DeviceID), zap.Error(err))
			}
			return
		}

		var event ClientEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			g.sendError(c, "bad_event", "malformed event")
			continue
		}
		if !g.dispatch(c, event) {
			return
		}
	}
}

// dispatch routes one inbound event. Returns false to force-close the
// connection (rate-limit abuse).
func (g *Gateway) dispatch(c *Client, event ClientEvent) bool {
	if class, limited := rateClass(event.Type); limited {
		if !c.limiter.Allow(class) {
			g.SendToDevice(c.DeviceID, domain.Event{
				Type:    domain.EventRateLimited,
				Payload: rateLimitedPayload{Event: event.Type},
			})
			if c.limiter.Abusive() {
				g.logger.Warn("closing abusive connection", zap.String("device_id", c.DeviceID))
				return false
			}
			return true
		}
	}

	switch event.Type {
	case evFindMatch:
		g.handleFindMatch(c, event.Payload)
	case evCancel:
		if err := g.matcher.Cancel(c.DeviceID); err != nil {
			g.sendError(c, "not_queued", "no queue entry to cancel")
		} else {
			g.SendToDevice(c.DeviceID, domain.Event{Type: domain.EventCancelled})
		}
	case evSignal:
		if err := g.sessions.Relay(c.DeviceID, domain.EventSignal, event.Payload); err != nil {
			g.sendError(c, "no_session", err.Error())
		}
	case evChat:
		if err := g.sessions.Relay(c.DeviceID, domain.EventChat, event.Payload); err != nil {
			g.sendError(c, "no_session", err.Error())
		}
	case evConnected:
		if err := g.sessions.MarkConnected(c.DeviceID); err != nil {
			g.sendError(c, "no_session", err.Error())
		}
	case evSkip:
		if err := g.sessions.End(c.DeviceID, domain.EndSkip); err != nil {
			g.sendError(c, "no_session", err.Error())
		}
	case evEnd:
		if err := g.sessions.End(c.DeviceID, domain.EndNatural); err != nil {
			g.sendError(c, "no_session", err.Error())
		}
	case evNext:
		if c.lastCriteria == nil {
			g.sendError(c, "no_criteria", "no previous match criteria; send find_match")
			return true
		}
		g.enqueue(c, *c.lastCriteria)
	default:
		g.sendError(c, "bad_event", "unknown event type")
	}
	return true
}

func (g *Gateway) handleFindMatch(c *Client, payload json.RawMessage) {
	var criteria domain.Criteria
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &criteria); err != nil {
			g.sendError(c, "bad_criteria", "malformed criteria")
			return
		}
	}
	if !validator.ValidateLanguage(criteria.Language) || !validator.ValidateRegion(criteria.Region) {
		g.sendError(c, "bad_criteria", "invalid language or region")
		return
	}
	if errs := validator.ValidateInterests(criteria.Interests); errs.HasErrors() {
		g.sendError(c, "bad_criteria", errs.Error())
		return
	}
	c.lastCriteria = &criteria
	g.enqueue(c, criteria)
}

func (g *Gateway) enqueue(c *Client, criteria domain.Criteria) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := g.matcher.Enqueue(ctx, c.DeviceID, criteria)
	switch {
	case err == nil:
		g.SendToDevice(c.DeviceID, domain.Event{Type: domain.EventQueued})
	case errors.Is(err, domain.ErrAlreadyQueued):
		g.sendError(c, "already_queued", "already waiting or in a match")
	case errors.Is(err, domain.ErrBanned):
		g.sendError(c, "banned", "device is banned")
	default:
		g.logger.Error("enqueue failed", zap.String("device_id", c.DeviceID), zap.Error(err))
		g.sendError(c, "internal", "could not join the queue")
	}
}

func (g *Gateway) sendError(c *Client, code, message string) {
	g.SendToDevice(c.DeviceID, domain.Event{
		Type:    domain.EventError,
		Payload: errorPayload{Code: code, Message: message},
	})
}

// rateClass maps inbound event types to limiter classes. Every known
// event is limited; lifecycle events (connected, skip, end) are cheap
// and share the generous signal bucket.
func rateClass(eventType string) (domain.EventClass, bool) {
	switch eventType {
	case evFindMatch, evNext:
		return domain.ClassFindMatch, true
	case evSignal, evCancel, evConnected, evSkip, evEnd:
		return domain.ClassSignal, true
	case evChat:
		return domain.ClassChat, true
	}
	return "", false
}

func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		w, err := c.Conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)

		// Drain anything already queued into the same frame batch.
		n := len(c.Send)
		for i := 0; i < n; i++ {
			w.Write([]byte{'\n'})
			w.Write(<-c.Send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
