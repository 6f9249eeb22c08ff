package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/airbear/internal/auth"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/observability"
	"github.com/example/airbear/internal/realtime"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 8192
	writeWait      = 10 * time.Second
	sendBuffer     = 64
)

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrForbidden    = errors.New("topic not permitted")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one subscriber connection bound to a single topic.
type wsClient struct {
	id     string
	table  string
	column string
	value  string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub serves the /ws change feed. Each connection subscribes to one table,
// optionally narrowed by an equality filter, and receives every matching
// change as a JSON models.Change.
type Hub struct {
	verifier *auth.Verifier
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
}

func NewHub(verifier *auth.Verifier, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{verifier: verifier, log: log, clients: make(map[string]*wsClient)}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Authorize decides whether a principal may watch a topic. authed is false
// for anonymous connections. Rides need a filter on the caller's own id
// unless the caller is an admin; orders and payments are admin only.
// Without a configured verifier nobody is authenticated, so ride filters are
// taken at face value and admin topics stay closed.
func (h *Hub) Authorize(u models.User, authed bool, table, column, value string) error {
	switch table {
	case models.TableAirbears:
		return nil
	case models.TableRides:
		if column != "user_id" && column != "driver_id" {
			if authed && u.Role.IsAdmin() {
				return nil
			}
			return fmt.Errorf("%w: rides need a user_id or driver_id filter", ErrForbidden)
		}
		if !h.verifier.Enabled() {
			return nil
		}
		if !authed {
			return fmt.Errorf("%w: sign in to follow rides", ErrForbidden)
		}
		if u.Role.IsAdmin() || value == u.ID {
			return nil
		}
		return fmt.Errorf("%w: rides of another user", ErrForbidden)
	case models.TableOrders, models.TablePayments:
		if authed && u.Role.IsAdmin() {
			return nil
		}
		return fmt.Errorf("%w: %s is admin only", ErrForbidden, table)
	}
	return fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// ServeWS upgrades /ws?table=..&filter=.. requests. The token comes from the
// Authorization header or the access_token query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	column, value, err := realtime.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		user   models.User
		authed bool
	)
	if tok := auth.BearerToken(r); tok != "" && h.verifier.Enabled() {
		user, err = h.verifier.Verify(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		authed = true
	}
	if err := h.Authorize(user, authed, table, column, value); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrUnknownTable) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	c := &wsClient{
		id:     uuid.NewString(),
		table:  table,
		column: column,
		value:  value,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	h.add(c)
	h.log.Debug("change feed subscribed", "client_id", c.id, "table", table, "filter", r.URL.Query().Get("filter"), "user_id", user.ID)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	observability.RealtimeClients.Set(float64(n))
}

// remove closes the client's send channel once; the write pump then closes
// the socket.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	if ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		observability.RealtimeClients.Set(float64(n))
	}
}

// Publish delivers c to every matching subscriber. Subscribers whose buffer
// is full are disconnected rather than blocking the publisher.
func (h *Hub) Publish(_ context.Context, c models.Change) error {
	msg, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	var fields map[string]any

	var slow []*wsClient
	h.mu.RLock()
	for _, cl := range h.clients {
		if cl.table != c.Table {
			continue
		}
		if cl.column != "" {
			if fields == nil {
				fields = recordFields(c)
			}
			if !matches(fields, cl.column, cl.value) {
				continue
			}
		}
		select {
		case cl.send <- msg:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range slow {
		h.log.Warn("dropping slow change feed client", "client_id", cl.id, "table", cl.table)
		h.remove(cl)
	}
	observability.ChangesPublished.WithLabelValues(c.Table).Inc()
	return nil
}

// recordFields decodes the new record, falling back to the old one for
// deletes.
func recordFields(c models.Change) map[string]any {
	raw := c.New
	if len(raw) == 0 || string(raw) == "null" {
		raw = c.Old
	}
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

func matches(fields map[string]any, column, value string) bool {
	v, ok := fields[column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == value
}

// readPump only services control frames; subscribers never send data.
func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("change feed read error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()
	observability.RealtimeClients.Set(0)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
