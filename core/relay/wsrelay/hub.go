package wsrelay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-live/core/relay"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	DefaultMessageRate  = rate.Limit(20)
	DefaultMessageBurst = 40
	DefaultSendQueue    = 64
	maxMessageSize      = 64 * 1024
)

const (
	resultDelivered   = "delivered"
	resultDropped     = "dropped"
	resultRateLimited = "rate_limited"
)

// Hub relays every message to the other members of the sender's meeting.
type Hub struct {
	upgrader  websocket.Upgrader
	metrics   *Metrics
	rate      rate.Limit
	burst     int
	sendQueue int

	mu     sync.Mutex
	rooms  map[string]map[*member]struct{}
	closed bool
}

type member struct {
	meetingID string
	ws        *websocket.Conn
	send      chan []byte
	limiter   *rate.Limiter
}

type HubOption func(*Hub)

// WithRateLimit limits how many messages each connection may publish.
func WithRateLimit(limit rate.Limit, burst int) HubOption {
	return func(h *Hub) {
		h.rate = limit
		h.burst = burst
	}
}

func WithSendQueue(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendQueue = n
		}
	}
}

func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rate:      DefaultMessageRate,
		burst:     DefaultMessageBurst,
		sendQueue: DefaultSendQueue,
		rooms:     map[string]map[*member]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics("")
	}
	return h
}

// Handler serves the relay at /relay along with /metrics and /healthz.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /relay", h.ServeWS)
	mux.Handle("GET /metrics", h.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return otelhttp.NewHandler(mux, "ema-live-relay")
}

// ServeWS upgrades a request carrying ?meeting=<id> and joins it to the
// meeting.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	meetingID, err := relay.NormalizeMeetingID(r.URL.Query().Get(MeetingParam))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade relay connection", "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	m := &member{
		meetingID: meetingID,
		ws:        ws,
		send:      make(chan []byte, h.sendQueue),
		limiter:   rate.NewLimiter(h.rate, h.burst),
	}
	if !h.join(m) {
		_ = ws.Close()
		return
	}
	logger.Info("relay member joined", "meeting_id", meetingID, "remote", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.write(m)
	}()

	h.read(m)
	h.leave(m)
	close(m.send)
	wg.Wait()
	_ = ws.Close()
	logger.Info("relay member left", "meeting_id", meetingID)
}

func (h *Hub) read(m *member) {
	for {
		msgType, payload, err := m.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !m.limiter.Allow() {
			h.metrics.MessagesTotal.WithLabelValues(resultRateLimited).Inc()
			logger.Warn("rate limiting relay member", "meeting_id", m.meetingID)
			continue
		}
		h.broadcast(m, payload)
	}
}

func (h *Hub) write(m *member) {
	for payload := range m.send {
		_ = m.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := m.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Warn("failed to write to relay member", "meeting_id", m.meetingID, "error", err)
			_ = m.ws.Close()
			for range m.send {
			}
			return
		}
	}
}

// broadcast hands payload to every member of the sender's meeting except
// the sender. Members whose queue is full miss the message.
func (h *Hub) broadcast(from *member, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for m := range h.rooms[from.meetingID] {
		if m == from {
			continue
		}
		select {
		case m.send <- payload:
			h.metrics.MessagesTotal.WithLabelValues(resultDelivered).Inc()
		default:
			h.metrics.MessagesTotal.WithLabelValues(resultDropped).Inc()
		}
	}
}

func (h *Hub) join(m *member) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.rooms[m.meetingID] == nil {
		h.rooms[m.meetingID] = map[*member]struct{}{}
		h.metrics.Rooms.Inc()
	}
	h.rooms[m.meetingID][m] = struct{}{}
	h.metrics.Connections.Inc()
	return true
}

func (h *Hub) leave(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[m.meetingID]
	if !ok {
		return
	}
	if _, ok := room[m]; !ok {
		return
	}
	delete(room, m)
	h.metrics.Connections.Dec()
	if len(room) == 0 {
		delete(h.rooms, m.meetingID)
		h.metrics.Rooms.Dec()
	}
}

// Members returns how many connections are in meetingID.
func (h *Hub) Members(meetingID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[meetingID])
}

// Close disconnects every member and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var conns []*websocket.Conn
	for _, room := range h.rooms {
		for m := range room {
			conns = append(conns, m.ws)
		}
	}
	h.mu.Unlock()

	for _, ws := range conns {
		_ = ws.Close()
	}
}
