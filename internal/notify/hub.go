package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	EventMeetingSynced = "meeting.synced"
	EventBatchSummary  = "sync.completed"
	EventError         = "sync.error"

	hubWriteTimeout     = 5 * time.Second
	hubSubscriberBuffer = 32
)

type Event struct {
	Type    string       `json:"type"`
	Time    time.Time    `json:"time"`
	Meeting *MeetingNote `json:"meeting,omitempty"`
	Batch   *Batch       `json:"batch,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Hub broadcasts notifications as JSON events to websocket subscribers.
// Slow subscribers drop events rather than stall the sync.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	logger Logger
	now    func() time.Time
}

func NewHub(logger Logger) *Hub {
	return &Hub{
		subs:   map[chan Event]struct{}{},
		logger: logger,
		now:    time.Now,
	}
}

func (h *Hub) MeetingSynced(note MeetingNote) {
	h.Publish(Event{Type: EventMeetingSynced, Meeting: &note})
}

func (h *Hub) BatchSummary(b Batch) {
	h.Publish(Event{Type: EventBatchSummary, Batch: &b, Message: BatchMessage(b)})
}

func (h *Hub) Error(message string) {
	h.Publish(Event{Type: EventError, Message: message})
}

func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = h.now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logf("event subscriber is slow, dropping %s", ev.Type)
		}
	}
}

// Subscribe returns a channel of future events and a function that releases it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, hubSubscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logf("websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	events, unsubscribe := h.Subscribe()
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-events:
			if err := h.write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, hubWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger == nil {
		return
	}
	h.logger.Printf(format, args...)
}
