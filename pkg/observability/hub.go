package observability

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/agentrun/internal/logging"
	"github.com/aretw0/agentrun/pkg/domain"
)

// MessageType identifies the kind of a notification.
type MessageType string

const (
	// MessageFullState is always the first message of a subscription.
	MessageFullState MessageType = "full_state"
	// MessageTrace carries one raw event.
	MessageTrace MessageType = "trace"
	// MessageState carries a condensed summary after a mutation.
	MessageState MessageType = "state"
)

// Message is one notification delivered to a subscriber.
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Event     *domain.Event   `json:"event,omitempty"`
	State     *domain.Summary `json:"state,omitempty"`
	History   []domain.Event  `json:"history,omitempty"`
}

// seq returns the history position the message reflects.
func (m Message) seq() int {
	switch {
	case m.Event != nil:
		return m.Event.Seq
	case m.State != nil:
		return m.State.EventCount
	}
	return 0
}

// OverflowPolicy decides what happens when a subscriber queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued message to make room.
	DropOldest OverflowPolicy = iota
	// Disconnect closes the subscription.
	Disconnect
)

func (p OverflowPolicy) String() string {
	switch p {
	case Disconnect:
		return "disconnect"
	default:
		return "drop_oldest"
	}
}

// ParseOverflowPolicy accepts "drop_oldest" (or "drop-oldest") and "disconnect".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "drop_oldest":
		return DropOldest, nil
	case "disconnect":
		return Disconnect, nil
	}
	return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
}

// SourceFunc returns a consistent copy of the current session, used to build full_state.
type SourceFunc func(sessionID string) (*domain.Session, bool)

// Defaults for Hub options.
const (
	DefaultQueueSize = 256
)

// Hub fans session notifications out to live subscribers.
// Publishing never blocks: each subscriber owns a bounded queue drained by its own goroutine.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	source SourceFunc

	queueSize    int
	policy       OverflowPolicy
	previewLimit int

	logger  *slog.Logger
	metrics *Metrics
}

// HubOption configures the Hub.
type HubOption func(*Hub)

// WithQueueSize bounds each subscriber queue. Values below 1 are ignored.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithOverflowPolicy selects the behavior on a full queue.
func WithOverflowPolicy(p OverflowPolicy) HubOption {
	return func(h *Hub) {
		h.policy = p
	}
}

// WithPreviewLimit caps each context value preview in state messages.
func WithPreviewLimit(n int) HubOption {
	return func(h *Hub) {
		h.previewLimit = n
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithHubMetrics records subscriber and drop counts.
func WithHubMetrics(m *Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub creates a Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:         make(map[string]map[*Subscription]struct{}),
		queueSize:    DefaultQueueSize,
		policy:       DropOldest,
		previewLimit: domain.DefaultPreviewLimit,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetSource registers the function used to build full_state messages.
func (h *Hub) SetSource(source SourceFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = source
}

// Subscribe registers a subscriber for one session.
// The first message on C is a full_state snapshot; live messages follow with no gap
// and no duplicate. Close the subscription when done.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := newSubscription(h, sessionID)

	// Register before reading the source: anything published from now on is buffered.
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	source := h.source
	h.mu.Unlock()
	h.metrics.subscriberAdded()

	// The source takes the session lock, so it must run outside h.mu.
	var session *domain.Session
	if source != nil {
		session, _ = source(sessionID)
	}
	if session == nil {
		session = domain.NewSession(sessionID, "", time.Time{})
	}

	summary := domain.Summarize(session, h.previewLimit)
	sub.start(Message{
		Type:      MessageFullState,
		SessionID: sessionID,
		State:     &summary,
		History:   session.History,
	})

	h.logger.Debug("Subscriber added", "session_id", sessionID)
	return sub
}

// Unsubscribe removes a subscriber. It is equivalent to sub.Close().
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.Close()
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	subs, ok := h.subs[sub.sessionID]
	if ok {
		if _, present := subs[sub]; !present {
			ok = false
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	h.mu.Unlock()

	if ok {
		h.metrics.subscriberRemoved()
		h.logger.Debug("Subscriber removed", "session_id", sub.sessionID)
	}
}

// Subscribers returns the number of live subscribers for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

func (h *Hub) snapshotSubs(sessionID string) []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*Subscription, 0, len(h.subs[sessionID]))
	for s := range h.subs[sessionID] {
		subs = append(subs, s)
	}
	return subs
}

// PublishEvent delivers one event as a trace message.
func (h *Hub) PublishEvent(sessionID string, event domain.Event) {
	subs := h.snapshotSubs(sessionID)
	if len(subs) == 0 {
		return
	}
	e := event.Clone()
	msg := Message{Type: MessageTrace, SessionID: sessionID, Event: &e}
	for _, s := range subs {
		s.enqueue(msg)
	}
}

// PublishState delivers a condensed summary of session.
func (h *Hub) PublishState(sessionID string, session *domain.Session) {
	subs := h.snapshotSubs(sessionID)
	if len(subs) == 0 {
		return
	}
	summary := domain.Summarize(session, h.previewLimit)
	msg := Message{Type: MessageState, SessionID: sessionID, State: &summary}
	for _, s := range subs {
		s.enqueue(msg)
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Subscription
	for _, subs := range h.subs {
		for s := range subs {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// Subscription is one live observer. Messages arrive on C in publication order.
// C is closed after Close, or when the Disconnect policy drops the subscriber.
type Subscription struct {
	C <-chan Message

	hub       *Hub
	sessionID string
	out       chan Message

	mu      sync.Mutex
	queue   []Message
	ready   bool // full_state is queued; live messages may be delivered
	closed  bool
	lastSeq int
	dropped int

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(h *Hub, sessionID string) *Subscription {
	out := make(chan Message)
	s := &Subscription{
		C:         out,
		hub:       h,
		sessionID: sessionID,
		out:       out,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.pump()
	return s
}

// SessionID returns the observed session.
func (s *Subscription) SessionID() string { return s.sessionID }

// Dropped returns how many messages the overflow policy discarded.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// start queues full_state ahead of everything buffered during registration and
// discards buffered messages the snapshot already covers.
func (s *Subscription) start(full Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastSeq = len(full.History)
	live := make([]Message, 0, len(s.queue)+1)
	live = append(live, full)
	for _, m := range s.queue {
		if m.seq() > s.lastSeq {
			live = append(live, m)
		}
	}
	s.queue = live
	s.ready = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) enqueue(m Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.ready && m.seq() <= s.lastSeq {
		s.mu.Unlock()
		return
	}

	if len(s.queue) >= s.hub.queueSize {
		if s.hub.policy == Disconnect {
			s.mu.Unlock()
			s.hub.metrics.messageDropped(Disconnect)
			s.hub.logger.Warn("Subscriber queue full, disconnecting", "session_id", s.sessionID)
			s.Close()
			return
		}
		s.dropOldest()
	}
	s.queue = append(s.queue, m)
	s.mu.Unlock()
	s.wake()
}

// dropOldest removes the oldest message, keeping a pending full_state at the head.
// Caller holds s.mu.
func (s *Subscription) dropOldest() {
	i := 0
	if len(s.queue) > 1 && s.queue[0].Type == MessageFullState {
		i = 1
	}
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	s.dropped++
	s.hub.metrics.messageDropped(DropOldest)
	s.hub.logger.Warn("Subscriber queue full, dropping oldest message", "session_id", s.sessionID)
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || len(s.queue) == 0 {
		return Message{}, false
	}
	m := s.queue[0]
	s.queue[0] = Message{}
	s.queue = s.queue[1:]
	return m, true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		for {
			m, ok := s.next()
			if !ok {
				break
			}
			select {
			case s.out <- m:
			case <-s.done:
				return
			}
		}
		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}

// Close removes the subscription from the hub and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		s.hub.remove(s)
		close(s.done)
	})
}
