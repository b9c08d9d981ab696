package streamhub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize bounds the per-subscriber mailbox for best-effort
// Metric events. A slow subscriber drops samples rather than stalling the
// engine.
const subscriberBufferSize = 256

// terminalSendTimeout bounds how long a guaranteed terminal-event send will
// wait on a wedged subscriber before giving up on it; it does not affect the
// happens-before ordering guarantee for subscribers that are still reading.
const terminalSendTimeout = 2 * time.Second

type subscriber struct {
	id     string
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub is a process-wide broadcaster. The zero value is not usable; use New.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]*subscriber)}
}

// Subscription is a handle returned by Subscribe. Call Close when the
// observer detaches; it never blocks and is safe to call multiple times.
type Subscription struct {
	hub *Hub
	sub *subscriber
}

// Events returns the channel the subscriber should range over.
func (s *Subscription) Events() <-chan Event {
	return s.sub.events
}

// Close detaches the subscription from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s.sub.id)
	s.hub.mu.Unlock()
	s.sub.close()
}

// Subscribe attaches a new observer and immediately delivers a Connected
// event carrying its subscriber id.
func (h *Hub) Subscribe() *Subscription {
	sub := &subscriber{
		id:     uuid.NewString(),
		events: make(chan Event, subscriberBufferSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()

	// Connected is delivered once, directly, before the subscriber can have
	// missed anything: the channel is freshly made and unshared until now.
	sub.events <- Event{Type: EventConnected, SubscriberID: sub.id}

	return &Subscription{hub: h, sub: sub}
}

// PublishMetric is the best-effort path: a full subscriber mailbox drops the
// sample rather than blocking the engine.
func (h *Hub) PublishMetric(runToken string, sample MetricSample) {
	h.broadcastBestEffort(Event{Type: EventMetricReceived, RunToken: runToken, Sample: &sample})
}

// PublishAuthStarted, PublishAuthSuccess, PublishAuthFailed, PublishCompleted,
// and PublishError are terminal-grade broadcasts: they block (up to
// terminalSendTimeout per subscriber) to guarantee delivery to every active
// subscriber. This also establishes the happens-before edge
// between the last enqueued Metric and the terminal event, because both are
// routed through the same per-subscriber buffered channel (FIFO) and the
// terminal send only returns once every subscriber's earlier Metric sends
// have already been accepted into that same channel.
func (h *Hub) PublishAuthStarted(runToken string) {
	h.broadcastReliable(Event{Type: EventAuthenticationStarted, RunToken: runToken})
}

func (h *Hub) PublishAuthSuccess(runToken string) {
	h.broadcastReliable(Event{Type: EventAuthenticationSuccess, RunToken: runToken})
}

func (h *Hub) PublishAuthFailed(runToken, errMsg string) {
	h.broadcastReliable(Event{Type: EventAuthenticationFailed, RunToken: runToken, Err: errMsg})
}

func (h *Hub) PublishCompleted(runToken string, agg RunAggregate) {
	h.broadcastReliable(Event{Type: EventTestCompleted, RunToken: runToken, Aggregate: &agg})
}

func (h *Hub) PublishError(runToken, errMsg string) {
	h.broadcastReliable(Event{Type: EventTestError, RunToken: runToken, Err: errMsg})
}

func (h *Hub) broadcastBestEffort(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		select {
		case sub.events <- ev:
		case <-sub.done:
		default:
			// Slow subscriber: drop the sample, never slow the engine.
		}
	}
}

func (h *Hub) broadcastReliable(ev Event) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.events <- ev:
		case <-sub.done:
		case <-time.After(terminalSendTimeout):
			// A departed-but-not-yet-Closed subscriber must not block the
			// stream indefinitely; its mailbox is abandoned.
		}
	}
}

// SubscriberCount reports the number of currently attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
