// Package broadcast fans pipeline events out to live observers.
//
// Subscriptions are keyed by incident ID, or AllIncidents for the global
// stream. Publish never blocks: every subscription owns a bounded buffer and
// the oldest queued event is discarded when a slow reader lets it fill up.
// There is no replay; a new subscriber only sees events published after it
// subscribed.
package broadcast

import (
	"sync"
	"sync/atomic"

	"guardian/core"
	"guardian/metrics"

	"go.uber.org/zap"
)

// AllIncidents subscribes to every incident's events.
const AllIncidents = "ALL"

// DefaultBuffer is used when NewBroadcaster is given a non-positive size.
const DefaultBuffer = 64

// Forwarder receives every locally published event, e.g. to relay it to
// other instances. Forward must not block.
type Forwarder interface {
	Forward(event core.Event)
}

// Subscription is one observer's event stream.
type Subscription struct {
	key     string
	b       *Broadcaster
	events  chan core.Event
	mu      sync.Mutex // serializes offer and close
	closed  bool
	dropped atomic.Uint64
}

// Events returns the receive side. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan core.Event {
	return s.events
}

// IncidentID returns the subscribed incident, or AllIncidents.
func (s *Subscription) IncidentID() string {
	return s.key
}

// Dropped reports how many events this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.remove(s)
}

// offer queues ev, evicting the oldest queued event when the buffer is full.
func (s *Subscription) offer(ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case <-s.events:
			s.dropped.Add(1)
			metrics.EventsDropped.Inc()
		default:
		}
	}
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Broadcaster is an in-process pub/sub hub for core.Event values.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string]map[*Subscription]struct{}
	buffer    int
	forwarder Forwarder
	logger    *zap.SugaredLogger
}

// NewBroadcaster creates a hub whose subscriptions buffer up to buffer events.
func NewBroadcaster(buffer int, logger *zap.SugaredLogger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Broadcaster{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// SetForwarder installs a relay for published events. Events delivered via
// Deliver are never forwarded.
func (b *Broadcaster) SetForwarder(f Forwarder) {
	b.mu.Lock()
	b.forwarder = f
	b.mu.Unlock()
}

// Subscribe registers an observer for incidentID. An empty ID or
// AllIncidents subscribes to the global stream.
func (b *Broadcaster) Subscribe(incidentID string) *Subscription {
	if incidentID == "" {
		incidentID = AllIncidents
	}
	sub := &Subscription{
		key:    incidentID,
		b:      b,
		events: make(chan core.Event, b.buffer),
	}

	b.mu.Lock()
	set, ok := b.subs[incidentID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[incidentID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	metrics.Subscribers.Inc()
	b.logger.Debugw("Event subscription opened", "incident_id", incidentID)
	return sub
}

// Publish delivers ev to local subscribers and hands it to the forwarder.
func (b *Broadcaster) Publish(ev core.Event) {
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	fwd := b.deliver(ev)
	if fwd != nil {
		fwd.Forward(ev)
	}
}

// Deliver fans ev out to local subscribers only.
func (b *Broadcaster) Deliver(ev core.Event) {
	b.deliver(ev)
}

func (b *Broadcaster) deliver(ev core.Event) Forwarder {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[ev.IncidentID] {
		sub.offer(ev)
	}
	if ev.IncidentID != AllIncidents {
		for sub := range b.subs[AllIncidents] {
			sub.offer(ev)
		}
	}
	return b.forwarder
}

// SubscriberCount returns the number of open subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	set, ok := b.subs[sub.key]
	_, present := set[sub]
	if ok && present {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.key)
		}
	}
	b.mu.Unlock()

	if present {
		metrics.Subscribers.Dec()
		b.logger.Debugw("Event subscription closed", "incident_id", sub.key, "dropped", sub.Dropped())
	}
	sub.shut()
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	var all []*Subscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		metrics.Subscribers.Dec()
		sub.shut()
	}
}
