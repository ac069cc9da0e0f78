// Package dispatch fans decisions, incidents and alarms out to dashboard
// subscribers over one ordered stream. Publishing never blocks on a slow
// subscriber: each subscriber owns a bounded buffer that drops its oldest
// events and surfaces the gap as a missed marker.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gatewarden/internal/domain"
	"gatewarden/internal/platform/metrics"
)

// Dispatcher assigns stream sequence numbers and owns the subscriber set.
// A bounded replay window lets reconnecting subscribers resume from their
// last seen sequence instead of losing the gap.
type Dispatcher struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[*Subscriber]struct{}
	replay []domain.Event // ring, oldest first once full
	window int

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a dispatcher with the given replay window size.
func New(replayWindow int, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		subs:    make(map[*Subscriber]struct{}),
		replay:  make([]domain.Event, 0, replayWindow),
		window:  replayWindow,
		logger:  logger,
		metrics: m,
	}
}

// Publish stamps the event with the next sequence number and offers it to
// every subscriber. Never blocks; a full subscriber buffer drops its oldest
// event instead.
func (d *Dispatcher) Publish(event domain.Event) {
	d.mu.Lock()
	d.seq++
	event.Seq = d.seq
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	if d.window > 0 {
		if len(d.replay) == d.window {
			copy(d.replay, d.replay[1:])
			d.replay[len(d.replay)-1] = event
		} else {
			d.replay = append(d.replay, event)
		}
	}

	for sub := range d.subs {
		sub.offer(event)
	}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.EventsPublished.Inc()
	}
}

// PublishDecision publishes an entry decision to the stream.
func (d *Dispatcher) PublishDecision(e domain.DecisionEvent) {
	d.Publish(domain.Event{Kind: domain.EventDecision, Decision: &e})
}

// PublishIncident publishes an incident creation or update.
func (d *Dispatcher) PublishIncident(incident *domain.Incident, created bool) {
	kind := domain.EventIncidentUpdated
	if created {
		kind = domain.EventIncidentCreated
	}
	d.Publish(domain.Event{Kind: kind, Incident: incident})
}

// PublishAlarm publishes an operational alarm.
func (d *Dispatcher) PublishAlarm(a domain.AlarmEvent) {
	d.Publish(domain.Event{Kind: domain.EventAlarm, Alarm: &a})
}

// Subscribe registers a subscriber. A non-zero lastSeen resumes from the
// replay window; events older than the window are summarized as one missed
// marker so the subscriber knows its view has a gap.
func (d *Dispatcher) Subscribe(buffer int, lastSeen uint64) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscriber{
		buf:    make([]domain.Event, buffer),
		notify: make(chan struct{}, 1),
		d:      d,
	}

	d.mu.Lock()
	if lastSeen > 0 && lastSeen < d.seq {
		oldest := d.seq + 1
		if len(d.replay) > 0 {
			oldest = d.replay[0].Seq
		}
		if lastSeen+1 < oldest {
			sub.offer(domain.Event{
				Seq:    lastSeen,
				Kind:   domain.EventMissed,
				At:     time.Now().UTC(),
				Missed: oldest - lastSeen - 1,
			})
		}
		for _, event := range d.replay {
			if event.Seq > lastSeen {
				sub.offer(event)
			}
		}
	}
	d.subs[sub] = struct{}{}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.Subscribers.Inc()
	}
	return sub
}

// Unsubscribe removes a subscriber; its Next unblocks with ok=false.
func (d *Dispatcher) Unsubscribe(sub *Subscriber) {
	d.mu.Lock()
	_, present := d.subs[sub]
	delete(d.subs, sub)
	d.mu.Unlock()
	if !present {
		return
	}

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	sub.wake()

	if d.metrics != nil {
		d.metrics.Subscribers.Dec()
	}
}

// Subscriber is one stream consumer with a private bounded buffer.
type Subscriber struct {
	mu     sync.Mutex
	buf    []domain.Event // ring
	head   int
	count  int
	missed uint64
	closed bool
	notify chan struct{}
	d      *Dispatcher
}

// offer appends an event, dropping the oldest buffered event when full.
func (s *Subscriber) offer(event domain.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.count == len(s.buf) {
		s.head = (s.head + 1) % len(s.buf)
		s.count--
		s.missed++
		if s.d.metrics != nil {
			s.d.metrics.EventsDropped.Inc()
		}
	}
	s.buf[(s.head+s.count)%len(s.buf)] = event
	s.count++
	s.mu.Unlock()
	s.wake()
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the subscriber is closed, or ctx
// is done. When events were dropped since the last read, a missed marker is
// delivered first so consumers see the gap in order.
func (s *Subscriber) Next(ctx context.Context) (domain.Event, bool) {
	for {
		s.mu.Lock()
		if s.missed > 0 {
			marker := domain.Event{
				Kind:   domain.EventMissed,
				At:     time.Now().UTC(),
				Missed: s.missed,
			}
			s.missed = 0
			s.mu.Unlock()
			return marker, true
		}
		if s.count > 0 {
			event := s.buf[s.head]
			s.head = (s.head + 1) % len(s.buf)
			s.count--
			s.mu.Unlock()
			return event, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return domain.Event{}, false
		}

		select {
		case <-ctx.Done():
			return domain.Event{}, false
		case <-s.notify:
		}
	}
}
