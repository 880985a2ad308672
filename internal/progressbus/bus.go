package progressbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxSubscriberBuffer bounds how many undelivered events a slow subscriber
// may accumulate before the bus starts dropping its oldest progress/log
// events. complete/error events are never dropped.
const MaxSubscriberBuffer = 256

// Subscription is a live handle to a job's event stream, returned by
// Bus.Subscribe. Events arrives in publish order; Cancel releases the
// subscription's resources and is safe to call more than once.
type Subscription struct {
	Events <-chan Event

	jobID string
	id    string
	bus   *Bus

	cancelOnce sync.Once
}

// Cancel stops delivery and releases the subscription's buffer. Idempotent.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.bus.unsubscribe(s.jobID, s.id)
	})
}

// subscriber is the bus-internal state backing one Subscription.
type subscriber struct {
	id  string
	out chan Event

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
}

func newSubscriber(id string) *subscriber {
	return &subscriber{
		id:     id,
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// enqueue appends an event to the subscriber's bounded queue. If the queue
// is at capacity, the oldest queued progress or log event is dropped to
// make room; publish never blocks on a slow subscriber.
func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	if len(s.queue) >= MaxSubscriberBuffer {
		for i := range s.queue {
			if s.queue[i].Kind == EventProgress || s.queue[i].Kind == EventLog {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump drains the queue into the subscriber's output channel, blocking only
// the subscriber's own delivery (never the publisher) when out is full.
// It exits once cancelled or after delivering a terminal event.
func (s *subscriber) pump(bus *Bus, jobID string) {
	defer close(s.out)
	for {
		select {
		case <-s.notify:
		case <-s.done:
			return
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- ev:
			case <-s.done:
				return
			}

			if ev.IsTerminal() {
				bus.unsubscribe(jobID, s.id)
				return
			}
		}
	}
}

// Bus is the in-process publish/subscribe broadcaster for job events.
// Publishers are single-threaded per job (the PipelineExecutor); any number
// of subscribers may attach to a job id.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]*subscriber
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[string]map[string]*subscriber),
	}
}

// Subscribe attaches a new subscription to jobID's event stream.
func (b *Bus) Subscribe(jobID string) *Subscription {
	sub := newSubscriber(uuid.NewString())

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[string]*subscriber)
	}
	b.subs[jobID][sub.id] = sub
	b.mu.Unlock()

	go sub.pump(b, jobID)

	return &Subscription{
		Events: sub.out,
		jobID:  jobID,
		id:     sub.id,
		bus:    b,
	}
}

// Publish broadcasts an event to every subscriber of jobID. Non-blocking:
// a slow or stalled subscriber never delays the publisher.
func (b *Bus) Publish(jobID string, event Event) {
	event.JobID = jobID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := b.subs[jobID]
	targets := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(event)
	}
}

// SubscriberCount returns the number of live subscriptions for jobID, for
// diagnostics and tests.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}

func (b *Bus) unsubscribe(jobID, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[jobID]
	if subs == nil {
		return
	}
	if sub, ok := subs[id]; ok {
		delete(subs, id)
		select {
		case <-sub.done:
		default:
			close(sub.done)
		}
	}
	if len(subs) == 0 {
		delete(b.subs, jobID)
	}
}
