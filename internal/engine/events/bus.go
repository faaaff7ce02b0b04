package events

import (
	"sync"
	"time"
)

// MaxBacklog is how many undelivered messages beyond its buffer a subscriber
// may accumulate before it is dropped from the bus.
const MaxBacklog = 8192

// subscriber owns a queue drained into ch by its pump goroutine, so a slow
// reader never blocks the publisher.
type subscriber struct {
	ch    chan any // unbuffered; the queue is the buffer
	limit int      // backlog at which intermediate progress is dropped

	mu       sync.Mutex
	queue    []any
	inflight int  // dequeued but not yet taken by the reader
	closing  bool // deliver the queue, then close ch

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{
		ch:    make(chan any),
		limit: max(buffer, 1),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// backlog counts messages the reader has not taken yet. Caller holds s.mu.
func (s *subscriber) backlog() int {
	return len(s.queue) + s.inflight
}

// offer queues msg and reports false when the subscriber is too far behind.
func (s *subscriber) offer(msg any, reliable bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return true
	}
	n := s.backlog()
	if !reliable && n >= s.limit {
		return true
	}
	if n >= s.limit+MaxBacklog {
		return false
	}
	s.queue = append(s.queue, msg)
	s.signal()
	return true
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stop abandons undelivered messages and closes ch.
func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// drain closes ch once the queued messages have been taken.
func (s *subscriber) drain() {
	s.mu.Lock()
	s.closing = true
	s.signal()
	s.mu.Unlock()
}

func (s *subscriber) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		msg := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.inflight = 1
		s.mu.Unlock()

		select {
		case s.ch <- msg:
		case <-s.done:
			return
		}

		s.mu.Lock()
		s.inflight = 0
		s.mu.Unlock()
	}
}

// Bus fans messages out to subscribers without ever blocking the publisher.
// Status, log and final progress messages are delivered in order; intermediate
// progress is dropped for subscribers whose backlog has reached their buffer
// size. A subscriber that falls MaxBacklog messages further behind is
// unsubscribed and its channel closed.
type Bus struct {
	mu     sync.Mutex // guards subs, nextID, closed
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a new subscriber. The returned func unsubscribes,
// discards undelivered messages and closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe(buffer int) (<-chan any, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := newSubscriber(buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.pump()
	return s.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	}
}

// Publish delivers msg to every subscriber. It never blocks.
func (b *Bus) Publish(msg any) {
	reliable := Reliable(msg)

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		if !s.offer(msg, reliable) {
			delete(b.subs, id)
			s.stop()
		}
	}
}

// Subscribers returns the number of live subscribers
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Messages already published are still
// delivered before each channel closes. Later Subscribe calls get a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.drain()
	}
}

// Throttle rate-limits intermediate progress per task.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	last     map[string]time.Time
}

// NewThrottle creates a throttle. A nil clock uses time.Now.
func NewThrottle(interval time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		interval: interval,
		now:      now,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether an event for id may be emitted now, and records it if so.
func (t *Throttle) Allow(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.last[id]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[id] = now
	return true
}

// Forget drops the state kept for id
func (t *Throttle) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, id)
}
