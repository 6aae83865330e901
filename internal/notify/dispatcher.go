package notify

import (
	"sync"
)

// DefaultQueueSize is used when a dispatcher is created with a non-positive size.
const DefaultQueueSize = 64

type subscriber[T any] struct {
	queue *Queue[T]
	fn    func(T)
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber[T]) stop() { s.once.Do(func() { close(s.done) }) }

// Dispatcher fans values out to observers. Every observer runs on its own
// goroutine and sees values in publish order.
type Dispatcher[T any] struct {
	mu     sync.Mutex
	subs   map[int]*subscriber[T]
	nextID int
	size   int
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher returns a dispatcher whose observers buffer up to queueSize values.
func NewDispatcher[T any](queueSize int) *Dispatcher[T] {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher[T]{subs: make(map[int]*subscriber[T]), size: queueSize}
}

// Subscribe registers fn and returns a function that removes it.
// Subscribing to a closed dispatcher returns a no-op cancel.
func (d *Dispatcher[T]) Subscribe(fn func(T)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return func() {}
	}
	id := d.nextID
	d.nextID++
	s := &subscriber[T]{queue: NewQueue[T](d.size), fn: fn, done: make(chan struct{})}
	d.subs[id] = s
	d.wg.Add(1)
	go d.run(s)
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
		s.stop()
	}
}

func (d *Dispatcher[T]) run(s *subscriber[T]) {
	defer d.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.queue.Ready():
			for _, v := range s.queue.Drain() {
				select {
				case <-s.done:
					return
				default:
				}
				s.fn(v)
			}
		}
	}
}

// Publish enqueues v for every observer. It never blocks on observer work.
func (d *Dispatcher[T]) Publish(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, s := range d.subs {
		s.queue.Push(v)
	}
}

// Dropped returns the total number of values discarded across observers.
func (d *Dispatcher[T]) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n uint64
	for _, s := range d.subs {
		n += s.queue.Dropped()
	}
	return n
}

// Len returns the number of registered observers.
func (d *Dispatcher[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Close stops every observer goroutine and waits for them to exit.
// Values still queued are discarded.
func (d *Dispatcher[T]) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := d.subs
	d.subs = make(map[int]*subscriber[T])
	d.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
	d.wg.Wait()
}
