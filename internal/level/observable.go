package level

import "sync"

// Observable fans out published snapshots to subscribers. It keeps the most
// recent value so new subscribers get an immediate sample. Publish is meant
// to be called from a single goroutine; slow subscribers miss values rather
// than block the publisher.
type Observable struct {
	mu       sync.RWMutex
	subs     map[int]chan Snapshot
	nextID   int
	last     Snapshot
	haveLast bool
	closed   bool
}

func NewObservable() *Observable {
	return &Observable{subs: make(map[int]chan Snapshot)}
}

// Subscribe registers a subscriber and replays the latest value to it. After
// CloseAll it returns an already-closed channel that is not registered.
func (o *Observable) Subscribe(buffer int) (int, <-chan Snapshot) {
	if o == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan Snapshot, buffer)
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	if o.closed {
		close(ch)
		return id, ch
	}
	o.subs[id] = ch
	if o.haveLast {
		select {
		case ch <- o.last:
		default:
		}
	}
	return id, ch
}

func (o *Observable) Unsubscribe(id int) {
	if o == nil {
		return
	}
	o.mu.Lock()
	ch, ok := o.subs[id]
	if ok {
		delete(o.subs, id)
		close(ch)
	}
	o.mu.Unlock()
}

// Subscribers returns the current subscriber count.
func (o *Observable) Subscribers() int {
	if o == nil {
		return 0
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}

func (o *Observable) Publish(s Snapshot) {
	if o == nil {
		return
	}
	// Hold the write lock across the fan-out so Unsubscribe cannot close a
	// channel mid-send.
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last = s
	o.haveLast = true
	for _, ch := range o.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Latest returns the last published snapshot, if any.
func (o *Observable) Latest() (Snapshot, bool) {
	if o == nil {
		return Snapshot{}, false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last, o.haveLast
}

// CloseAll unsubscribes every subscriber and rejects later subscriptions.
func (o *Observable) CloseAll() {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
