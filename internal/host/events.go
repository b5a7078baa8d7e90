package host

import (
	"fmt"
	"sync"
)

// OpenedEvent is raised once the listener accepts calls.
type OpenedEvent struct {
	Service string
}

// ClosedEvent is raised once the listener has shut down gracefully.
type ClosedEvent struct {
	Service string
}

// FaultInfo is the payload of the faulted event. It wraps the cause.
type FaultInfo struct {
	Service string
	Op      string
	Err     error
}

func (f *FaultInfo) Error() string {
	return fmt.Sprintf("host: %s: %s failed: %v", f.Service, f.Op, f.Err)
}

func (f *FaultInfo) Unwrap() error {
	return f.Err
}

// observers is an ordered subscriber list. Emitting with no subscribers is a
// no-op.
type observers[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers []observer[T]
}

type observer[T any] struct {
	id int
	fn func(T)
}

// add registers fn and returns a func that removes it.
func (o *observers[T]) add(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.handlers = append(o.handlers, observer[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *observers[T]) remove(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, h := range o.handlers {
		if h.id == id {
			o.handlers = append(o.handlers[:i:i], o.handlers[i+1:]...)
			return
		}
	}
}

func (o *observers[T]) emit(v T) {
	o.mu.Lock()
	handlers := make([]observer[T], len(o.handlers))
	copy(handlers, o.handlers)
	o.mu.Unlock()
	for _, h := range handlers {
		h.fn(v)
	}
}

func (o *observers[T]) clear() {
	o.mu.Lock()
	o.handlers = nil
	o.mu.Unlock()
}

func (o *observers[T]) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handlers)
}
