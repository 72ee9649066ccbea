// Package events provides a typed listener registry used to fan
// connection and notification events out to interested consumers (UI
// windows, loggers) without coupling them to the producer.
package events

import "sync"

// Hub fans values out to registered listeners. Subscribe returns an
// unsubscribe handle; Publish calls every current listener in
// registration order. The zero value is not usable, call NewHub.
type Hub[T any] struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(T)
	order     []int
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{listeners: make(map[int]func(T))}
}

// Subscribe registers fn and returns a handle that removes it.
// Unsubscribing twice is a no-op.
func (h *Hub[T]) Subscribe(fn func(T)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.listeners[id]; !ok {
			return
		}
		delete(h.listeners, id)
		for i, v := range h.order {
			if v == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers v to every listener registered at call time. The
// listener snapshot is taken under the lock, so a listener may safely
// unsubscribe itself (or others) from within its callback.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	fns := make([]func(T), 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.listeners[id])
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of registered listeners.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
