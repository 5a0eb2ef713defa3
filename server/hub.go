package main

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var wsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "matchbook_ws_dropped_total",
	Help: "Messages dropped on lagging websocket subscribers, by stream",
}, []string{"stream"})

type subscription[T any] struct {
	ch chan T
}

// hub fans one stream out to any number of websocket subscribers. Slow
// subscribers lose messages instead of stalling the broadcast.
type hub[T any] struct {
	name string
	mu   sync.RWMutex
	subs map[*subscription[T]]struct{}
}

func newHub[T any](name string) *hub[T] {
	return &hub[T]{name: name, subs: make(map[*subscription[T]]struct{})}
}

func (h *hub[T]) Subscribe(buffer int) *subscription[T] {
	sub := &subscription[T]{ch: make(chan T, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub[T]) Unsubscribe(sub *subscription[T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	close(sub.ch)
}

func (h *hub[T]) Broadcast(value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- value:
		default:
			wsDroppedTotal.WithLabelValues(h.name).Inc()
		}
	}
}
