package flow

import "sync"

// Supplier publishes a fixed list of items on demand and then completes.
// Each subscriber receives the whole list.
type Supplier[T any] struct {
	items []T
}

// NewSupplier creates a supplier of items.
func NewSupplier[T any](items ...T) *Supplier[T] {
	return &Supplier[T]{items: items}
}

func (s *Supplier[T]) Subscribe(sub Subscriber[T]) {
	ss := &supplierSubscription[T]{items: s.items, sub: sub}
	sub.OnSubscribe(ss)
	if len(s.items) == 0 {
		ss.Request(1)
	}
}

type supplierSubscription[T any] struct {
	items []T
	sub   Subscriber[T]

	mu       sync.Mutex
	next     int
	demand   int64
	draining bool
	done     bool
}

func (ss *supplierSubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	ss.mu.Lock()
	ss.demand += n
	if ss.draining {
		ss.mu.Unlock()
		return
	}
	ss.draining = true
	for !ss.done {
		if ss.next >= len(ss.items) {
			ss.done = true
			ss.mu.Unlock()
			ss.sub.OnComplete()
			ss.mu.Lock()
			break
		}
		if ss.demand == 0 {
			break
		}
		item := ss.items[ss.next]
		ss.next++
		ss.demand--
		ss.mu.Unlock()
		ss.sub.OnNext(item)
		ss.mu.Lock()
	}
	ss.draining = false
	ss.mu.Unlock()
}

func (ss *supplierSubscription[T]) Cancel() {
	ss.mu.Lock()
	ss.done = true
	ss.mu.Unlock()
}
