// Package flow implements the demand-driven build pipeline: a supplier of
// prototypes, a chain of expanding stages, and a terminal consumer whose
// memory-aware monitor decides how much work is admitted.
//
// Signals follow the reactive-streams protocol. A subscriber receives
// OnSubscribe first, then at most as many OnNext calls as it requested,
// then at most one of OnComplete or OnError. Signals to one subscriber are
// never concurrent.
package flow

// Subscription links one subscriber to one publisher.
type Subscription interface {
	// Request adds n units of demand. n <= 0 is ignored.
	Request(n int64)
	// Cancel stops delivery. In-flight work is abandoned, not interrupted.
	Cancel()
}

// Subscriber receives the items of a Publisher.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(item T)
	OnError(err error)
	OnComplete()
}

// Publisher produces items for a single subscriber on demand.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}
