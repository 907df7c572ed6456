package sim

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrObserverNotFound is returned when no observer is registered under a name.
	ErrObserverNotFound = errors.New("observer name not defined")
	// ErrObservationType is returned when a named observer holds a different element type.
	ErrObservationType = errors.New("incorrect type specified for observer")
	// ErrDuplicateObserver is returned when a name is already registered on a subject.
	ErrDuplicateObserver = errors.New("observer name already registered")
)

// ObservationTypeError reports a typed lookup against an observer of another element type.
type ObservationTypeError struct {
	Name string
	Want reflect.Type
	Got  reflect.Type
}

func (e *ObservationTypeError) Error() string {
	return fmt.Sprintf("%v %q: requested %v, observer holds %v", ErrObservationType, e.Name, e.Want, e.Got)
}

func (e *ObservationTypeError) Unwrap() error { return ErrObservationType }

// ObserverSet is the named-observer registry of a single subject.
// The zero value is ready to use. Iteration follows registration order.
//
// Thread-safety: NOT thread-safe. Registration happens during the build
// stages, which own the subject exclusively.
type ObserverSet struct {
	byName map[string]Observer
	order  []string
}

// Register adds o under its name, failing with ErrDuplicateObserver if taken.
func (set *ObserverSet) Register(o Observer) error {
	if _, ok := set.byName[o.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateObserver, o.Name())
	}
	set.Replace(o)
	return nil
}

// Replace adds o under its name, replacing any observer already there.
func (set *ObserverSet) Replace(o Observer) {
	if set.byName == nil {
		set.byName = make(map[string]Observer)
	}
	if _, ok := set.byName[o.Name()]; !ok {
		set.order = append(set.order, o.Name())
	}
	set.byName[o.Name()] = o
}

// Lookup returns the observer registered under name.
func (set *ObserverSet) Lookup(name string) (Observer, bool) {
	o, ok := set.byName[name]
	return o, ok
}

// All returns the observers in registration order.
func (set *ObserverSet) All() []Observer {
	out := make([]Observer, 0, len(set.order))
	for _, name := range set.order {
		out = append(out, set.byName[name])
	}
	return out
}

// Names returns the registered names in registration order.
func (set *ObserverSet) Names() []string {
	return append([]string(nil), set.order...)
}

// Len is the number of registered observers.
func (set *ObserverSet) Len() int { return len(set.order) }

// UpdateAll advances every registered observer from s.
func (set *ObserverSet) UpdateAll(s Subject) {
	for _, name := range set.order {
		set.byName[name].Update(s)
	}
}

// Clone deep-copies the registry and the retained values of every observer.
func (set *ObserverSet) Clone() ObserverSet {
	out := ObserverSet{order: append([]string(nil), set.order...)}
	if set.byName != nil {
		out.byName = make(map[string]Observer, len(set.byName))
		for name, o := range set.byName {
			out.byName[name] = o.Clone()
		}
	}
	return out
}

// NamedObservation returns the observations recorded on s under name,
// newest first, checking that the observer holds elements of type X.
func NamedObservation[X any](s Subject, name string) ([]X, error) {
	t, err := typedObserver[X](s, name)
	if err != nil {
		return nil, err
	}
	return t.Observation(), nil
}

// LastNamedObservation returns the newest observation recorded on s under name.
func LastNamedObservation[X any](s Subject, name string) (X, bool, error) {
	t, err := typedObserver[X](s, name)
	if err != nil {
		var zero X
		return zero, false, err
	}
	v, ok := t.LastObservation()
	return v, ok, nil
}

func typedObserver[X any](s Subject, name string) (Typed[X], error) {
	o, ok := s.NamedObserver(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrObserverNotFound, name, s.SubjectID())
	}
	t, ok := o.(Typed[X])
	if !ok {
		return nil, &ObservationTypeError{Name: name, Want: reflect.TypeFor[X](), Got: o.ElemType()}
	}
	return t, nil
}

// KeepHistory registers a bounded History of mapper on s.
func KeepHistory[S Subject, X any](s S, name string, max int, mapper func(S) (X, bool)) error {
	return s.RegisterNamedObserver(NewHistory(name, max, mapper))
}

// KeepFullHistory registers an unbounded History of mapper on s.
func KeepFullHistory[S Subject, X any](s S, name string, mapper func(S) (X, bool)) error {
	return s.RegisterNamedObserver(NewHistory(name, 0, mapper))
}

// KeepLastValue registers a Last observer of mapper on s.
func KeepLastValue[S Subject, X any](s S, name string, mapper func(S) (X, bool)) error {
	return s.RegisterNamedObserver(NewLast(name, mapper))
}

// KeepHistoryList registers a ListHistory of mapper on s.
func KeepHistoryList[S Subject, X any](s S, name string, max int, mapper func(S) []X) error {
	return s.RegisterNamedObserver(NewListHistory(name, max, mapper))
}

// Always adapts a plain extractor into an observer mapper that always yields.
func Always[S any, X any](f func(S) X) func(S) (X, bool) {
	return func(s S) (X, bool) { return f(s), true }
}
