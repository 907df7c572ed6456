package sim

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// ObserverKind tags the retention policy of an Observer.
type ObserverKind string

const (
	// KindHistory keeps a newest-first sequence of values, optionally bounded.
	KindHistory ObserverKind = "history"
	// KindLast keeps only the newest value.
	KindLast ObserverKind = "last"
	// KindListHistory keeps a newest-first sequence of per-tick lists.
	KindListHistory ObserverKind = "list-history"
)

// Subject is anything observers can be attached to: a simulation or an agent.
type Subject interface {
	SubjectID() string
	Observers() []Observer
	NamedObserver(name string) (Observer, bool)
	RegisterNamedObserver(o Observer) error
}

// Observer records a time series derived from one subject.
//
// Update is called at most once per tick by the registrar that owns the
// observer and must not be called concurrently for the same instance.
// Reads return fresh copies and are safe alongside that single writer.
type Observer interface {
	Name() string
	Kind() ObserverKind
	// ElemType is the type of a single observation.
	ElemType() reflect.Type
	// MaxElements is the retention bound, 0 meaning unbounded.
	MaxElements() int
	// Accepts reports whether the observer can be updated from s.
	Accepts(s Subject) bool
	Update(s Subject)
	// Len is the number of flattened observations currently retained.
	Len() int
	// Values returns the flattened observations, newest first.
	Values() []any
	// Clone copies the retained values. The mapper is shared.
	Clone() Observer
	MarshalValues() ([]byte, error)
	UnmarshalValues(data []byte) error
}

// Typed exposes the observations of an Observer with element type X.
type Typed[X any] interface {
	Observer
	Observation() []X
	LastObservation() (X, bool)
}

func subjectAs[S Subject](name string, s Subject) S {
	subj, ok := s.(S)
	if !ok {
		var zero S
		panic(fmt.Sprintf("observer %q expects subject %T, got %T", name, zero, s))
	}
	return subj
}

func acceptsSubject[S Subject](s Subject) bool {
	_, ok := s.(S)
	return ok
}

// === History ===

// History evaluates its mapper each tick and keeps the yielded values,
// newest first, dropping the oldest beyond MaxElements.
type History[S Subject, X any] struct {
	name   string
	max    int
	mapper func(S) (X, bool)

	mu     sync.Mutex
	values []X // oldest first
}

// NewHistory creates a History observer. max <= 0 keeps every value.
func NewHistory[S Subject, X any](name string, max int, mapper func(S) (X, bool)) *History[S, X] {
	if max < 0 {
		max = 0
	}
	return &History[S, X]{name: name, max: max, mapper: mapper}
}

func (h *History[S, X]) Name() string           { return h.name }
func (h *History[S, X]) Kind() ObserverKind     { return KindHistory }
func (h *History[S, X]) ElemType() reflect.Type { return reflect.TypeFor[X]() }
func (h *History[S, X]) MaxElements() int       { return h.max }
func (h *History[S, X]) Accepts(s Subject) bool { return acceptsSubject[S](s) }

func (h *History[S, X]) Update(s Subject) {
	v, ok := h.mapper(subjectAs[S](h.name, s))
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, v)
	if h.max > 0 && len(h.values) > h.max {
		n := copy(h.values, h.values[len(h.values)-h.max:])
		clear(h.values[n:])
		h.values = h.values[:n]
	}
}

func (h *History[S, X]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.values)
}

// Observation returns a copy of the retained values, newest first.
func (h *History[S, X]) Observation() []X {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]X, len(h.values))
	for i, v := range h.values {
		out[len(h.values)-1-i] = v
	}
	return out
}

func (h *History[S, X]) LastObservation() (X, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.values) == 0 {
		var zero X
		return zero, false
	}
	return h.values[len(h.values)-1], true
}

func (h *History[S, X]) Values() []any { return toAny(h.Observation()) }

func (h *History[S, X]) Clone() Observer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &History[S, X]{name: h.name, max: h.max, mapper: h.mapper, values: append([]X(nil), h.values...)}
}

func (h *History[S, X]) MarshalValues() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return json.Marshal(h.values)
}

func (h *History[S, X]) UnmarshalValues(data []byte) error {
	var values []X
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("observer %s: %w", h.name, err)
	}
	h.mu.Lock()
	h.values = values
	h.mu.Unlock()
	return nil
}

// === Last ===

// Last keeps the newest value its mapper yielded.
type Last[S Subject, X any] struct {
	name   string
	mapper func(S) (X, bool)

	mu    sync.Mutex
	value X
	has   bool
}

// NewLast creates a Last observer.
func NewLast[S Subject, X any](name string, mapper func(S) (X, bool)) *Last[S, X] {
	return &Last[S, X]{name: name, mapper: mapper}
}

func (l *Last[S, X]) Name() string           { return l.name }
func (l *Last[S, X]) Kind() ObserverKind     { return KindLast }
func (l *Last[S, X]) ElemType() reflect.Type { return reflect.TypeFor[X]() }
func (l *Last[S, X]) MaxElements() int       { return 1 }
func (l *Last[S, X]) Accepts(s Subject) bool { return acceptsSubject[S](s) }

func (l *Last[S, X]) Update(s Subject) {
	v, ok := l.mapper(subjectAs[S](l.name, s))
	if !ok {
		return
	}
	l.mu.Lock()
	l.value, l.has = v, true
	l.mu.Unlock()
}

func (l *Last[S, X]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.has {
		return 1
	}
	return 0
}

// Observation returns a zero- or one-element slice.
func (l *Last[S, X]) Observation() []X {
	v, ok := l.LastObservation()
	if !ok {
		return []X{}
	}
	return []X{v}
}

func (l *Last[S, X]) LastObservation() (X, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.has
}

func (l *Last[S, X]) Values() []any { return toAny(l.Observation()) }

func (l *Last[S, X]) Clone() Observer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Last[S, X]{name: l.name, mapper: l.mapper, value: l.value, has: l.has}
}

type lastState[X any] struct {
	Has   bool `json:"has"`
	Value X    `json:"value"`
}

func (l *Last[S, X]) MarshalValues() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.Marshal(lastState[X]{Has: l.has, Value: l.value})
}

func (l *Last[S, X]) UnmarshalValues(data []byte) error {
	var st lastState[X]
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("observer %s: %w", l.name, err)
	}
	l.mu.Lock()
	l.value, l.has = st.Value, st.Has
	l.mu.Unlock()
	return nil
}

// === ListHistory ===

// ListHistory keeps one list per tick, newest first, bounded by the number
// of ticks retained rather than the number of elements.
type ListHistory[S Subject, X any] struct {
	name   string
	max    int
	mapper func(S) []X

	mu      sync.Mutex
	entries [][]X // oldest first
}

// NewListHistory creates a ListHistory observer. max <= 0 keeps every tick.
func NewListHistory[S Subject, X any](name string, max int, mapper func(S) []X) *ListHistory[S, X] {
	if max < 0 {
		max = 0
	}
	return &ListHistory[S, X]{name: name, max: max, mapper: mapper}
}

func (lh *ListHistory[S, X]) Name() string           { return lh.name }
func (lh *ListHistory[S, X]) Kind() ObserverKind     { return KindListHistory }
func (lh *ListHistory[S, X]) ElemType() reflect.Type { return reflect.TypeFor[X]() }
func (lh *ListHistory[S, X]) MaxElements() int       { return lh.max }
func (lh *ListHistory[S, X]) Accepts(s Subject) bool { return acceptsSubject[S](s) }

func (lh *ListHistory[S, X]) Update(s Subject) {
	list := append([]X(nil), lh.mapper(subjectAs[S](lh.name, s))...)
	lh.mu.Lock()
	defer lh.mu.Unlock()
	lh.entries = append(lh.entries, list)
	if lh.max > 0 && len(lh.entries) > lh.max {
		n := copy(lh.entries, lh.entries[len(lh.entries)-lh.max:])
		clear(lh.entries[n:])
		lh.entries = lh.entries[:n]
	}
}

func (lh *ListHistory[S, X]) Len() int {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	n := 0
	for _, e := range lh.entries {
		n += len(e)
	}
	return n
}

// Observation flattens the retained lists, newest tick first.
func (lh *ListHistory[S, X]) Observation() []X {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	var out []X
	for i := len(lh.entries) - 1; i >= 0; i-- {
		out = append(out, lh.entries[i]...)
	}
	if out == nil {
		out = []X{}
	}
	return out
}

// ObservationList returns the per-tick lists, newest tick first.
func (lh *ListHistory[S, X]) ObservationList() [][]X {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	out := make([][]X, 0, len(lh.entries))
	for i := len(lh.entries) - 1; i >= 0; i-- {
		out = append(out, append([]X(nil), lh.entries[i]...))
	}
	return out
}

func (lh *ListHistory[S, X]) LastObservation() (X, bool) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	for i := len(lh.entries) - 1; i >= 0; i-- {
		if e := lh.entries[i]; len(e) > 0 {
			return e[0], true
		}
	}
	var zero X
	return zero, false
}

func (lh *ListHistory[S, X]) Values() []any { return toAny(lh.Observation()) }

func (lh *ListHistory[S, X]) Clone() Observer {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	entries := make([][]X, len(lh.entries))
	for i, e := range lh.entries {
		entries[i] = append([]X(nil), e...)
	}
	return &ListHistory[S, X]{name: lh.name, max: lh.max, mapper: lh.mapper, entries: entries}
}

func (lh *ListHistory[S, X]) MarshalValues() ([]byte, error) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	return json.Marshal(lh.entries)
}

func (lh *ListHistory[S, X]) UnmarshalValues(data []byte) error {
	var entries [][]X
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("observer %s: %w", lh.name, err)
	}
	lh.mu.Lock()
	lh.entries = entries
	lh.mu.Unlock()
	return nil
}

func toAny[X any](xs []X) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}
