package sim

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNonRectangular is returned when the requested export columns hold
// different numbers of observations.
var ErrNonRectangular = errors.New("observations are not rectangular")

// simulationSubject marks a reference to the simulation rather than an agent.
const simulationSubject = -1

// subjectRef addresses an observed subject by agent index, so references
// survive deep copies of the simulation.
type subjectRef int

func (r subjectRef) resolve(m Model) Subject {
	if r == simulationSubject {
		return m
	}
	return m.Sim().Agent(int(r))
}

// exportID is the subject id written to result rows. Agent ids are
// qualified by the simulation id so rows from many runs stay distinct.
func (r subjectRef) exportID(m Model) string {
	if r == simulationSubject {
		return m.Sim().ID()
	}
	return m.Sim().ID() + idSeparator + strconv.Itoa(int(r))
}

type namedRef struct {
	subject subjectRef
	name    string
}

type monitor struct {
	subject  subjectRef
	observer Observer
}

// Observatory aggregates the observers of one simulation for export. It
// holds references to the named observers of the simulation and its agents,
// which their subjects advance, and ad-hoc monitors, which it advances
// itself once per tick.
//
// Thread-safety: NOT thread-safe. Owned by one simulation instance.
type Observatory struct {
	named    []namedRef
	seen     map[namedRef]bool
	monitors []monitor
}

// NewObservatory creates an empty observatory.
func NewObservatory() *Observatory {
	return &Observatory{seen: make(map[namedRef]bool)}
}

// ObserveSimulation attaches a copy of proto to the simulation itself.
// Returns false if proto cannot observe the model.
func (o *Observatory) ObserveSimulation(m Model, proto Observer) bool {
	if !proto.Accepts(m) {
		return false
	}
	o.monitors = append(o.monitors, monitor{subject: simulationSubject, observer: proto.Clone()})
	return true
}

// ObserveAgents attaches a copy of proto to every agent it accepts and
// returns how many were attached.
func (o *Observatory) ObserveAgents(m Model, proto Observer) int {
	n := 0
	for _, a := range m.Sim().Agents() {
		if !proto.Accepts(a) {
			continue
		}
		o.monitors = append(o.monitors, monitor{subject: subjectRef(a.Core().ID()), observer: proto.Clone()})
		n++
	}
	return n
}

// RegisterNamedObservers records every named observer of the simulation and
// its agents not already known. Returns how many were added.
func (o *Observatory) RegisterNamedObservers(m Model) int {
	n := 0
	add := func(ref subjectRef, names []string) {
		for _, name := range names {
			key := namedRef{subject: ref, name: name}
			if o.seen[key] {
				continue
			}
			o.seen[key] = true
			o.named = append(o.named, key)
			n++
		}
	}
	add(simulationSubject, m.Sim().observers.Names())
	for _, a := range m.Sim().Agents() {
		add(subjectRef(a.Core().ID()), a.Core().observers.Names())
	}
	return n
}

// NamedCount is the number of named observer references.
func (o *Observatory) NamedCount() int { return len(o.named) }

// MonitorCount is the number of ad-hoc monitors.
func (o *Observatory) MonitorCount() int { return len(o.monitors) }

// DoStep advances every monitor from its subject, whether or not the
// subject is active. It runs on every tick, including the one on which the
// simulation completes, so monitors stay as deep as named observers.
func (o *Observatory) DoStep(m Model) {
	for _, mon := range o.monitors {
		mon.observer.Update(mon.subject.resolve(m))
	}
}

// Clone copies the references and the retained values of every monitor.
func (o *Observatory) Clone() *Observatory {
	c := &Observatory{
		named:    append([]namedRef(nil), o.named...),
		seen:     make(map[namedRef]bool, len(o.seen)),
		monitors: make([]monitor, len(o.monitors)),
	}
	for k := range o.seen {
		c.seen[k] = true
	}
	for i, mon := range o.monitors {
		c.monitors[i] = monitor{subject: mon.subject, observer: mon.observer.Clone()}
	}
	return c
}

type boundObserver struct {
	subject  subjectRef
	observer Observer
}

// bound resolves every named reference and monitor, named first, in
// registration order.
func (o *Observatory) bound(m Model) []boundObserver {
	out := make([]boundObserver, 0, len(o.named)+len(o.monitors))
	for _, ref := range o.named {
		if obs, ok := ref.subject.resolve(m).NamedObserver(ref.name); ok {
			out = append(out, boundObserver{subject: ref.subject, observer: obs})
		}
	}
	for _, mon := range o.monitors {
		out = append(out, boundObserver{subject: mon.subject, observer: mon.observer})
	}
	return out
}

// Names lists the distinct observer names known to the observatory.
func (o *Observatory) Names(m Model) []string {
	seen := map[string]bool{}
	var names []string
	for _, b := range o.bound(m) {
		if !seen[b.observer.Name()] {
			seen[b.observer.Name()] = true
			names = append(names, b.observer.Name())
		}
	}
	sort.Strings(names)
	return names
}

// ObservationsByName returns, per export subject id, the observations
// recorded under name, newest first.
func (o *Observatory) ObservationsByName(m Model, name string) map[string][]any {
	out := map[string][]any{}
	for _, b := range o.bound(m) {
		if b.observer.Name() != name {
			continue
		}
		id := b.subject.exportID(m)
		out[id] = append(out[id], b.observer.Values()...)
	}
	return out
}

// ObservationsByKind returns observations of every observer of the given kind,
// keyed by observer name then export subject id.
func (o *Observatory) ObservationsByKind(m Model, kind ObserverKind) map[string]map[string][]any {
	out := map[string]map[string][]any{}
	for _, b := range o.bound(m) {
		if b.observer.Kind() != kind {
			continue
		}
		byID, ok := out[b.observer.Name()]
		if !ok {
			byID = map[string][]any{}
			out[b.observer.Name()] = byID
		}
		id := b.subject.exportID(m)
		byID[id] = append(byID[id], b.observer.Values()...)
	}
	return out
}

// Table is a rectangular export of several observation columns.
type Table struct {
	Columns []string
	// Subjects in registration order.
	Subjects []string
	// Values[column][subject] is newest first; every entry has length Depth.
	Values map[string]map[string][]any
	Depth  int
}

// Observations collects the named columns and checks that every column
// holds the same number of observations for every subject.
func (o *Observatory) Observations(m Model, columns []string) (*Table, error) {
	t := &Table{Columns: append([]string(nil), columns...), Values: map[string]map[string][]any{}}
	if len(columns) == 0 {
		return t, nil
	}
	bySize := map[int][]string{}
	for _, col := range columns {
		byID := o.ObservationsByName(m, col)
		size := 0
		for _, v := range byID {
			size += len(v)
		}
		bySize[size] = append(bySize[size], col)
		t.Values[col] = byID
	}
	if len(bySize) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrNonRectangular, describeSizes(bySize))
	}

	seen := map[string]bool{}
	for _, b := range o.bound(m) {
		id := b.subject.exportID(m)
		if _, ok := t.Values[columns[0]][id]; ok && !seen[id] {
			seen[id] = true
			t.Subjects = append(t.Subjects, id)
		}
	}
	for i, id := range t.Subjects {
		for _, col := range columns {
			n := len(t.Values[col][id])
			if i == 0 && col == columns[0] {
				t.Depth = n
			}
			if n != t.Depth {
				return nil, fmt.Errorf("%w: column %s has %d observations for %s, expected %d",
					ErrNonRectangular, col, n, id, t.Depth)
			}
		}
	}
	return t, nil
}

// Rows flattens the table into result rows. Each row holds the column
// values, then the subject id, exportStep, and the tick the value was
// recorded at: exportStep - (offset+1), offset 0 being the newest.
func (t *Table) Rows(exportStep int64) [][]string {
	rows := make([][]string, 0, len(t.Subjects)*t.Depth)
	for _, id := range t.Subjects {
		for offset := 0; offset < t.Depth; offset++ {
			row := make([]string, 0, len(t.Columns)+3)
			for _, col := range t.Columns {
				row = append(row, fmt.Sprint(t.Values[col][id][offset]))
			}
			row = append(row,
				id,
				strconv.FormatInt(exportStep, 10),
				strconv.FormatInt(exportStep-int64(offset+1), 10),
			)
			rows = append(rows, row)
		}
	}
	return rows
}

// Header is the result header for columns.
func Header(columns []string) []string {
	return append(append([]string(nil), columns...), "id", "exportTimestep", "timestep")
}

func describeSizes(bySize map[int][]string) string {
	sizes := make([]int, 0, len(bySize))
	for size := range bySize {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	parts := make([]string, 0, len(sizes))
	for _, size := range sizes {
		parts = append(parts, fmt.Sprintf("%d=[%s]", size, strings.Join(bySize[size], ",")))
	}
	return strings.Join(parts, " ")
}
