package sim

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ai4ci/jpansim4r/sim/stats"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// maxSnapshotSize bounds the decompressed envelope (1 GiB).
const maxSnapshotSize = 1 << 30

var (
	// ErrNotPersistent is returned when encoding a model that does not
	// implement Persistent.
	ErrNotPersistent = errors.New("model does not support snapshots")
	// ErrChecksum is returned when snapshot content does not match its header.
	ErrChecksum = errors.New("snapshot checksum mismatch")
)

// SnapshotHeader is the plain-text first line of a snapshot.
type SnapshotHeader struct {
	Version    int    `json:"version"`
	Model      string `json:"model"`
	ID         string `json:"id"`
	State      string `json:"state"`
	Steps      int64  `json:"steps"`
	Checksum   string `json:"checksum"`
	Compressed bool   `json:"compressed"`
}

type observerRecord struct {
	Name   string          `json:"name"`
	Kind   ObserverKind    `json:"kind"`
	Values json.RawMessage `json:"values"`
}

type agentRecord struct {
	Agent     int              `json:"agent"`
	Observers []observerRecord `json:"observers"`
}

type subjectObserverRecord struct {
	Subject int             `json:"subject"`
	Name    string          `json:"name"`
	Values  json.RawMessage `json:"values,omitempty"`
}

type observatoryRecord struct {
	Named    []subjectObserverRecord `json:"named"`
	Monitors []subjectObserverRecord `json:"monitors"`
}

type snapshotEnvelope struct {
	Model           string             `json:"model"`
	State           string             `json:"state"`
	JobDate         string             `json:"job_date"`
	SeedBase        int64              `json:"seed_base"`
	Seed            int64              `json:"seed"`
	ConfigBootstrap *int               `json:"config_bootstrap,omitempty"`
	ParamBootstrap  *int               `json:"param_bootstrap,omitempty"`
	ExecBootstrap   *int               `json:"exec_bootstrap,omitempty"`
	Steps           int64              `json:"steps"`
	Complete        bool               `json:"complete"`
	Sampler         []byte             `json:"sampler"`
	Payload         json.RawMessage    `json:"payload"`
	Simulation      []observerRecord   `json:"simulation_observers,omitempty"`
	Agents          []agentRecord      `json:"agent_observers,omitempty"`
	Observatory     *observatoryRecord `json:"observatory,omitempty"`
}

// Prototypes resolves ad-hoc monitor prototypes by name when a snapshot
// with an Observatory is decoded.
type Prototypes map[string]Observer

// EncodeSnapshot writes o as a header line followed by the gzip-compressed
// JSON envelope. The model must implement Persistent.
func EncodeSnapshot(w io.Writer, o *ObservedSimulation) error {
	p, ok := o.model.(Persistent)
	if !ok {
		return fmt.Errorf("%s: %w", o.ID(), ErrNotPersistent)
	}
	payload, err := p.MarshalState()
	if err != nil {
		return fmt.Errorf("%s: marshal model state: %w", o.ID(), err)
	}
	s := o.model.Sim()
	sampler, err := s.sampler.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%s: marshal sampler: %w", o.ID(), err)
	}
	env := snapshotEnvelope{
		Model:           p.ModelName(),
		State:           o.state.String(),
		JobDate:         s.jobDate.Format(DateFormat),
		SeedBase:        s.seedBase,
		Seed:            s.seed,
		ConfigBootstrap: s.configBootstrap,
		ParamBootstrap:  s.paramBootstrap,
		ExecBootstrap:   s.execBootstrap,
		Steps:           s.Steps(),
		Complete:        s.complete,
		Sampler:         sampler,
		Payload:         payload,
	}
	if env.Simulation, err = observerRecords(&s.observers); err != nil {
		return fmt.Errorf("%s: %w", o.ID(), err)
	}
	for _, a := range s.agents {
		if a.Core().observers.Len() == 0 {
			continue
		}
		recs, err := observerRecords(&a.Core().observers)
		if err != nil {
			return fmt.Errorf("%s: agent %d: %w", o.ID(), a.Core().ID(), err)
		}
		env.Agents = append(env.Agents, agentRecord{Agent: a.Core().ID(), Observers: recs})
	}
	if o.observatory != nil {
		rec, err := o.observatory.record()
		if err != nil {
			return fmt.Errorf("%s: %w", o.ID(), err)
		}
		env.Observatory = rec
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%s: marshal snapshot: %w", o.ID(), err)
	}
	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	sum := sha256.Sum256(compressed.Bytes())
	header := SnapshotHeader{
		Version:    SnapshotVersion,
		Model:      env.Model,
		ID:         o.ID(),
		State:      env.State,
		Steps:      env.Steps,
		Checksum:   "sha256:" + hex.EncodeToString(sum[:]),
		Compressed: true,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal snapshot header: %w", err)
	}
	if _, err := w.Write(append(headerBytes, '\n')); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshotHeader reads only the header line of a snapshot.
func ReadSnapshotHeader(r io.Reader) (*SnapshotHeader, error) {
	header, _, err := readHeader(bufio.NewReader(r))
	return header, err
}

func readHeader(br *bufio.Reader) (*SnapshotHeader, *bufio.Reader, error) {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot header: %w", err)
	}
	var header SnapshotHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, nil, fmt.Errorf("parse snapshot header: %w", err)
	}
	if header.Version != SnapshotVersion {
		return nil, nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	return &header, br, nil
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot. The model is
// constructed from the registry and restored through Persistent; monitors
// attached to an Observatory are re-created from prototypes.
func DecodeSnapshot(r io.Reader, prototypes Prototypes) (*ObservedSimulation, error) {
	header, br, err := readHeader(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	compressed, err := io.ReadAll(io.LimitReader(br, maxSnapshotSize))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	sum := sha256.Sum256(compressed)
	if got := "sha256:" + hex.EncodeToString(sum[:]); got != header.Checksum {
		return nil, fmt.Errorf("%s: %w", header.ID, ErrChecksum)
	}
	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	defer gzr.Close()
	var env snapshotEnvelope
	if err := json.NewDecoder(io.LimitReader(gzr, maxSnapshotSize)).Decode(&env); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return env.restore(prototypes)
}

func (env *snapshotEnvelope) restore(prototypes Prototypes) (*ObservedSimulation, error) {
	spec, ok := LookupModel(env.Model)
	if !ok {
		return nil, fmt.Errorf("snapshot of unregistered model %q", env.Model)
	}
	m := spec.New()
	p, ok := m.(Persistent)
	if !ok {
		return nil, fmt.Errorf("model %q: %w", env.Model, ErrNotPersistent)
	}
	state, err := ParseState(env.State)
	if err != nil {
		return nil, err
	}
	date, err := time.Parse(DateFormat, env.JobDate)
	if err != nil {
		return nil, fmt.Errorf("snapshot job date: %w", err)
	}

	s := m.Sim()
	s.jobDate = date
	s.seedBase = env.SeedBase
	s.seed = env.Seed
	s.configBootstrap = env.ConfigBootstrap
	s.paramBootstrap = env.ParamBootstrap
	s.execBootstrap = env.ExecBootstrap
	if err := p.UnmarshalState(env.Payload); err != nil {
		return nil, fmt.Errorf("restore model %q: %w", env.Model, err)
	}
	s.complete = env.Complete
	s.sampler = stats.NewSampler(env.Seed)
	if err := s.sampler.UnmarshalBinary(env.Sampler); err != nil {
		return nil, err
	}
	id := s.ID()
	if err := restoreObservers(&s.observers, env.Simulation); err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	for _, rec := range env.Agents {
		if rec.Agent < 0 || rec.Agent >= len(s.agents) {
			return nil, fmt.Errorf("%s: snapshot references agent %d of %d", id, rec.Agent, len(s.agents))
		}
		if err := restoreObservers(&s.agents[rec.Agent].Core().observers, rec.Observers); err != nil {
			return nil, fmt.Errorf("%s: agent %d: %w", id, rec.Agent, err)
		}
	}

	o := &ObservedSimulation{model: m, state: state}
	if env.Observatory != nil {
		if o.observatory, err = restoreObservatory(env.Observatory, prototypes); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
	}
	if state >= Ready {
		o.installSchedule(env.Steps)
	}
	return o, nil
}

func observerRecords(set *ObserverSet) ([]observerRecord, error) {
	out := make([]observerRecord, 0, set.Len())
	for _, obs := range set.All() {
		values, err := obs.MarshalValues()
		if err != nil {
			return nil, fmt.Errorf("observer %s: %w", obs.Name(), err)
		}
		out = append(out, observerRecord{Name: obs.Name(), Kind: obs.Kind(), Values: values})
	}
	return out, nil
}

func restoreObservers(set *ObserverSet, recs []observerRecord) error {
	for _, rec := range recs {
		obs, ok := set.Lookup(rec.Name)
		if !ok {
			return fmt.Errorf("%w: %s not re-registered on restore", ErrObserverNotFound, rec.Name)
		}
		if obs.Kind() != rec.Kind {
			return fmt.Errorf("observer %s: snapshot kind %s, registered kind %s", rec.Name, rec.Kind, obs.Kind())
		}
		if err := obs.UnmarshalValues(rec.Values); err != nil {
			return err
		}
	}
	return nil
}

func (o *Observatory) record() (*observatoryRecord, error) {
	rec := &observatoryRecord{}
	for _, ref := range o.named {
		rec.Named = append(rec.Named, subjectObserverRecord{Subject: int(ref.subject), Name: ref.name})
	}
	for _, mon := range o.monitors {
		values, err := mon.observer.MarshalValues()
		if err != nil {
			return nil, fmt.Errorf("monitor %s: %w", mon.observer.Name(), err)
		}
		rec.Monitors = append(rec.Monitors, subjectObserverRecord{
			Subject: int(mon.subject), Name: mon.observer.Name(), Values: values,
		})
	}
	return rec, nil
}

func restoreObservatory(rec *observatoryRecord, prototypes Prototypes) (*Observatory, error) {
	o := NewObservatory()
	for _, n := range rec.Named {
		key := namedRef{subject: subjectRef(n.Subject), name: n.Name}
		o.seen[key] = true
		o.named = append(o.named, key)
	}
	for _, m := range rec.Monitors {
		proto, ok := prototypes[m.Name]
		if !ok {
			return nil, fmt.Errorf("no monitor prototype named %s", m.Name)
		}
		obs := proto.Clone()
		if err := obs.UnmarshalValues(m.Values); err != nil {
			return nil, err
		}
		o.monitors = append(o.monitors, monitor{subject: subjectRef(m.Subject), observer: obs})
	}
	return o, nil
}
