package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ai4ci/jpansim4r/sim/trace"
)

// stageBufferSize bounds the prototypes a stage holds ahead of the one it
// is currently expanding.
const stageBufferSize = 4

// StageFunc advances one prototype with one parameter. It must not modify
// item: the same prototype is applied to every parameter.
type StageFunc[T, P any] func(ctx context.Context, item T, param P) (T, error)

type cacheMarkKey struct{}

// MarkCached records that the unit of work running with ctx was served from
// a cache rather than computed. Stages report such units as cached.
func MarkCached(ctx context.Context) {
	if hit, ok := ctx.Value(cacheMarkKey{}).(*atomic.Bool); ok {
		hit.Store(true)
	}
}

// StageOption configures a Stage.
type StageOption func(*stageOptions)

type stageOptions struct {
	policy  ErrorPolicy
	metrics *Metrics
	trace   *trace.PipelineTrace
}

// WithErrorPolicy sets the failure policy. Default PolicySkip.
func WithErrorPolicy(p ErrorPolicy) StageOption {
	return func(o *stageOptions) { o.policy = p }
}

// WithMetrics reports stage outcomes to m.
func WithMetrics(m *Metrics) StageOption {
	return func(o *stageOptions) { o.metrics = m }
}

// WithTrace records stage outcomes in pt.
func WithTrace(pt *trace.PipelineTrace) StageOption {
	return func(o *stageOptions) { o.trace = pt }
}

// Stage expands every upstream item against each of its parameters,
// emitting |upstream| × |params| items. Units of work run on a shared pool
// and results are forwarded as they finish, so output order is not
// defined.
//
// One mutex guards the buffer, the parameter position and the demand
// counters. Calls to upstream, downstream and the pool are made without it
// held, by whichever goroutine currently drains the stage.
type Stage[T, P any] struct {
	name     string
	upstream Publisher[T]
	fn       StageFunc[T, P]
	params   []P
	pool     *Pool
	opts     stageOptions
	ctx      context.Context
	cancel   context.CancelFunc

	mu           sync.Mutex
	downstream   Subscriber[T]
	upSub        Subscription
	buffer       []T
	current      T
	hasCurrent   bool
	nextParam    int
	demand       int64
	pendingUp    int64
	upstreamDone bool
	inFlight     int
	results      []T
	failure      error
	terminated   bool
	draining     bool
}

// NewStage creates a stage applying fn to the items of upstream. Work is
// submitted to pool with a context derived from ctx; cancelling ctx fails
// the stage downstream with ctx.Err().
func NewStage[T, P any](ctx context.Context, name string, upstream Publisher[T], fn StageFunc[T, P], params []P, pool *Pool, opts ...StageOption) *Stage[T, P] {
	o := stageOptions{policy: PolicySkip}
	for _, opt := range opts {
		opt(&o)
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Stage[T, P]{
		name:     name,
		upstream: upstream,
		fn:       fn,
		params:   append([]P(nil), params...),
		pool:     pool,
		opts:     o,
		ctx:      sctx,
		cancel:   cancel,
	}
	context.AfterFunc(sctx, s.drain)
	return s
}

// Name identifies the stage in logs, traces and metrics.
func (s *Stage[T, P]) Name() string { return s.name }

// Subscribe connects the single downstream subscriber and subscribes to
// upstream. Panics on a second subscriber.
func (s *Stage[T, P]) Subscribe(sub Subscriber[T]) {
	s.mu.Lock()
	if s.downstream != nil {
		s.mu.Unlock()
		panic(fmt.Sprintf("stage %s: already subscribed", s.name))
	}
	s.downstream = sub
	s.mu.Unlock()
	sub.OnSubscribe(&stageSubscription[T, P]{s: s})
	s.upstream.Subscribe(s)
}

// OnSubscribe receives the upstream subscription and prefetches one item.
func (s *Stage[T, P]) OnSubscribe(sub Subscription) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		sub.Cancel()
		return
	}
	s.upSub = sub
	s.pendingUp++
	s.mu.Unlock()
	sub.Request(1)
}

func (s *Stage[T, P]) OnNext(item T) {
	s.mu.Lock()
	if s.pendingUp > 0 {
		s.pendingUp--
	}
	if !s.terminated {
		s.buffer = append(s.buffer, item)
	}
	s.mu.Unlock()
	s.drain()
}

func (s *Stage[T, P]) OnError(err error) {
	s.mu.Lock()
	s.upstreamDone = true
	s.pendingUp = 0
	if s.opts.policy == PolicyHalt && s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
	if s.opts.policy != PolicyHalt {
		logrus.Warnf("[stage %s] upstream failed: %v; completing with items received", s.name, err)
	}
	s.drain()
}

func (s *Stage[T, P]) OnComplete() {
	s.mu.Lock()
	s.upstreamDone = true
	s.pendingUp = 0
	s.mu.Unlock()
	s.drain()
}

type stageSubscription[T, P any] struct {
	s *Stage[T, P]
}

func (ss *stageSubscription[T, P]) Request(n int64) {
	if n <= 0 {
		return
	}
	s := ss.s
	s.mu.Lock()
	s.demand += n
	s.mu.Unlock()
	s.drain()
}

// Cancel discards buffered and in-flight work and cancels upstream.
func (ss *stageSubscription[T, P]) Cancel() {
	s := ss.s
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.upstreamDone = true
	s.buffer = nil
	s.results = nil
	up := s.upSub
	s.mu.Unlock()
	s.cancel()
	if up != nil {
		up.Cancel()
	}
}

type actionKind int

const (
	actNone actionKind = iota
	actEmit
	actSubmit
	actRequestUp
	actComplete
	actFail
)

type stageAction[T, P any] struct {
	kind  actionKind
	item  T
	param P
	err   error
	up    Subscription
}

// drain performs pending actions until none remain. Only one goroutine
// drains at a time; others update state and return.
func (s *Stage[T, P]) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for {
		a := s.nextAction()
		if a.kind == actNone {
			s.draining = false
			s.mu.Unlock()
			return
		}
		down := s.downstream
		s.mu.Unlock()
		s.perform(a, down)
		s.mu.Lock()
	}
}

// nextAction picks the next thing to do. Called with s.mu held.
func (s *Stage[T, P]) nextAction() stageAction[T, P] {
	if s.terminated {
		return stageAction[T, P]{}
	}
	if s.failure == nil && s.ctx.Err() != nil {
		s.failure = s.ctx.Err()
	}
	if s.failure != nil {
		s.terminated = true
		s.buffer, s.results = nil, nil
		return stageAction[T, P]{kind: actFail, err: s.failure, up: s.upSub}
	}
	if len(s.results) > 0 {
		item := s.results[0]
		var zero T
		s.results[0] = zero
		s.results = s.results[1:]
		return stageAction[T, P]{kind: actEmit, item: item}
	}
	for s.demand > 0 || len(s.params) == 0 {
		if s.hasCurrent && s.nextParam < len(s.params) {
			p := s.params[s.nextParam]
			s.nextParam++
			s.demand--
			s.inFlight++
			return stageAction[T, P]{kind: actSubmit, item: s.current, param: p}
		}
		if len(s.buffer) == 0 {
			break
		}
		// Current prototype exhausted: take the next and refill behind it.
		var zero T
		s.current, s.hasCurrent, s.nextParam = s.buffer[0], true, 0
		s.buffer[0] = zero
		s.buffer = s.buffer[1:]
		if a, ok := s.refill(); ok {
			return a
		}
	}
	if s.hasCurrent && s.nextParam >= len(s.params) && len(s.buffer) == 0 {
		var zero T
		s.current, s.hasCurrent = zero, false
	}
	if !s.hasCurrent && len(s.buffer) == 0 && s.pendingUp == 0 && (s.demand > 0 || len(s.params) == 0) {
		if a, ok := s.refill(); ok {
			return a
		}
	}
	if s.upstreamDone && !s.hasCurrent && len(s.buffer) == 0 && s.inFlight == 0 {
		s.terminated = true
		return stageAction[T, P]{kind: actComplete}
	}
	return stageAction[T, P]{}
}

// refill requests one more upstream item unless the buffer would
// overflow. Called with s.mu held.
func (s *Stage[T, P]) refill() (stageAction[T, P], bool) {
	if s.upstreamDone || s.upSub == nil {
		return stageAction[T, P]{}, false
	}
	if int64(len(s.buffer))+s.pendingUp >= stageBufferSize {
		return stageAction[T, P]{}, false
	}
	s.pendingUp++
	return stageAction[T, P]{kind: actRequestUp, up: s.upSub}, true
}

func (s *Stage[T, P]) perform(a stageAction[T, P], down Subscriber[T]) {
	switch a.kind {
	case actEmit:
		down.OnNext(a.item)
	case actSubmit:
		item, param := a.item, a.param
		s.pool.Submit(s.ctx, func(ctx context.Context) error {
			s.apply(ctx, item, param)
			return nil
		})
	case actRequestUp:
		a.up.Request(1)
	case actComplete:
		logrus.Debugf("[stage %s] complete", s.name)
		s.cancel()
		down.OnComplete()
	case actFail:
		s.cancel()
		if a.up != nil {
			a.up.Cancel()
		}
		logrus.Errorf("[stage %s] halted: %v", s.name, a.err)
		down.OnError(a.err)
	}
}

// apply runs the stage function for one unit of work on a pool worker.
func (s *Stage[T, P]) apply(ctx context.Context, item T, param P) {
	start := time.Now()
	hit := new(atomic.Bool)
	out, err := s.fn(context.WithValue(ctx, cacheMarkKey{}, hit), item, param)
	rec := trace.StageRecord{
		Stage:   s.name,
		Input:   fmt.Sprint(item),
		Param:   fmt.Sprint(param),
		Elapsed: time.Since(start),
	}

	s.mu.Lock()
	s.inFlight--
	switch {
	case s.terminated:
		rec.Outcome = trace.OutcomeDiscarded
	case err != nil:
		rec.Outcome = trace.OutcomeFailed
		rec.Err = err.Error()
		if s.opts.policy == PolicyHalt {
			if s.failure == nil {
				s.failure = fmt.Errorf("stage %s: %s with %s: %w", s.name, rec.Input, rec.Param, err)
			}
		} else {
			s.demand++
		}
	default:
		rec.Outcome = trace.OutcomeEmitted
		if hit.Load() {
			rec.Outcome = trace.OutcomeCached
		}
		rec.Output = fmt.Sprint(out)
		s.results = append(s.results, out)
	}
	s.mu.Unlock()

	if rec.Outcome == trace.OutcomeFailed && s.opts.policy != PolicyHalt {
		logrus.Warnf("[stage %s] %s with %s failed: %v; branch skipped", s.name, rec.Input, rec.Param, err)
	}
	s.opts.trace.RecordStage(rec)
	s.opts.metrics.observeStage(s.name, string(rec.Outcome))
	s.drain()
}
