package flow

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ai4ci/jpansim4r/sim/trace"
)

const (
	// DefaultMemoryThreshold is the free memory required before a new
	// simulation is admitted (2 GiB).
	DefaultMemoryThreshold uint64 = 2 << 30
	// DefaultPollInterval is how often the monitor re-evaluates admission.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultSummaryInterval is how often the monitor logs utilisation.
	DefaultSummaryInterval = 10 * time.Second
)

// MonitorConfig configures a Monitor. Zero fields take the defaults.
type MonitorConfig struct {
	Threshold       uint64
	Interval        time.Duration
	SummaryInterval time.Duration
	Probe           MemoryProbe
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Threshold == 0 {
		c.Threshold = DefaultMemoryThreshold
	}
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = DefaultSummaryInterval
	}
	if c.Probe == nil {
		c.Probe = DefaultMemoryProbe()
	}
	return c
}

// Monitor is the admission controller of a Consumer. On every poll it
// requests one more item from upstream if free memory exceeds the
// threshold, the pool has an idle worker, and an uncommitted slot remains.
// Slots are consumed by admissions and returned by Release, and never
// exceed the pool size, so at most that many admitted simulations exist
// at once.
//
// Thread-safety: safe for concurrent use.
type Monitor struct {
	cfg     MonitorConfig
	pool    *Pool
	metrics *Metrics
	trace   *trace.PipelineTrace

	mu           sync.Mutex
	sub          Subscription
	uncommitted  int
	paused       bool
	upstreamDone bool
	polls        int64
	admitted     int64
	lastFree     uint64
	lastReason   string
	lastSummary  time.Time
}

// NewMonitor creates a monitor gating admissions to pool.
func NewMonitor(pool *Pool, cfg MonitorConfig, metrics *Metrics, pt *trace.PipelineTrace) *Monitor {
	return &Monitor{
		cfg:         cfg.withDefaults(),
		pool:        pool,
		metrics:     metrics,
		trace:       pt,
		uncommitted: pool.Size(),
	}
}

// Attach sets the subscription admissions are requested from.
func (m *Monitor) Attach(sub Subscription) {
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
}

// Pause stops admissions until Resume.
func (m *Monitor) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

func (m *Monitor) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// UpstreamDone stops admissions permanently.
func (m *Monitor) UpstreamDone() {
	m.mu.Lock()
	m.upstreamDone = true
	m.mu.Unlock()
}

// Release returns one admission slot, capped at the pool size.
func (m *Monitor) Release() {
	m.mu.Lock()
	if m.uncommitted < m.pool.Size() {
		m.uncommitted++
	}
	m.mu.Unlock()
}

// Uncommitted is the number of admission slots left.
func (m *Monitor) Uncommitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uncommitted
}

// Admitted is the total number of admissions so far.
func (m *Monitor) Admitted() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitted
}

// Run polls every interval until ctx is cancelled or upstream is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		m.poll()
		m.mu.Lock()
		done := m.upstreamDone
		m.mu.Unlock()
		if done {
			logrus.Debugf("[monitor] upstream complete after %d admissions", m.Admitted())
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll makes one admission decision and reports whether it admitted.
func (m *Monitor) poll() bool {
	free, probeErr := m.cfg.Probe()

	m.mu.Lock()
	m.polls++
	m.lastFree = free
	reason := "admitted"
	switch {
	case m.sub == nil:
		reason = "not attached"
	case m.upstreamDone:
		reason = "upstream complete"
	case m.paused:
		reason = "paused"
	case probeErr != nil:
		reason = "memory probe failed"
	case free <= m.cfg.Threshold:
		reason = "low memory"
	case m.pool.Idle() <= 0:
		reason = "no idle worker"
	case m.uncommitted <= 0:
		reason = "no uncommitted slot"
	}
	admit := reason == "admitted"
	if admit {
		m.uncommitted--
		m.admitted++
	}
	sub := m.sub
	rec := trace.AdmissionRecord{
		Poll:        m.polls,
		Time:        time.Now(),
		Admitted:    admit,
		Reason:      reason,
		FreeMemory:  free,
		Active:      m.pool.Active(),
		Uncommitted: m.uncommitted,
	}
	changed := reason != m.lastReason
	m.lastReason = reason
	summarise := time.Since(m.lastSummary) >= m.cfg.SummaryInterval
	if summarise {
		m.lastSummary = rec.Time
	}
	m.mu.Unlock()

	if probeErr != nil && changed {
		logrus.Warnf("[monitor] memory probe failed: %v", probeErr)
	}
	m.trace.RecordAdmission(rec)
	m.metrics.observePoll(free, rec.Uncommitted, admit)
	if summarise || (changed && !admit) {
		logrus.Infof("[monitor] [%d/%d] %s, free memory %dMB, %d admitted, %d uncommitted",
			rec.Active, m.pool.Size(), reason, free>>20, m.Admitted(), rec.Uncommitted)
	}
	if admit {
		logrus.Debugf("[monitor] [%d/%d] admitting one simulation", rec.Active, m.pool.Size())
		sub.Request(1)
	}
	return admit
}
