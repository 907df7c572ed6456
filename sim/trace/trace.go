package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures admission decisions and stage outcomes.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	// RecordRejections keeps admission polls that did not admit. They
	// dominate the trace of a long job, so they are off by default.
	RecordRejections bool
}

// PipelineTrace collects decision records during a pipeline run. Records
// arrive from the monitor goroutine and from pool workers.
//
// Thread-safety: safe for concurrent use. A nil *PipelineTrace records nothing.
type PipelineTrace struct {
	Config TraceConfig

	mu         sync.Mutex
	admissions []AdmissionRecord
	stages     []StageRecord
}

// NewPipelineTrace creates a PipelineTrace ready for recording, or nil if
// the level is none.
func NewPipelineTrace(config TraceConfig) *PipelineTrace {
	if config.Level == TraceLevelNone || config.Level == "" {
		return nil
	}
	return &PipelineTrace{
		Config:     config,
		admissions: make([]AdmissionRecord, 0),
		stages:     make([]StageRecord, 0),
	}
}

// RecordAdmission appends an admission decision record.
func (pt *PipelineTrace) RecordAdmission(record AdmissionRecord) {
	if pt == nil || (!record.Admitted && !pt.Config.RecordRejections) {
		return
	}
	pt.mu.Lock()
	pt.admissions = append(pt.admissions, record)
	pt.mu.Unlock()
}

// RecordStage appends a stage outcome record.
func (pt *PipelineTrace) RecordStage(record StageRecord) {
	if pt == nil {
		return
	}
	pt.mu.Lock()
	pt.stages = append(pt.stages, record)
	pt.mu.Unlock()
}

// Admissions returns a copy of the admission records in arrival order.
func (pt *PipelineTrace) Admissions() []AdmissionRecord {
	if pt == nil {
		return nil
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return append([]AdmissionRecord(nil), pt.admissions...)
}

// Stages returns a copy of the stage records in arrival order.
func (pt *PipelineTrace) Stages() []StageRecord {
	if pt == nil {
		return nil
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return append([]StageRecord(nil), pt.stages...)
}
