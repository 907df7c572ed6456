// Package trace provides decision-trace recording for pipeline analysis:
// admission decisions of the memory monitor and outcomes of build stages.
// This package has no dependencies on sim/ or sim/flow/ and stores pure data types.
package trace

import "time"

// AdmissionRecord captures a single admission decision of the monitor.
type AdmissionRecord struct {
	Poll        int64 // poll sequence number, starting at 1
	Time        time.Time
	Admitted    bool
	Reason      string
	FreeMemory  uint64 // bytes
	Active      int    // busy pool slots
	Uncommitted int    // admission slots left after this decision
}

// StageOutcome classifies what a build stage did with one unit of work.
type StageOutcome string

const (
	// OutcomeEmitted: the stage function succeeded and the result went downstream.
	OutcomeEmitted StageOutcome = "emitted"
	// OutcomeCached: the result was restored from the snapshot cache.
	OutcomeCached StageOutcome = "cached"
	// OutcomeFailed: the stage function returned an error.
	OutcomeFailed StageOutcome = "failed"
	// OutcomeDiscarded: the result arrived after cancellation and was dropped.
	OutcomeDiscarded StageOutcome = "discarded"
)

// StageRecord captures one unit of work applied by a build stage.
type StageRecord struct {
	Stage   string
	Input   string // identity of the prototype
	Param   string // the axis value applied
	Output  string // identity of the result, empty on failure
	Outcome StageOutcome
	Err     string
	Elapsed time.Duration
}
