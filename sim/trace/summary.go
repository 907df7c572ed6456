package trace

import "time"

// TraceSummary aggregates statistics from a PipelineTrace.
type TraceSummary struct {
	TotalDecisions  int
	AdmittedCount   int
	RejectedCount   int
	RejectReasons   map[string]int // reason → count of rejected polls
	StageOutcomes   map[string]map[StageOutcome]int
	FailedBranches  int
	MeanStageTime   time.Duration
	MaxStageTime    time.Duration
	SlowestStageRun string // output identity of the slowest successful unit
}

// Summarize computes aggregate statistics from a PipelineTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(pt *PipelineTrace) *TraceSummary {
	summary := &TraceSummary{
		RejectReasons: make(map[string]int),
		StageOutcomes: make(map[string]map[StageOutcome]int),
	}
	if pt == nil {
		return summary
	}

	admissions := pt.Admissions()
	summary.TotalDecisions = len(admissions)
	for _, a := range admissions {
		if a.Admitted {
			summary.AdmittedCount++
		} else {
			summary.RejectedCount++
			summary.RejectReasons[a.Reason]++
		}
	}

	var total time.Duration
	timed := 0
	for _, s := range pt.Stages() {
		byOutcome, ok := summary.StageOutcomes[s.Stage]
		if !ok {
			byOutcome = make(map[StageOutcome]int)
			summary.StageOutcomes[s.Stage] = byOutcome
		}
		byOutcome[s.Outcome]++
		switch s.Outcome {
		case OutcomeFailed:
			summary.FailedBranches++
		case OutcomeEmitted:
			total += s.Elapsed
			timed++
			if s.Elapsed > summary.MaxStageTime {
				summary.MaxStageTime = s.Elapsed
				summary.SlowestStageRun = s.Output
			}
		}
	}
	if timed > 0 {
		summary.MeanStageTime = total / time.Duration(timed)
	}

	return summary
}
