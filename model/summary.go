package model

import "time"

const (
	LabelOther = "Other"
	LabelTotal = "Total"
)

type StageResult struct {
	Label   string        `json:"label"`
	Elapsed time.Duration `json:"elapsed"`
}

// RunSummary is the ordered list of stage timings for a run. Entries are
// only ever appended.
type RunSummary struct {
	Stages []StageResult `json:"stages"`
}

func (s *RunSummary) Add(label string, elapsed time.Duration) {
	s.Stages = append(s.Stages, StageResult{Label: label, Elapsed: elapsed})
}

// Sum adds up every entry recorded so far.
func (s *RunSummary) Sum() time.Duration {
	var sum time.Duration
	for _, st := range s.Stages {
		sum += st.Elapsed
	}
	return sum
}

// Finish closes the summary: time not covered by any stage is recorded as
// "Other" when positive, and the run total is always the final entry.
func (s *RunSummary) Finish(total time.Duration) {
	if unaccounted := total - s.Sum(); unaccounted > 0 {
		s.Add(LabelOther, unaccounted)
	}
	s.Add(LabelTotal, total)
}

// Total returns the final entry if Finish has been called.
func (s *RunSummary) Total() (time.Duration, bool) {
	if len(s.Stages) == 0 || s.Stages[len(s.Stages)-1].Label != LabelTotal {
		return 0, false
	}
	return s.Stages[len(s.Stages)-1].Elapsed, true
}
