package model

import (
	"strings"
	"testing"
	"time"
)

func TestSummaryFinishAddsOther(t *testing.T) {
	var s RunSummary
	s.Add("Instance launch", 20*time.Second)
	s.Add("Status checks", 90*time.Second)
	s.Finish(2 * time.Minute)

	if len(s.Stages) != 4 {
		t.Fatalf("got %d stages, want 4: %+v", len(s.Stages), s.Stages)
	}
	other := s.Stages[2]
	if other.Label != LabelOther || other.Elapsed != 10*time.Second {
		t.Errorf("other = %+v, want Other 10s", other)
	}
	total, ok := s.Total()
	if !ok || total != 2*time.Minute {
		t.Errorf("Total() = %v, %v", total, ok)
	}
}

func TestSummaryFinishWithoutGap(t *testing.T) {
	var s RunSummary
	s.Add("Image build", 30*time.Second)
	s.Finish(30 * time.Second)

	if len(s.Stages) != 2 {
		t.Fatalf("got %d stages, want 2", len(s.Stages))
	}
	if s.Stages[1].Label != LabelTotal {
		t.Errorf("last label = %q, want Total", s.Stages[1].Label)
	}
}

func TestSummaryInvariant(t *testing.T) {
	cases := [][]time.Duration{
		{},
		{time.Second},
		{3 * time.Second, 5 * time.Millisecond, time.Minute},
		{0, 0, 0},
	}
	for _, stages := range cases {
		for _, extra := range []time.Duration{0, time.Nanosecond, 7 * time.Second} {
			var s RunSummary
			var sum time.Duration
			for i, d := range stages {
				s.Add(strings.Repeat("s", i+1), d)
				sum += d
			}
			total := sum + extra
			s.Finish(total)

			var unaccounted time.Duration
			for _, st := range s.Stages {
				if st.Label == LabelOther {
					unaccounted = st.Elapsed
				}
			}
			if sum+unaccounted != total {
				t.Errorf("stages %v extra %v: sum %v + unaccounted %v != total %v", stages, extra, sum, unaccounted, total)
			}
		}
	}
}

func TestNewRunContext(t *testing.T) {
	start := time.Unix(1700000000, 250_000_000)
	rc := NewRunContext(start, "prod", "edx", "edxapp", "us-east-1", "42", "")

	if rc.RunID != "170000000025-abbey-prod-edx-edxapp" {
		t.Errorf("RunID = %q", rc.RunID)
	}
	if rc.StackName != "prod-edx" {
		t.Errorf("StackName = %q, want prod-edx", rc.StackName)
	}
	if rc.App() != "prod-edx-edxapp" {
		t.Errorf("App() = %q", rc.App())
	}
}
