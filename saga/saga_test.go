package saga

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"abbey/model"
)

func testRun(play string) model.RunContext {
	return model.NewRunContext(time.Unix(1700000000, 0), "prod", "edx", play, "us-east-1", "42", "")
}

func TestSagaStepsAppend(t *testing.T) {
	store := NewMemoryStore()
	rc := testRun("edxapp")
	sg := New(store, rc)
	ctx := context.Background()

	sg.StepStart(ctx, model.StageLaunching)
	sg.StepComplete(ctx, model.StageLaunching, 1500*time.Millisecond)
	sg.StepFailed(ctx, model.StageWaitRunning, errors.New("timeout"))

	events, err := store.ListBySaga(ctx, sg.ID)
	if err != nil {
		t.Fatalf("ListBySaga: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if d, ok := Elapsed(events[1]); !ok || d != 1500*time.Millisecond {
		t.Errorf("Elapsed = %v, %v; want 1.5s", d, ok)
	}
	if events[2].Action != ActionStepFailed || events[2].Metadata[MetaError] != "timeout" {
		t.Errorf("failed event = %+v", events[2])
	}
	if events[2].Stage() != model.StageWaitRunning {
		t.Errorf("Stage() = %q", events[2].Stage())
	}
	for _, e := range events {
		if e.ID == "" || e.SagaID != sg.ID || e.App != "prod-edx-edxapp" {
			t.Errorf("bad event %+v", e)
		}
		if e.Source != SourceAbbey || e.Category != CategoryBake || e.Metadata[MetaRunID] != rc.RunID {
			t.Errorf("event not tagged with the run: %+v", e)
		}
	}
}

func TestSagaLogKeepsCallerMetadata(t *testing.T) {
	store := NewMemoryStore()
	sg := New(store, testRun("edxapp"))
	meta := map[string]string{"key": "play"}
	sg.Log(context.Background(), ActionTagFailed, "throttled", meta)

	events, _ := store.ListBySaga(context.Background(), sg.ID)
	if events[0].Metadata["key"] != "play" {
		t.Errorf("metadata = %v", events[0].Metadata)
	}
	if _, ok := meta[MetaRunID]; ok {
		t.Error("caller's map was modified")
	}
}

func TestNilSagaIsNoop(t *testing.T) {
	var sg *Saga
	if err := sg.StepStart(context.Background(), model.StageLaunching); err != nil {
		t.Errorf("nil saga: %v", err)
	}
}

func TestMemoryStoreNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a := New(store, testRun("edxapp"))
	b := New(store, testRun("forum"))
	a.Log(ctx, ActionBakeStart, "a1", nil)
	b.Log(ctx, ActionBakeStart, "b1", nil)
	a.Log(ctx, ActionBakeComplete, "a2", nil)

	recent, _ := store.ListRecent(ctx, 2)
	if len(recent) != 2 || recent[0].Message != "a2" || recent[1].Message != "b1" {
		t.Errorf("ListRecent = %+v", recent)
	}

	byApp, _ := store.ListByApp(ctx, "prod-edx-edxapp", 0)
	if len(byApp) != 2 || byApp[0].Message != "a2" {
		t.Errorf("ListByApp = %+v", byApp)
	}
}

func TestPlainFormatter(t *testing.T) {
	ts := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	out := PlainFormatter{}.Format([]Event{
		{Timestamp: ts, Action: ActionStepStart, Message: "launching started"},
		{Timestamp: ts, Action: ActionStepComplete, Message: "launching completed", Metadata: map[string]string{MetaElapsedMs: "2500"}},
		{Timestamp: ts, Action: ActionBakeFailed, Message: "bake failed"},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0] != "15:04:05 ▶ launching started" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "15:04:05 ✓ launching completed [2.5s]" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "✗") {
		t.Errorf("line 2 = %q", lines[2])
	}
}
