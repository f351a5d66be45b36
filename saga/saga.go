package saga

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"abbey/model"
)

// Every event abbey writes carries this source and category, so one table
// can be shared with other tools.
const (
	SourceAbbey   = "abbey"
	CategoryBake  = "bake"
	MetaRunID     = "runId"
	MetaStage     = "stage"
	MetaElapsedMs = "elapsedMs"
	MetaError     = "error"
)

// Actions written to the log.
const (
	ActionStepStart    = "step.start"
	ActionStepComplete = "step.complete"
	ActionStepFailed   = "step.failed"
	ActionBakeStart    = "bake.start"
	ActionBakeComplete = "bake.complete"
	ActionBakeFailed   = "bake.failed"
	ActionCleanup      = "bake.cleanup"
	ActionTagFailed    = "bake.tag_failed"
)

type Event struct {
	ID        string            `json:"id"`
	SagaID    string            `json:"sagaId"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	App       string            `json:"app"`
	Category  string            `json:"category"`
	Action    string            `json:"action"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Stage returns the bake stage the event belongs to, if any.
func (e Event) Stage() model.Stage {
	return model.Stage(e.Metadata[MetaStage])
}

type Store interface {
	Append(ctx context.Context, evt *Event) error
	ListBySaga(ctx context.Context, sagaID string) ([]Event, error)
	ListByApp(ctx context.Context, app string, limit int) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Saga is the event log of one bake. Every event it writes is tagged with
// the run id; the saga id is separate so a retried run id stays distinct.
type Saga struct {
	ID    string
	Run   model.RunContext
	store Store
	now   func() time.Time
}

func New(store Store, rc model.RunContext) *Saga {
	return &Saga{ID: uuid.New().String(), Run: rc, store: store, now: time.Now}
}

func (s *Saga) Log(ctx context.Context, action, message string, metadata map[string]string) error {
	if s == nil || s.store == nil {
		return nil
	}
	meta := map[string]string{MetaRunID: s.Run.RunID}
	for k, v := range metadata {
		meta[k] = v
	}
	return s.store.Append(ctx, &Event{
		ID:        uuid.New().String(),
		SagaID:    s.ID,
		Timestamp: s.now(),
		Source:    SourceAbbey,
		App:       s.Run.App(),
		Category:  CategoryBake,
		Action:    action,
		Message:   message,
		Metadata:  meta,
	})
}

func (s *Saga) StepStart(ctx context.Context, stage model.Stage) error {
	return s.Log(ctx, ActionStepStart, fmt.Sprintf("%s started", stage), map[string]string{MetaStage: string(stage)})
}

func (s *Saga) StepComplete(ctx context.Context, stage model.Stage, elapsed time.Duration) error {
	return s.Log(ctx, ActionStepComplete, fmt.Sprintf("%s completed", stage), map[string]string{
		MetaStage:     string(stage),
		MetaElapsedMs: strconv.FormatInt(elapsed.Milliseconds(), 10),
	})
}

func (s *Saga) StepFailed(ctx context.Context, stage model.Stage, err error) error {
	return s.Log(ctx, ActionStepFailed, fmt.Sprintf("%s failed: %v", stage, err), map[string]string{
		MetaStage: string(stage),
		MetaError: err.Error(),
	})
}
