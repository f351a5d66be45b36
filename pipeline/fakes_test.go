package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"abbey/event"
	"abbey/model"
	"abbey/poll"
	"abbey/saga"
)

type fakeCompute struct {
	mu          sync.Mutex
	launched    *model.LaunchSpec
	states      []string // returned in turn, last one repeats
	stateCalls  int
	statusCalls int
	terminated  []string
}

func (f *fakeCompute) Launch(_ context.Context, spec model.LaunchSpec) (string, error) {
	f.launched = &spec
	return "i-0abc", nil
}

func (f *fakeCompute) InstanceState(_ context.Context, id string) (string, error) {
	f.stateCalls++
	if len(f.states) == 0 {
		return "running", nil
	}
	i := min(f.stateCalls-1, len(f.states)-1)
	return f.states[i], nil
}

func (f *fakeCompute) SystemStatus(_ context.Context, id string) (string, error) {
	f.statusCalls++
	if f.statusCalls == 1 {
		return "initializing", nil
	}
	return "ok", nil
}

func (f *fakeCompute) Terminate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, id)
	return nil
}

type fakeImages struct {
	created    int
	stateCalls int
	tagged     []Tag
	failTag    string
}

func (f *fakeImages) CreateImage(_ context.Context, instanceID, name, description string) (string, error) {
	f.created++
	return "ami-0baked", nil
}

func (f *fakeImages) ImageState(_ context.Context, imageID string) (string, error) {
	f.stateCalls++
	switch f.stateCalls {
	case 1:
		return "", fmt.Errorf("%w: InvalidAMIID.NotFound", poll.ErrNotReady)
	case 2:
		return "pending", nil
	}
	return "available", nil
}

func (f *fakeImages) Tag(_ context.Context, imageID, key, value string) error {
	f.tagged = append(f.tagged, Tag{Key: key, Value: value})
	if key == f.failTag {
		return errors.New("RequestLimitExceeded")
	}
	return nil
}

// fakeQueue hands out one batch per Receive call, then nothing.
type fakeQueue struct {
	mu        sync.Mutex
	name      string
	batches   [][]event.RawEvent
	deleted   int
	destroyed bool
}

func (f *fakeQueue) Create(_ context.Context, name string) (string, error) {
	f.name = name
	return "https://sqs.example/" + name, nil
}

func (f *fakeQueue) Receive(ctx context.Context, handle string) ([]event.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeQueue) Delete(_ context.Context, handle string, raw event.RawEvent) error {
	f.deleted++
	return nil
}

func (f *fakeQueue) Destroy(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.destroyed = true
	return nil
}

// raws wraps bodies as messages received well before now.
func raws(bodies ...string) []event.RawEvent {
	at := time.Now().Add(-time.Minute)
	out := make([]event.RawEvent, len(bodies))
	for i, b := range bodies {
		out[i] = event.RawEvent{
			ID:         fmt.Sprintf("m%d", i),
			Handle:     fmt.Sprintf("r%d", i),
			SentAt:     at,
			ReceivedAt: at,
			Body:       []byte(b),
		}
	}
	return out
}

type recordingObserver struct {
	started  []model.Stage
	finished []model.Stage
	failed   []model.Stage
	events   []event.Kind
}

func (o *recordingObserver) StageStarted(stage model.Stage, _ string) {
	o.started = append(o.started, stage)
}

func (o *recordingObserver) StageFinished(stage model.Stage, _ time.Duration, err error) {
	if err != nil {
		o.failed = append(o.failed, stage)
		return
	}
	o.finished = append(o.finished, stage)
}

func (o *recordingObserver) EventDelivered(evt event.Event) {
	o.events = append(o.events, evt.Kind)
}

// cancelAwareStore refuses writes on a done context, as a database
// driver does.
type cancelAwareStore struct {
	*saga.MemoryStore
}

func (s cancelAwareStore) Append(ctx context.Context, evt *saga.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Append(ctx, evt)
}
