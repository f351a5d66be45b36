package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"abbey/event"
	"abbey/reorder"
)

// RemoteFailureError means the configuration run on the instance reported a
// failed task.
type RemoteFailureError struct {
	Source  string
	Details map[string]any
}

func (e *RemoteFailureError) Error() string {
	var b strings.Builder
	b.WriteString("remote configuration run failed")
	if e.Source != "" {
		fmt.Fprintf(&b, " on %s", e.Source)
	}
	if msg, ok := e.Details["msg"]; ok {
		fmt.Fprintf(&b, ": %v", msg)
	}
	return b.String()
}

// waitRemoteCompletion consumes the progress queue until enough
// run.complete events have been delivered. There is no overall timeout:
// the configuration run takes as long as it takes.
func (p *Pipeline) waitRemoteCompletion(ctx context.Context, st *RunState) (time.Duration, error) {
	start := time.Now()
	buf := reorder.New(p.Options.DelayWindow)

	for {
		fetched, failure, err := p.fetch(ctx, st, buf)
		if err != nil {
			return time.Since(start), err
		}
		if failure != nil {
			for evt := range buf.Flush() {
				p.deliver(ctx, st, evt)
			}
			p.Reporter.Close()
			return time.Since(start), failure
		}

		for evt := range buf.Drain() {
			p.deliver(ctx, st, evt)
			if evt.Kind != event.KindRunComplete {
				continue
			}
			st.Completions++
			if st.Completions >= p.Options.CompletionSignals {
				p.Reporter.Close()
				return time.Since(start), nil
			}
		}

		if fetched == 0 {
			if err := sleep(ctx, p.Options.QueueBackoff); err != nil {
				return time.Since(start), err
			}
		}
	}
}

// fetch empties the queue into buf. It stops early, returning the failure,
// when a run.failure event arrives.
func (p *Pipeline) fetch(ctx context.Context, st *RunState, buf *reorder.Buffer) (int, *RemoteFailureError, error) {
	fetched := 0
	for {
		raws, err := p.Queue.Receive(ctx, st.QueueHandle)
		if err != nil {
			return fetched, nil, err
		}
		if len(raws) == 0 {
			return fetched, nil, nil
		}
		fetched += len(raws)

		var failure *RemoteFailureError
		for _, raw := range raws {
			if err := p.Queue.Delete(ctx, st.QueueHandle, raw); err != nil {
				log.Printf("pipeline: %v", err)
			}

			evt, err := buf.Push(raw)
			if err != nil {
				var de *event.DecodeError
				if errors.As(err, &de) {
					log.Printf("pipeline: dropping message %s: %v", raw.ID, err)
					p.Reporter.Malformed(err)
					continue
				}
				return fetched, nil, err
			}
			if evt.Kind == event.KindRunFailure && failure == nil {
				failure = &RemoteFailureError{Source: evt.Source, Details: evt.Details}
			}
		}
		if failure != nil {
			return fetched, failure, nil
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, st *RunState, evt event.Event) {
	st.Events++
	p.Reporter.Handle(evt)
	p.eventDelivered(ctx, st, evt)
}
