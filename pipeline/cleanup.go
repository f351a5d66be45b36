package pipeline

import (
	"context"
	"log"
	"time"

	"abbey/model"
	"abbey/saga"
)

// cleanup deletes the queue and terminates the instance. It runs on a
// context detached from the run's so that an interrupted run still releases
// what it created. Each release is attempted regardless of the other.
func (p *Pipeline) cleanup(parent context.Context, st *RunState) {
	if st.QueueHandle == "" && st.InstanceID == "" {
		return
	}
	if p.Options.NoCleanup {
		log.Printf("pipeline: cleanup skipped, leaving instance %q and queue %q", st.InstanceID, st.QueueHandle)
		return
	}

	timeout := p.Options.CleanupTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	defer cancel()

	start := time.Now()
	p.stageStarted(ctx, st, model.StageCleanup)
	if st.QueueHandle != "" {
		if err := p.Queue.Destroy(ctx, st.QueueHandle); err != nil {
			log.Printf("pipeline: cleanup: %v", err)
		} else {
			p.Saga.Log(ctx, saga.ActionCleanup, "removed queue "+p.Context.RunID, nil)
		}
	}
	if st.InstanceID != "" {
		if err := p.Compute.Terminate(ctx, st.InstanceID); err != nil {
			log.Printf("pipeline: cleanup: %v", err)
		} else {
			p.Saga.Log(ctx, saga.ActionCleanup, "terminated instance "+st.InstanceID, nil)
		}
	}
	p.stageFinished(ctx, st, model.StageCleanup, time.Since(start))
}
