package pipeline

import (
	"context"
	"fmt"
	"time"

	"abbey/poll"
)

// Instance states from which "running" is no longer reachable.
var deadStates = map[string]bool{
	"shutting-down": true,
	"terminated":    true,
	"stopping":      true,
	"stopped":       true,
}

func (p *Pipeline) waitRunning(ctx context.Context, st *RunState) (time.Duration, error) {
	opts := poll.Options{
		Subject:     fmt.Sprintf("instance %s to reach running", st.InstanceID),
		Interval:    p.Options.PollInterval,
		MaxAttempts: p.Options.RunningAttempts,
	}
	return poll.Until(ctx, opts, func(ctx context.Context) (bool, error) {
		state, err := p.Compute.InstanceState(ctx, st.InstanceID)
		if err != nil {
			return false, err
		}
		if deadStates[state] {
			return false, fmt.Errorf("instance %s is %s", st.InstanceID, state)
		}
		return state == "running", nil
	})
}

func (p *Pipeline) waitSystemStatus(ctx context.Context, st *RunState) (time.Duration, error) {
	opts := poll.Options{
		Subject:     fmt.Sprintf("system status checks on %s", st.InstanceID),
		Interval:    p.Options.PollInterval,
		MaxAttempts: p.Options.StatusAttempts,
	}
	return poll.Until(ctx, opts, func(ctx context.Context) (bool, error) {
		status, err := p.Compute.SystemStatus(ctx, st.InstanceID)
		if err != nil {
			return false, err
		}
		return status == "ok", nil
	})
}
