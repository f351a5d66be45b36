package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"abbey/hub"
	"abbey/model"
	"abbey/poll"
	"abbey/saga"
	"abbey/userdata"
)

// Tag is one key/value applied to the finished image.
type Tag struct {
	Key   string
	Value string
}

// Versions records which configuration revisions produced the image.
type Versions struct {
	Configuration       string
	ConfigurationSecure string
	SecureRepo          string
}

// ImageTags lists the image tags in the order they are applied: the run
// identity, the configuration versions, the cache id, then one refs:<repo>
// tag per git ref.
func ImageTags(rc model.RunContext, v Versions, refs []userdata.GitRef) []Tag {
	tags := []Tag{
		{Key: "environment", Value: rc.Environment},
		{Key: "deployment", Value: rc.Deployment},
		{Key: "play", Value: rc.Play},
		{Key: "configuration_ref", Value: v.Configuration},
		{Key: "configuration_secure_ref", Value: v.ConfigurationSecure},
		{Key: "configuration_secure_repo", Value: v.SecureRepo},
		{Key: "cache_id", Value: rc.CacheID},
	}
	for _, r := range refs {
		tags = append(tags, Tag{Key: "refs:" + r.Repo, Value: r.Ref})
	}
	return tags
}

func (p *Pipeline) snapshot(ctx context.Context, st *RunState) (time.Duration, error) {
	start := time.Now()
	name := p.Context.RunID
	id, err := p.Images.CreateImage(ctx, st.InstanceID, name, name)
	if err != nil {
		return time.Since(start), err
	}
	st.ImageID = id
	p.Tracker.Update(func(s *hub.Status) { s.ImageID = id })

	opts := poll.Options{
		Subject:     fmt.Sprintf("image %s to become available", id),
		Interval:    p.Options.PollInterval,
		MaxAttempts: p.Options.ImageAttempts,
	}
	_, err = poll.Until(ctx, opts, func(ctx context.Context) (bool, error) {
		state, err := p.Images.ImageState(ctx, id)
		if err != nil {
			return false, err
		}
		if state == "failed" {
			return false, fmt.Errorf("image %s failed", id)
		}
		return state == "available", nil
	})
	return time.Since(start), err
}

// tag applies every tag, pausing TagDelay between calls. A tag that fails
// is logged and skipped.
func (p *Pipeline) tag(ctx context.Context, st *RunState) (time.Duration, error) {
	start := time.Now()
	for i, t := range p.Tags {
		if i > 0 {
			if err := sleep(ctx, p.Options.TagDelay); err != nil {
				return time.Since(start), err
			}
		}
		if err := p.Images.Tag(ctx, st.ImageID, t.Key, t.Value); err != nil {
			log.Printf("pipeline: %v", err)
			p.Saga.Log(ctx, saga.ActionTagFailed, err.Error(), map[string]string{"key": t.Key})
		}
	}
	return time.Since(start), nil
}
