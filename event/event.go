package event

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Kind string

const (
	KindRunStart    Kind = "run.start"
	KindTaskStart   Kind = "task.start"
	KindTaskResult  Kind = "task.result"
	KindRunFailure  Kind = "run.failure"
	KindRunComplete Kind = "run.complete"
)

type Status string

const (
	StatusNone      Status = ""
	StatusChanged   Status = "changed"
	StatusUnchanged Status = "unchanged"
	StatusFailed    Status = "failed"
)

// RawEvent is a queue message before decoding.
type RawEvent struct {
	ID         string
	Handle     string // transport receipt, needed to delete the message
	SentAt     time.Time
	ReceivedAt time.Time
	Body       []byte
}

// Invocation describes the module a task ran.
type Invocation struct {
	Module string
	Args   string
}

func (i Invocation) String() string {
	if i.Args == "" {
		return i.Module
	}
	return i.Module + " " + i.Args
}

// Event is a classified progress message.
type Event struct {
	TS         float64 // seconds since the remote run started
	Kind       Kind
	Source     string
	Name       string // play name for run.start, task name for task.start
	Status     Status
	Duration   time.Duration
	Invocation Invocation
	Details    map[string]any
	ReceivedAt time.Time
}

// Clock renders TS as MM:SS.ss.
func (e Event) Clock() string {
	minutes := int(e.TS / 60)
	seconds := e.TS - float64(minutes*60)
	return fmt.Sprintf("%02d:%05.2f", minutes, seconds)
}

// DetailKeys returns the detail keys in a stable order.
func (e Event) DetailKeys() []string {
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecodeError reports a message that could not be classified. It never
// aborts a run.
type DecodeError struct {
	Body   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "decode event: %s", e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	fmt.Fprintf(&b, " (body %q)", body)
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }
