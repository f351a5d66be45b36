package saga

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PlainFormatter renders one uncolored line per event, for piping.
type PlainFormatter struct{}

func (PlainFormatter) Format(events []Event) string {
	var b strings.Builder
	for _, evt := range events {
		fmt.Fprintf(&b, "%s %s %s", evt.Timestamp.Format("15:04:05"), ActionIcon(evt.Action), evt.Message)
		if d, ok := Elapsed(evt); ok && evt.Action == ActionStepComplete {
			fmt.Fprintf(&b, " [%s]", d)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Elapsed reads the stage duration recorded on a step.complete event.
func Elapsed(evt Event) (time.Duration, bool) {
	ms, err := strconv.ParseInt(evt.Metadata[MetaElapsedMs], 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// ActionIcon maps an action to a single glyph.
func ActionIcon(action string) string {
	switch action {
	case ActionStepStart, ActionBakeStart:
		return "▶"
	case ActionStepComplete, ActionBakeComplete:
		return "✓"
	case ActionStepFailed, ActionBakeFailed:
		return "✗"
	case ActionTagFailed:
		return "!"
	case ActionCleanup:
		return "⌫"
	default:
		return "·"
	}
}
