package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// setModule never reports a meaningful changed flag.
const setModule = "set_fact"

type payload struct {
	TS      *float64        `json:"TS"`
	Prefix  string          `json:"PREFIX"`
	Start   json.RawMessage `json:"START"`
	Task    json.RawMessage `json:"TASK"`
	OK      json.RawMessage `json:"OK"`
	Failure json.RawMessage `json:"FAILURE"`
	Stats   json.RawMessage `json:"STATS"`
	Delta   float64         `json:"delta"`
}

type okResult struct {
	Invocation *struct {
		ModuleName string `json:"module_name"`
		ModuleArgs any    `json:"module_args"`
	} `json:"invocation"`
	Changed bool `json:"changed"`
}

// Classify decodes one message body. Any problem is returned as a
// *DecodeError.
func Classify(body []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, &DecodeError{Body: string(body), Reason: "expecting a JSON object", Err: err}
	}
	if p.TS == nil {
		return Event{}, &DecodeError{Body: string(body), Reason: "missing TS"}
	}

	present := map[Kind]json.RawMessage{}
	for kind, raw := range map[Kind]json.RawMessage{
		KindRunStart:    p.Start,
		KindTaskStart:   p.Task,
		KindTaskResult:  p.OK,
		KindRunFailure:  p.Failure,
		KindRunComplete: p.Stats,
	} {
		if len(raw) > 0 {
			present[kind] = raw
		}
	}
	if len(present) != 1 {
		return Event{}, &DecodeError{Body: string(body), Reason: fmt.Sprintf("expected exactly one of START, TASK, OK, FAILURE, STATS, found %d", len(present))}
	}

	evt := Event{TS: *p.TS, Source: p.Prefix}
	for kind, raw := range present {
		evt.Kind = kind
		var err error
		switch kind {
		case KindRunStart, KindTaskStart:
			err = json.Unmarshal(raw, &evt.Name)
		case KindTaskResult:
			err = classifyResult(raw, p.Delta, &evt)
		case KindRunFailure:
			evt.Status = StatusFailed
			err = json.Unmarshal(raw, &evt.Details)
		case KindRunComplete:
			// STATS content is not reported.
		}
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				de.Body = string(body)
				return Event{}, de
			}
			return Event{}, &DecodeError{Body: string(body), Reason: "malformed " + string(kind), Err: err}
		}
	}
	return evt, nil
}

func classifyResult(raw json.RawMessage, delta float64, evt *Event) error {
	var res okResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	if res.Invocation == nil || res.Invocation.ModuleName == "" {
		return &DecodeError{Reason: "task result without invocation.module_name"}
	}
	if err := json.Unmarshal(raw, &evt.Details); err != nil {
		return err
	}

	evt.Invocation = Invocation{Module: res.Invocation.ModuleName, Args: formatArgs(res.Invocation.ModuleArgs)}
	evt.Duration = time.Duration(delta * float64(time.Second))
	switch {
	case res.Invocation.ModuleName == setModule:
		evt.Status = StatusUnchanged
	case res.Changed:
		evt.Status = StatusChanged
	default:
		evt.Status = StatusUnchanged
	}
	return nil
}

func formatArgs(args any) string {
	switch v := args.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v[k]))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(v)
	}
}
