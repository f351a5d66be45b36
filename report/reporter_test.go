package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbey/event"
	"abbey/model"
)

func mustClassify(t *testing.T, body string) event.Event {
	t.Helper()
	evt, err := event.Classify([]byte(body))
	require.NoError(t, err)
	return evt
}

func TestReporterTranscript(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, false)

	r.Handle(mustClassify(t, `{"TS": 0, "PREFIX": "[ i-1 ]", "START": "edxapp"}`))
	r.Handle(mustClassify(t, `{"TS": 1, "PREFIX": "[ i-1 ]", "TASK": "common | copy config"}`))
	r.Handle(mustClassify(t, `{"TS": 4, "delta": 3, "PREFIX": "[ i-1 ]", "OK": {"invocation": {"module_name": "copy"}, "changed": true}}`))
	r.Handle(mustClassify(t, `{"TS": 5, "PREFIX": "[ i-1 ]", "TASK": "common | set facts"}`))
	r.Handle(mustClassify(t, `{"TS": 5.5, "delta": 0.5, "PREFIX": "[ i-1 ]", "OK": {"invocation": {"module_name": "set_fact"}, "changed": true}}`))
	r.Handle(mustClassify(t, `{"TS": 75, "PREFIX": "[ i-1 ]", "STATS": {}}`))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4, out.String())
	assert.Contains(t, lines[0], "00:00.00")
	assert.Contains(t, lines[0], `Starting "edxapp"`)
	assert.Contains(t, lines[1], "common | copy config")
	assert.Contains(t, lines[1], "*OK*")
	assert.Contains(t, lines[2], "common | set facts")
	assert.NotContains(t, lines[2], "*OK*")
	assert.Contains(t, lines[2], "OK")
	assert.Contains(t, lines[3], "01:15.00")
	assert.Contains(t, lines[3], "COMPLETE")

	tasks := r.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, model.TaskReportEntry{Task: "common | copy config", Invocation: "copy", Duration: 3 * time.Second}, tasks[0])
}

func TestReporterTaskWithoutResultIsFlushed(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, false)
	r.Handle(mustClassify(t, `{"TS": 1, "TASK": "first"}`))
	r.Handle(mustClassify(t, `{"TS": 2, "TASK": "second"}`))
	r.Close()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], "second")
}

func TestReporterFailureDetails(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, false)
	r.Handle(mustClassify(t, `{"TS": 1, "TASK": "migrate"}`))
	r.Handle(mustClassify(t, `{"TS": 2, "FAILURE": {"msg": "relation missing", "rc": 1}}`))

	s := out.String()
	assert.Contains(t, s, "migrate")
	assert.Contains(t, s, "!!!! FAILURE !!!!")
	assert.Contains(t, s, "relation missing")
	assert.Contains(t, s, "rc")
}

func TestReporterVerbose(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, true)
	r.Handle(mustClassify(t, `{"TS": 1, "TASK": "install"}`))
	r.Handle(mustClassify(t, `{"TS": 2, "delta": 1, "OK": {"invocation": {"module_name": "apt"}, "changed": false, "stdout": "done"}}`))

	s := out.String()
	assert.Contains(t, s, "install")
	assert.Contains(t, s, "stdout")
	assert.Contains(t, s, "done")
	assert.Len(t, r.Tasks(), 1)
}

func TestSlowest(t *testing.T) {
	tasks := []model.TaskReportEntry{
		{Task: "a", Duration: 1 * time.Second},
		{Task: "b", Duration: 9 * time.Second},
		{Task: "c", Duration: 4 * time.Second},
		{Task: "d", Duration: 7 * time.Second},
	}
	got := Slowest(tasks, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].Task)
	assert.Equal(t, "d", got[1].Task)
	assert.Equal(t, "c", got[2].Task)
	assert.Equal(t, "a", tasks[0].Task, "input must not be reordered")

	assert.Len(t, Slowest(tasks, 10), 4)
}

func TestWriteSlowestAndSummary(t *testing.T) {
	var out bytes.Buffer
	WriteSlowest(&out, []model.TaskReportEntry{{Task: "compile assets", Invocation: "shell make", Duration: 42 * time.Second}}, 5)
	assert.Contains(t, out.String(), "042 compile assets")
	assert.Contains(t, out.String(), "  - ")
	assert.Contains(t, out.String(), "shell make")

	out.Reset()
	var s model.RunSummary
	s.Add("Instance launch", 65*time.Second)
	s.Finish(70 * time.Second)
	WriteSummary(&out, s, "ami-0abc")
	assert.Contains(t, out.String(), "01:05.00")
	assert.Contains(t, out.String(), "Other")
	assert.Contains(t, out.String(), "01:10.00")
	assert.Contains(t, out.String(), "ami-0abc")
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "00:00.00",
		1500 * time.Millisecond: "00:01.50",
		61 * time.Second:        "01:01.00",
		125*time.Minute + 250e6: "125:00.25",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestReporterMalformed(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, false)
	r.Handle(mustClassify(t, `{"TS": 1, "PREFIX": "h", "TASK": "copy"}`))
	r.Malformed(errors.New("bad json"))

	out := buf.String()
	if !strings.Contains(out, "copy\n") {
		t.Errorf("pending task line not flushed: %q", out)
	}
	if !strings.Contains(out, "unable to parse queue message: bad json") {
		t.Errorf("missing error line: %q", out)
	}
}
