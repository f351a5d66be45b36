package reorder

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbey/event"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBuffer(delay time.Duration) (*Buffer, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New(delay)
	b.Now = clk.Now
	return b, clk
}

func taskRaw(ts float64, name string, recv time.Time) event.RawEvent {
	return event.RawEvent{
		ReceivedAt: recv,
		Body:       []byte(fmt.Sprintf(`{"TS": %v, "PREFIX": "p", "TASK": %q}`, ts, name)),
	}
}

func collect(seq func(func(event.Event) bool)) []event.Event {
	var out []event.Event
	for evt := range seq {
		out = append(out, evt)
	}
	return out
}

func TestDrainHoldsUntilWindowElapses(t *testing.T) {
	b, clk := newTestBuffer(5 * time.Second)
	_, err := b.Push(taskRaw(2, "b", clk.Now()))
	require.NoError(t, err)
	_, err = b.Push(taskRaw(1, "a", clk.Now()))
	require.NoError(t, err)

	assert.Empty(t, collect(b.Drain()))

	clk.Advance(5 * time.Second)
	assert.Empty(t, collect(b.Drain()), "window is exclusive")

	clk.Advance(time.Millisecond)
	got := collect(b.Drain())
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, 0, b.Len())
}

func TestDrainEmptyYieldsNothing(t *testing.T) {
	b, clk := newTestBuffer(time.Second)
	clk.Advance(time.Hour)
	assert.Empty(t, collect(b.Drain()))
}

func TestLateArrivalExtendsWindow(t *testing.T) {
	b, clk := newTestBuffer(5 * time.Second)
	b.Push(taskRaw(3, "c", clk.Now()))
	clk.Advance(4 * time.Second)
	b.Push(taskRaw(1, "a", clk.Now()))
	clk.Advance(2 * time.Second)

	assert.Empty(t, collect(b.Drain()))
	clk.Advance(4 * time.Second)
	got := collect(b.Drain())
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
}

func TestDrainIsRestartable(t *testing.T) {
	b, clk := newTestBuffer(time.Second)
	for i := 0; i < 4; i++ {
		b.Push(taskRaw(float64(i), fmt.Sprint(i), clk.Now()))
	}
	clk.Advance(2 * time.Second)

	var first []event.Event
	for evt := range b.Drain() {
		first = append(first, evt)
		if len(first) == 2 {
			break
		}
	}
	rest := collect(b.Drain())
	require.Len(t, first, 2)
	require.Len(t, rest, 2)
	assert.Equal(t, "2", rest[0].Name)
}

func TestEqualTimestampsKeepArrivalOrder(t *testing.T) {
	b, clk := newTestBuffer(time.Second)
	b.Push(taskRaw(5, "first", clk.Now()))
	b.Push(taskRaw(5, "second", clk.Now()))
	clk.Advance(2 * time.Second)

	got := collect(b.Drain())
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "second", got[1].Name)
}

func TestPushRejectsMalformed(t *testing.T) {
	b, clk := newTestBuffer(time.Second)
	_, err := b.Push(event.RawEvent{ReceivedAt: clk.Now(), Body: []byte(`{"TASK": "no ts"}`)})
	var de *event.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 0, b.Len())
}

func TestFlushIgnoresWindow(t *testing.T) {
	b, clk := newTestBuffer(time.Hour)
	b.Push(taskRaw(9, "z", clk.Now()))
	b.Push(taskRaw(1, "a", clk.Now()))

	got := collect(b.Flush())
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, 0, b.Len())
}

// Events arriving within the window of each other come out sorted, and every
// pushed event comes out exactly once.
func TestOrderingWithinWindow(t *testing.T) {
	const delay = 5 * time.Second
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		b, clk := newTestBuffer(delay)
		n := 1 + rng.Intn(40)
		pushed := map[string]bool{}

		var released []event.Event
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("%d-%d", round, i)
			pushed[name] = true
			_, err := b.Push(taskRaw(float64(rng.Intn(1000))/10, name, clk.Now()))
			require.NoError(t, err)
			// arrivals stay inside the window, so nothing is released early
			clk.Advance(time.Duration(rng.Int63n(int64(delay))))
			released = append(released, collect(b.Drain())...)
		}
		assert.Empty(t, released)

		clk.Advance(delay + time.Second)
		released = collect(b.Drain())
		require.Len(t, released, n)

		ts := make([]float64, 0, n)
		for _, evt := range released {
			assert.True(t, pushed[evt.Name], "unexpected or duplicate %s", evt.Name)
			delete(pushed, evt.Name)
			ts = append(ts, evt.TS)
		}
		assert.Empty(t, pushed)
		assert.True(t, slices.IsSorted(ts), "round %d not sorted: %v", round, ts)
	}
}

// A straggler arriving after the window has closed is released late. This is
// the documented limit of the buffer.
func TestStragglerOutsideWindow(t *testing.T) {
	b, clk := newTestBuffer(time.Second)
	b.Push(taskRaw(10, "later", clk.Now()))
	clk.Advance(2 * time.Second)
	first := collect(b.Drain())

	b.Push(taskRaw(1, "earlier", clk.Now()))
	clk.Advance(2 * time.Second)
	second := collect(b.Drain())

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "later", first[0].Name)
	assert.Equal(t, "earlier", second[0].Name)
}
