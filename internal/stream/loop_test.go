package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoop_PostOrder(t *testing.T) {
	loop := NewLoop(NewManualClock(), nil)

	var got []int
	loop.Post(func() { got = append(got, 1) })
	loop.Post(func() { got = append(got, 2) })
	loop.Post(func() { got = append(got, 3) })

	loop.Flush()
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestLoop_PostDuringFlush(t *testing.T) {
	loop := NewLoop(NewManualClock(), nil)

	var got []int
	loop.Post(func() {
		got = append(got, 1)
		loop.Post(func() { got = append(got, 3) })
	})
	loop.Post(func() { got = append(got, 2) })

	loop.Flush()
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestLoop_PostAfter(t *testing.T) {
	clock := NewManualClock()
	loop := NewLoop(clock, nil)

	fired := false
	loop.PostAfter(100*time.Millisecond, func() { fired = true })

	clock.Advance(99 * time.Millisecond)
	loop.Flush()
	assert.False(t, fired, "timer fired before its deadline")

	clock.Advance(1 * time.Millisecond)
	loop.Flush()
	assert.True(t, fired, "timer did not fire at its deadline")
}

func TestLoop_PostAfterCancel(t *testing.T) {
	clock := NewManualClock()
	loop := NewLoop(clock, nil)

	fired := false
	cancel := loop.PostAfter(50*time.Millisecond, func() { fired = true })
	cancel()

	clock.Advance(time.Second)
	loop.Flush()
	assert.False(t, fired, "cancelled timer fired")
}

func TestLoop_TimerDeadlineOrder(t *testing.T) {
	clock := NewManualClock()
	loop := NewLoop(clock, nil)

	var got []string
	loop.PostAfter(200*time.Millisecond, func() { got = append(got, "late") })
	loop.PostAfter(100*time.Millisecond, func() { got = append(got, "early") })

	clock.Advance(time.Second)
	loop.Flush()
	assert.Equal(t, []string{"early", "late"}, got)
}

func TestLoop_HandlerPanicDoesNotStopFlush(t *testing.T) {
	loop := NewLoop(NewManualClock(), nil)

	ran := false
	loop.Post(func() { panic("boom") })
	loop.Post(func() { ran = true })

	loop.Flush()
	assert.True(t, ran, "work after a panicking handler did not run")
}
