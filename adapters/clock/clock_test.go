package clock_test

import (
	"testing"
	"time"

	"github.com/artpar/rpcspec/adapters/clock"
)

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := clock.Real{}.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", got, before, after)
	}
}

func TestFake_Step(t *testing.T) {
	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(start, time.Millisecond)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("first Now() = %v, want %v", got, start)
	}
	if got := c.Now(); !got.Equal(start.Add(time.Millisecond)) {
		t.Errorf("second Now() = %v, want start+1ms", got)
	}
}

func TestFake_Advance(t *testing.T) {
	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(start, 0)

	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(time.Hour))
	}
	if got := c.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Error("zero step should not advance")
	}
}
