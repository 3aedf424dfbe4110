package clock

import (
	"testing"
	"time"
)

type fakeWall struct {
	now time.Time
}

func (f *fakeWall) Now() time.Time { return f.now }

func (f *fakeWall) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestClockNow(t *testing.T) {
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &fakeWall{now: epoch}
	c := New(epoch, w.Now)

	if got := c.Now(); got != 0 {
		t.Errorf("Now() at epoch = %d, want 0", got)
	}

	w.Advance(1500 * time.Millisecond)
	if got := c.Now(); got != 1_500_000 {
		t.Errorf("Now() = %d, want 1500000", got)
	}
}

func TestClockPauseResumeAccumulates(t *testing.T) {
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &fakeWall{now: epoch}
	c := New(epoch, w.Now)

	w.Advance(time.Second)
	c.Pause()
	w.Advance(2 * time.Second)
	c.Resume()

	if got := c.Now(); got != 1_000_000 {
		t.Errorf("Now() after first pause = %d, want 1000000", got)
	}

	w.Advance(time.Second)
	c.Pause()
	w.Advance(3 * time.Second)
	c.Resume()
	w.Advance(500 * time.Millisecond)

	if got := c.Now(); got != 2_500_000 {
		t.Errorf("Now() after second pause = %d, want 2500000", got)
	}
	if got := c.Offset(); got != 5*time.Second {
		t.Errorf("Offset() = %v, want 5s", got)
	}
}

func TestClockStandsStillWhilePaused(t *testing.T) {
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &fakeWall{now: epoch}
	c := New(epoch, w.Now)

	c.Resume()
	if got := c.Offset(); got != 0 {
		t.Errorf("Resume on a running clock changed the offset to %v", got)
	}

	w.Advance(2 * time.Second)
	c.Pause()
	w.Advance(4 * time.Second)
	if got := c.Now(); got != 2_000_000 {
		t.Errorf("Now() while paused = %d, want 2000000", got)
	}
	c.Pause()
	w.Advance(time.Second)
	c.Resume()
	c.Resume()

	if got := c.Now(); got != 2_000_000 {
		t.Errorf("Now() after resume = %d, want 2000000", got)
	}
	if got := c.Offset(); got != 5*time.Second {
		t.Errorf("Offset() = %v, want 5s", got)
	}
}

func TestMonotonicCoerce(t *testing.T) {
	tests := []struct {
		name string
		in   []int64
		want []int64
	}{
		{"increasing", []int64{1, 2, 3}, []int64{1, 2, 3}},
		{"equal", []int64{5, 5, 5}, []int64{5, 5, 5}},
		{"backwards", []int64{10, 7, 12, 11}, []int64{10, 10, 12, 12}},
		{"negative start", []int64{-4, -8, 0}, []int64{-4, -4, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Monotonic
			for i, ts := range tt.in {
				if got := m.Coerce(ts); got != tt.want[i] {
					t.Errorf("Coerce(%d) at %d = %d, want %d", ts, i, got, tt.want[i])
				}
			}
		})
	}
}

func TestPausedSequenceNeverDecreases(t *testing.T) {
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &fakeWall{now: epoch}
	c := New(epoch, w.Now)
	var m Monotonic

	prev := int64(-1)
	for i := range 50 {
		w.Advance(20 * time.Millisecond)
		if i%10 == 3 {
			c.Pause()
			w.Advance(time.Duration(i) * 10 * time.Millisecond)
			c.Resume()
		}
		ts := m.Coerce(c.Now())
		if ts < prev {
			t.Fatalf("timestamp decreased at %d: %d < %d", i, ts, prev)
		}
		prev = ts
	}
}
