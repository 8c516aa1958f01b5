package trigger

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_TrailingSingleFire(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { fired.Add(1) })

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, d.Pending())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "a burst must fire once")
	assert.False(t, d.Pending())
}

func TestDebouncer_Stop(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	d.Stop()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fired.Load())
	assert.False(t, d.Pending())

	d.Stop()
}

func TestNearEnd(t *testing.T) {
	tests := []struct {
		name                   string
		height, top, client, n int
		want                   bool
	}{
		{name: "at bottom", height: 100, top: 80, client: 20, n: 3, want: true},
		{name: "two lines left", height: 100, top: 78, client: 20, n: 3, want: true},
		{name: "exactly threshold", height: 100, top: 77, client: 20, n: 3, want: false},
		{name: "far away", height: 100, top: 0, client: 20, n: 3, want: false},
		{name: "content shorter than view", height: 10, top: 0, client: 20, n: 3, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NearEnd(tt.height, tt.top, tt.client, tt.n))
		})
	}
}

func TestScrollWatcher(t *testing.T) {
	var mu sync.Mutex
	m := Metrics{ScrollHeight: 100, ScrollTop: 0, ClientHeight: 20}
	var calls atomic.Int32

	w := NewScrollWatcher(10*time.Millisecond, 3, func() Metrics {
		mu.Lock()
		defer mu.Unlock()
		return m
	}, func() { calls.Add(1) })
	defer w.Stop()

	w.OnScroll()
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, calls.Load(), "not near the end")

	mu.Lock()
	m.ScrollTop = 79
	mu.Unlock()
	w.OnScroll()
	w.OnScroll()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestGesture_DownwardDragRefreshesOnce(t *testing.T) {
	g := NewGesture(0.5, 8)

	g.Start(2, true)
	offset, pulling := g.Move(6, true)
	assert.True(t, pulling)
	assert.Equal(t, 2, offset)

	offset, _ = g.Move(100, true)
	assert.Equal(t, 8, offset, "offset is capped")

	assert.True(t, g.End())
	assert.False(t, g.End(), "state is cleared after end")
}

func TestGesture_NoRefresh(t *testing.T) {
	tests := []struct {
		name  string
		start int
		moves []int
		atTop bool
	}{
		{name: "upward drag", start: 10, moves: []int{8, 3}, atTop: true},
		{name: "zero displacement", start: 10, moves: []int{10}, atTop: true},
		{name: "no move at all", start: 10, atTop: true},
		{name: "not at top", start: 10, moves: []int{20}, atTop: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGesture(0.5, 8)
			g.Start(tt.start, tt.atTop)
			for _, y := range tt.moves {
				offset, pulling := g.Move(y, tt.atTop)
				assert.Zero(t, offset)
				assert.False(t, pulling)
			}
			assert.False(t, g.End())
			assert.False(t, g.Active())
		})
	}
}

func TestGesture_UpAfterDownStillRefreshes(t *testing.T) {
	g := NewGesture(1, 0)
	g.Start(0, true)
	g.Move(5, true)
	offset, pulling := g.Move(-3, true)
	assert.Zero(t, offset)
	assert.False(t, pulling)
	assert.True(t, g.End(), "a registered downward pull counts")
}
