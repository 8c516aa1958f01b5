package trigger

import "math"

// Gesture recognizes pull-to-refresh drags. Mouse and touch callers feed
// it the same way: Start on press, Move while dragging, End on release.
// A drag only counts when it starts with the view at its top.
type Gesture struct {
	factor    float64
	maxOffset int

	tracking bool
	startY   int
	pulled   bool
}

func NewGesture(factor float64, maxOffset int) *Gesture {
	if factor <= 0 {
		factor = 0.5
	}
	return &Gesture{factor: factor, maxOffset: maxOffset}
}

func (g *Gesture) Start(y int, atTop bool) {
	g.tracking = atTop
	g.startY = y
	g.pulled = false
}

// Move returns the rubber-band offset for the current position and whether
// a downward pull is in progress. Upward or zero displacement yields no
// offset.
func (g *Gesture) Move(y int, atTop bool) (int, bool) {
	if !g.tracking || !atTop {
		return 0, false
	}
	delta := y - g.startY
	if delta <= 0 {
		return 0, false
	}
	g.pulled = true

	offset := int(math.Round(float64(delta) * g.factor))
	if g.maxOffset > 0 && offset > g.maxOffset {
		offset = g.maxOffset
	}
	return offset, true
}

// End finishes the drag and reports whether a refresh should run. State is
// cleared either way.
func (g *Gesture) End() bool {
	refresh := g.tracking && g.pulled
	g.tracking = false
	g.startY = 0
	g.pulled = false
	return refresh
}

func (g *Gesture) Active() bool {
	return g.tracking
}
