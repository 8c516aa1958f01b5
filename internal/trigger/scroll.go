package trigger

import "time"

// Metrics describes the scroll position of a view, in lines.
type Metrics struct {
	ScrollHeight int
	ScrollTop    int
	ClientHeight int
}

// NearEnd reports whether less than threshold remains below the visible
// area.
func NearEnd(scrollHeight, scrollTop, clientHeight, threshold int) bool {
	return scrollHeight-scrollTop-clientHeight < threshold
}

// ScrollWatcher debounces scroll events and calls onNearEnd when, once
// things settle, the view is close to its end. Metrics are read when the
// timer fires, not when the event arrived.
type ScrollWatcher struct {
	debouncer *Debouncer
	metrics   func() Metrics
	threshold int
	onNearEnd func()
}

func NewScrollWatcher(delay time.Duration, threshold int, metrics func() Metrics, onNearEnd func()) *ScrollWatcher {
	w := &ScrollWatcher{
		metrics:   metrics,
		threshold: threshold,
		onNearEnd: onNearEnd,
	}
	w.debouncer = NewDebouncer(delay, w.check)
	return w
}

// OnScroll records a scroll event.
func (w *ScrollWatcher) OnScroll() {
	w.debouncer.Trigger()
}

func (w *ScrollWatcher) Stop() {
	w.debouncer.Stop()
}

func (w *ScrollWatcher) check() {
	m := w.metrics()
	if NearEnd(m.ScrollHeight, m.ScrollTop, m.ClientHeight, w.threshold) {
		w.onNearEnd()
	}
}
