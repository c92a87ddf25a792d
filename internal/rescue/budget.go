package rescue

import "math"

// Budget bounds rescue transfers per rolling window, in micro-USD.
// Invariant: TransferredInWindow never exceeds LimitPerWindow.
type Budget struct {
	LimitPerWindow      int64
	WindowDurationSteps int64
	TransferredInWindow int64
	WindowStart         int64 // step index of the window's first step
	LifetimeLimit       int64 // 0 = unbounded
}

// RemainingInWindow returns what the current window still allows.
func (b Budget) RemainingInWindow() int64 {
	r := b.LimitPerWindow - b.TransferredInWindow
	if r < 0 {
		return 0
	}
	return r
}

// RemainingLifetime returns what the lifetime bound still allows given the
// cumulative amount transferred so far.
func (b Budget) RemainingLifetime(cumulative int64) int64 {
	if b.LifetimeLimit <= 0 {
		return math.MaxInt64
	}
	r := b.LifetimeLimit - cumulative
	if r < 0 {
		return 0
	}
	return r
}

// RolloverDue reports whether the window ending before now has lapsed.
func (b Budget) RolloverDue(now int64) bool {
	return now >= b.WindowStart+b.WindowDurationSteps
}

// Rollover starts a fresh window at now and clears the window counter.
func (b *Budget) Rollover(now int64) {
	b.TransferredInWindow = 0
	b.WindowStart = now
}
