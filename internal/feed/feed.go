package feed

import "time"

// Observation is one price point supplied to the engine.
type Observation struct {
	Timestamp time.Time
	Price     float64
}

// Feed supplies an ordered sequence of price observations. A feed is consumed
// at most once; implementations need not support rewind. Feeds may be finite
// or infinite; the engine bounds infinite feeds with its max-steps setting.
type Feed interface {
	// Next returns the next observation. ok is false when the feed is
	// exhausted or has failed; check Err to distinguish.
	Next() (obs Observation, ok bool)

	// Err reports the first error the feed encountered, nil on clean
	// exhaustion.
	Err() error
}

// SliceFeed replays a fixed set of observations. Used by tests and replays.
type SliceFeed struct {
	obs []Observation
	idx int
}

func NewSliceFeed(obs []Observation) *SliceFeed {
	return &SliceFeed{obs: obs}
}

func (f *SliceFeed) Next() (Observation, bool) {
	if f.idx >= len(f.obs) {
		return Observation{}, false
	}
	o := f.obs[f.idx]
	f.idx++
	return o, true
}

func (f *SliceFeed) Err() error { return nil }
