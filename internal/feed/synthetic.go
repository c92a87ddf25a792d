package feed

import (
	"math"
	"math/rand"
	"time"
)

// SyntheticParams configures a generated price path.
type SyntheticParams struct {
	InitialPrice float64
	Drift        float64 // annualized mu
	Volatility   float64 // annualized sigma
	Seed         int64
	Start        time.Time     // zero value defaults to 2024-01-01 UTC
	Step         time.Duration // zero value defaults to one minute
}

// SyntheticFeed generates a geometric Brownian motion price path:
//
//	S_{t+1} = S_t * exp((mu - sigma^2/2)*dt + sigma*sqrt(dt)*Z)
//
// with a seeded source, so identical params replay identical paths. The feed
// is infinite; the engine's max-steps bound terminates it.
type SyntheticFeed struct {
	rng        *rand.Rand
	price      float64
	ts         time.Time
	step       time.Duration
	driftTerm  float64 // (mu - sigma^2/2) * dt
	shockScale float64 // sigma * sqrt(dt)
	started    bool
}

func NewSyntheticFeed(p SyntheticParams) *SyntheticFeed {
	if p.Start.IsZero() {
		p.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if p.Step <= 0 {
		p.Step = time.Minute
	}

	dt := p.Step.Hours() / (365 * 24)

	return &SyntheticFeed{
		rng:        rand.New(rand.NewSource(p.Seed)),
		price:      p.InitialPrice,
		ts:         p.Start,
		step:       p.Step,
		driftTerm:  (p.Drift - p.Volatility*p.Volatility/2) * dt,
		shockScale: p.Volatility * math.Sqrt(dt),
	}
}

func (f *SyntheticFeed) Next() (Observation, bool) {
	if !f.started {
		// The zeroth point is the initial price itself.
		f.started = true
		return Observation{Timestamp: f.ts, Price: f.price}, true
	}

	z := f.rng.NormFloat64()
	f.price *= math.Exp(f.driftTerm + f.shockScale*z)
	f.ts = f.ts.Add(f.step)

	return Observation{Timestamp: f.ts, Price: f.price}, true
}

func (f *SyntheticFeed) Err() error { return nil }
