// Package vardiff implements the variable-difficulty retargeting algorithm
// shared by the pool channel engine (per upstream channel) and the
// translator (per downstream SV1 miner).
//
// Grounded on the teacher's internal/stratum/session.go RecordShare/
// ShouldAdjustDifficulty heuristic (average share interval vs. a target
// interval, with a hysteresis band), generalized into the ratio/clamp/log2
// algorithm and lifted out of Session into a standalone, lock-free state
// type so both callers can embed it under their own synchronization.
package vardiff

import (
	"math"
	"time"
)

// Config holds the tunable vardiff parameters. Zero-value fields are
// replaced with defaults by New.
type Config struct {
	SharesPerMinute          float64
	WindowSeconds            float64 // retarget evaluation period, default 60
	MaxFactor                float64 // ratio clamp, default 4.0
	Hysteresis               float64 // log2 no-op band, default 0.1
	MinIndividualHashrate    float64 // floor, never lowered below this
	MaxHashrate              float64 // optional pool-configured ceiling; 0 = unbounded
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.WindowSeconds <= 0 {
		out.WindowSeconds = 60
	}
	if out.MaxFactor <= 0 {
		out.MaxFactor = 4.0
	}
	if out.Hysteresis <= 0 {
		out.Hysteresis = 0.1
	}
	return out
}

// State tracks one channel's (or one downstream's) share-count window and
// current nominal hash rate. Callers are responsible for their own
// synchronization; State itself is not safe for concurrent use.
type State struct {
	cfg          Config
	hashrate     float64
	windowStart  time.Time
	sharesInWin  int64
}

// New creates vardiff state seeded with an initial nominal hash rate.
func New(cfg Config, initialHashrate float64, now time.Time) *State {
	c := cfg.withDefaults()
	return &State{cfg: c, hashrate: initialHashrate, windowStart: now}
}

// Hashrate returns the current nominal hash rate.
func (s *State) Hashrate() float64 { return s.hashrate }

// SetHashrate overrides the baseline hash rate directly, used when the
// initiator reports a new nominal hash rate out of band (UpdateChannel)
// rather than through the windowed retarget algorithm.
func (s *State) SetHashrate(h float64) { s.hashrate = h }

// RecordShare increments the in-window share counter. Call once per accepted
// share.
func (s *State) RecordShare() {
	s.sharesInWin++
}

// Result is the outcome of an Evaluate call.
type Result struct {
	Adjusted    bool
	OldHashrate float64
	NewHashrate float64
}

// Evaluate runs the retarget algorithm if WindowSeconds has elapsed since
// the last evaluation (or the state's creation). If the window hasn't
// elapsed yet, Adjusted is false and the share counter is left untouched.
func (s *State) Evaluate(now time.Time) Result {
	elapsed := now.Sub(s.windowStart).Seconds()
	if elapsed < s.cfg.WindowSeconds {
		return Result{OldHashrate: s.hashrate, NewHashrate: s.hashrate}
	}

	n := float64(s.sharesInWin)
	s.sharesInWin = 0
	s.windowStart = now

	if elapsed <= 0 || s.cfg.SharesPerMinute <= 0 {
		return Result{OldHashrate: s.hashrate, NewHashrate: s.hashrate}
	}

	observedRate := n * 60.0 / elapsed
	ratio := observedRate / s.cfg.SharesPerMinute

	maxFactor := s.cfg.MaxFactor
	if ratio > maxFactor {
		ratio = maxFactor
	} else if ratio < 1.0/maxFactor {
		ratio = 1.0 / maxFactor
	}

	newHashrate := s.hashrate * ratio
	if s.cfg.MinIndividualHashrate > 0 && newHashrate < s.cfg.MinIndividualHashrate {
		newHashrate = s.cfg.MinIndividualHashrate
	}
	if s.cfg.MaxHashrate > 0 && newHashrate > s.cfg.MaxHashrate {
		newHashrate = s.cfg.MaxHashrate
	}

	if newHashrate <= 0 || s.hashrate <= 0 {
		return Result{OldHashrate: s.hashrate, NewHashrate: s.hashrate}
	}

	logRatio := math.Log2(newHashrate / s.hashrate)
	if math.Abs(logRatio) < s.cfg.Hysteresis {
		return Result{OldHashrate: s.hashrate, NewHashrate: s.hashrate}
	}

	old := s.hashrate
	s.hashrate = newHashrate
	return Result{Adjusted: true, OldHashrate: old, NewHashrate: newHashrate}
}
