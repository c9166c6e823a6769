package vardiff

import (
	"math"
	"testing"
	"time"
)

func TestEvaluateNoopBeforeWindowElapses(t *testing.T) {
	start := time.Unix(0, 0)
	s := New(Config{SharesPerMinute: 5}, 1_000_000, start)
	s.RecordShare()
	res := s.Evaluate(start.Add(10 * time.Second))
	if res.Adjusted {
		t.Fatalf("expected no adjustment before window elapses")
	}
}

func TestEvaluateBoundsRespectMaxFactor(t *testing.T) {
	start := time.Unix(0, 0)
	cfg := Config{SharesPerMinute: 5, WindowSeconds: 60, MaxFactor: 4.0, MinIndividualHashrate: 1}
	s := New(cfg, 1_000_000, start)

	// Submit far more shares than the target rate to force an upward clamp.
	for i := 0; i < 1000; i++ {
		s.RecordShare()
	}
	res := s.Evaluate(start.Add(60 * time.Second))
	if !res.Adjusted {
		t.Fatalf("expected adjustment")
	}
	ratio := res.NewHashrate / res.OldHashrate
	if ratio > cfg.MaxFactor+1e-9 {
		t.Fatalf("ratio %v exceeds max factor %v", ratio, cfg.MaxFactor)
	}
	if ratio < 1/cfg.MaxFactor-1e-9 {
		t.Fatalf("ratio %v below inverse max factor", ratio)
	}
}

func TestEvaluateNeverBelowFloor(t *testing.T) {
	start := time.Unix(0, 0)
	cfg := Config{SharesPerMinute: 5, WindowSeconds: 60, MaxFactor: 4.0, MinIndividualHashrate: 500_000}
	s := New(cfg, 1_000_000, start)

	// No shares submitted: observed rate 0 -> ratio clamps to 1/max_factor.
	res := s.Evaluate(start.Add(60 * time.Second))
	if res.NewHashrate < cfg.MinIndividualHashrate {
		t.Fatalf("hashrate %v fell below floor %v", res.NewHashrate, cfg.MinIndividualHashrate)
	}
}

func TestEvaluateHysteresisSuppressesSmallChanges(t *testing.T) {
	start := time.Unix(0, 0)
	cfg := Config{SharesPerMinute: 5, WindowSeconds: 60, MaxFactor: 4.0, Hysteresis: 0.5}
	s := New(cfg, 1_000_000, start)

	// 5 shares in 60s at target rate of 5/min -> ratio ~1.0, well within hysteresis.
	for i := 0; i < 5; i++ {
		s.RecordShare()
	}
	res := s.Evaluate(start.Add(60 * time.Second))
	if res.Adjusted {
		t.Fatalf("expected hysteresis to suppress a near-1.0 ratio adjustment")
	}
}

func TestEvaluateBoundsGeneral(t *testing.T) {
	start := time.Unix(0, 0)
	cfg := Config{SharesPerMinute: 10, WindowSeconds: 60, MaxFactor: 4.0, MinIndividualHashrate: 1}
	s := New(cfg, 500_000, start)
	for i := 0; i < 3; i++ {
		s.RecordShare()
	}
	res := s.Evaluate(start.Add(60 * time.Second))
	ratio := res.NewHashrate / res.OldHashrate
	if ratio > cfg.MaxFactor || ratio < 1/cfg.MaxFactor {
		t.Fatalf("ratio %v out of bounds", ratio)
	}
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		t.Fatalf("ratio not finite: %v", ratio)
	}
}
