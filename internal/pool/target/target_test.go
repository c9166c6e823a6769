package target

import (
	"math"
	"math/big"
	"testing"
)

func TestHashRateToTargetMonotonicallyDecreasing(t *testing.T) {
	low := HashRateToTarget(1_000, 5)
	high := HashRateToTarget(1_000_000, 5)
	if high.Cmp(low) >= 0 {
		t.Fatalf("target for higher hash rate (%v) should be strictly lower than for lower hash rate (%v)", high, low)
	}
}

func TestHashRateToTargetStrictlyPositiveAndBounded(t *testing.T) {
	max := maxUint256()
	for _, h := range []float64{0.001, 1, 1_000, 1_000_000_000} {
		got := HashRateToTarget(h, 5)
		if got.Sign() < 0 {
			t.Fatalf("target for hashrate %v is negative: %v", h, got)
		}
		if got.Cmp(max) > 0 {
			t.Fatalf("target for hashrate %v (%v) exceeds 2^256-1", h, got)
		}
	}
}

func TestHashRateToTargetZeroSharesPerMinuteIsConfigError(t *testing.T) {
	got := HashRateToTarget(1_000_000, 0)
	if got.Cmp(maxUint256()) != 0 {
		t.Fatalf("sharesPerMinute=0 should fall back to the maximum target, got %v", got)
	}
}

func TestToLEFromLERoundTrip(t *testing.T) {
	orig := HashRateToTarget(1_000_000, 5)
	le := ToLE(orig)
	back := FromLE(le)
	if orig.Cmp(back) != 0 {
		t.Fatalf("round-trip mismatch: %v != %v", orig, back)
	}
}

func TestHashMeetsTarget(t *testing.T) {
	target := ToLE(big.NewInt(100))
	lower := ToLE(big.NewInt(50))
	higher := ToLE(big.NewInt(150))
	equal := ToLE(big.NewInt(100))

	if !HashMeetsTarget(lower, target) {
		t.Fatalf("hash below target should meet it")
	}
	if HashMeetsTarget(higher, target) {
		t.Fatalf("hash above target should not meet it")
	}
	if !HashMeetsTarget(equal, target) {
		t.Fatalf("hash equal to target should meet it")
	}
}

func TestLeadingZeroBits(t *testing.T) {
	var hash [32]byte
	// All zero: 256 leading zero bits.
	if got := LeadingZeroBits(hash); got != 256 {
		t.Fatalf("all-zero hash: got %d leading zero bits, want 256", got)
	}

	// Most significant byte (index 31) = 0x01 -> 7 leading zero bits within
	// that byte, and no bytes ahead of it -> 7 total.
	hash[31] = 0x01
	if got := LeadingZeroBits(hash); got != 7 {
		t.Fatalf("got %d leading zero bits, want 7", got)
	}

	// Most significant byte = 0x80 -> 0 leading zero bits.
	hash = [32]byte{}
	hash[31] = 0x80
	if got := LeadingZeroBits(hash); got != 0 {
		t.Fatalf("got %d leading zero bits, want 0", got)
	}
}

func TestNBitsToTargetMatchesMaximumTargetAtDifficultyOne(t *testing.T) {
	// 0x1d00ffff is Bitcoin's genesis-era nbits encoding of the difficulty-1
	// maximum target.
	got := NBitsToTarget(0x1d00ffff)
	want := MaximumTarget()
	if got != want {
		t.Fatalf("NBitsToTarget(0x1d00ffff) = %x, want maximum target %x", got, want)
	}
}

func TestTargetToHashRateRoughInverse(t *testing.T) {
	h := 1_000_000.0
	spm := 5.0
	tgt := ToLE(HashRateToTarget(h, spm))
	back := TargetToHashRate(tgt, spm)
	ratio := back / h
	if math.Abs(ratio-1) > 0.01 {
		t.Fatalf("inverse mismatch: got hashrate %v, want approx %v (ratio %v)", back, h, ratio)
	}
}
