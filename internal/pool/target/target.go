// Package target implements the hash-rate/target/difficulty arithmetic the
// pool channel engine and its vardiff retargeting need: converting a
// miner's nominal hash rate into a 256-bit share target, comparing a
// header hash against a target, counting leading zero bits for the
// ehash admission filter, and decoding a block's compact nbits field into
// its network target.
//
// Grounded on the teacher's internal/bitcoin/crypto.go
// (DifficultyToTarget/HashMeetsTarget), which already does the
// difficulty-space big.Int arithmetic and carries the same Bitcoin
// difficulty-1 maximum-target byte layout; generalized here to the
// hash-rate-based formula the SV2 channel engine's initial-target and
// vardiff retarget need, and to the wire's little-endian U256 byte order
// instead of crypto.go's big-endian display order.
package target

import "math/big"

// maxTargetBEBytes is Bitcoin's difficulty-1 maximum target, big-endian,
// the same constant internal/bitcoin/crypto.go's DifficultyToTarget uses.
var maxTargetBEBytes = [32]byte{
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// bigIntPrecision is generous enough to carry a 2^256-scale numerator and a
// float64-scale hash rate through one division without losing the integer
// part we actually keep.
const bigIntPrecision = 300

// maxUint256 returns 2^256 - 1, the ceiling every target this package
// produces is clamped to.
func maxUint256() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}

// Max is 2^256 - 1, the largest value a 256-bit target can hold: the
// weakest possible target, satisfied by any hash.
var Max = maxUint256()

// MaximumTarget returns Bitcoin's difficulty-1 target (the protocol's
// maximum target constant), little-endian.
func MaximumTarget() [32]byte {
	return ToLE(new(big.Int).SetBytes(maxTargetBEBytes[:]))
}

// HashRateToTarget computes T = (2^256 - s*h) / (s*h + 1) where h is the
// nominal hash rate in H/s and s = 60/sharesPerMinute. Per the invariant,
// any finite h >= 0 and sharesPerMinute > 0 yields a value in
// [0, 2^256-1]; sharesPerMinute <= 0 is a configuration error and is
// treated as "no effective rate constraint" by returning the maximum
// target rather than dividing by zero.
func HashRateToTarget(hashrate, sharesPerMinute float64) *big.Int {
	max := maxUint256()
	if sharesPerMinute <= 0 || hashrate <= 0 {
		return max
	}

	s := 60.0 / sharesPerMinute
	sh := s * hashrate

	prec := uint(bigIntPrecision)
	two256 := new(big.Float).SetPrec(prec).SetInt(new(big.Int).Lsh(big.NewInt(1), 256))
	shFloat := new(big.Float).SetPrec(prec).SetFloat64(sh)
	one := new(big.Float).SetPrec(prec).SetInt64(1)

	numerator := new(big.Float).SetPrec(prec).Sub(two256, shFloat)
	denominator := new(big.Float).SetPrec(prec).Add(shFloat, one)

	quotient := new(big.Float).SetPrec(prec).Quo(numerator, denominator)

	t, _ := quotient.Int(nil)
	if t == nil || t.Sign() < 0 {
		return big.NewInt(0)
	}
	if t.Cmp(max) > 0 {
		return max
	}
	return t
}

// TargetToHashRate inverts HashRateToTarget; cmd/pool uses it to turn a
// channel's current target back into a hash rate when pricing a share's
// ecash amount.
func TargetToHashRate(t [32]byte, sharesPerMinute float64) float64 {
	if sharesPerMinute <= 0 {
		return 0
	}
	s := 60.0 / sharesPerMinute
	tInt := FromLE(t)

	prec := uint(bigIntPrecision)
	two256 := new(big.Float).SetPrec(prec).SetInt(new(big.Int).Lsh(big.NewInt(1), 256))
	tFloat := new(big.Float).SetPrec(prec).SetInt(tInt)
	one := new(big.Float).SetPrec(prec).SetInt64(1)

	// h = (2^256 - T) / (s*(T+1))
	numerator := new(big.Float).SetPrec(prec).Sub(two256, tFloat)
	denominator := new(big.Float).SetPrec(prec).Mul(new(big.Float).SetPrec(prec).Add(tFloat, one), big.NewFloat(s))
	if denominator.Sign() == 0 {
		return 0
	}
	h, _ := new(big.Float).SetPrec(prec).Quo(numerator, denominator).Float64()
	if h < 0 {
		return 0
	}
	return h
}

// ToLE converts a big.Int target into its 32-byte little-endian wire form.
// Values larger than 2^256-1 are clamped.
func ToLE(t *big.Int) [32]byte {
	var out [32]byte
	max := maxUint256()
	v := t
	if v.Sign() < 0 {
		v = big.NewInt(0)
	} else if v.Cmp(max) > 0 {
		v = max
	}
	be := v.Bytes()
	for i, b := range be {
		out[len(be)-1-i] = b
	}
	return out
}

// FromLE converts a wire-form little-endian target back into a big.Int.
func FromLE(t [32]byte) *big.Int {
	be := make([]byte, 32)
	for i, b := range t {
		be[31-i] = b
	}
	return new(big.Int).SetBytes(be)
}

// HashMeetsTarget reports whether hash (little-endian, as produced by
// pool.HeaderHash) satisfies target (little-endian): hash <= target when
// both are interpreted as 256-bit unsigned integers.
func HashMeetsTarget(hash, targetLE [32]byte) bool {
	for i := 31; i >= 0; i-- {
		if hash[i] < targetLE[i] {
			return true
		}
		if hash[i] > targetLE[i] {
			return false
		}
	}
	return true // exactly equal
}

// LeadingZeroBits returns the number of leading zero bits of hash's
// canonical big-endian, most-significant-byte-first interpretation. hash is
// supplied in the wire's little-endian byte order (as pool.HeaderHash
// produces); the most significant byte is therefore hash[31].
func LeadingZeroBits(hash [32]byte) int {
	count := 0
	for i := 31; i >= 0; i-- {
		b := hash[i]
		if b == 0 {
			count += 8
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// NBitsToTarget decodes a block header's compact "nbits" difficulty
// encoding into a 32-byte little-endian target, the network target
// block-solution detection compares a share's hash against.
func NBitsToTarget(nbits uint32) [32]byte {
	exponent := nbits >> 24
	mantissa := nbits & 0x007fffff

	var t *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		t = big.NewInt(int64(mantissa))
	} else {
		t = new(big.Int).Lsh(big.NewInt(int64(mantissa)), 8*(uint(exponent)-3))
	}
	return ToLE(t)
}
