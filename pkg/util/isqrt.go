package util

// Isqrt32 returns the integer square root (floor) of v. The sanity checks
// compare sensor vector magnitudes against integer thresholds, so the
// rounding here is part of the contract.
func Isqrt32(v uint32) uint32 {
	if v < 2 {
		return v
	}
	// The seed must stay above the root and must not overflow for inputs
	// near the top of the range.
	x := v
	y := x/2 + 1
	for y < x {
		x = y
		y = (x + v/x) / 2
	}
	return x
}
