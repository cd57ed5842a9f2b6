package mathx

import "golang.org/x/exp/constraints"

// Lerp returns a + t*(b-a). t is not clamped.
func Lerp[T constraints.Float](a, b, t T) T {
	return a + t*(b-a)
}

// Frac returns where x sits between lo and hi as (x-lo)/(hi-lo).
// A zero-width span yields 0.
func Frac[T constraints.Float](x, lo, hi T) T {
	if hi == lo {
		return 0
	}
	return (x - lo) / (hi - lo)
}
