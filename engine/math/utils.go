package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds v up to the next multiple of align. align does not need to
// be a power of two; an align of zero returns v unchanged.
func AlignUp[T constraints.Unsigned](v, align T) T {
	if align == 0 {
		return v
	}
	return ((v + align - 1) / align) * align
}

// AlignDown rounds v down to a multiple of align.
func AlignDown[T constraints.Unsigned](v, align T) T {
	if align == 0 {
		return v
	}
	return (v / align) * align
}

// CeilDiv returns the number of chunks of size d needed to hold n.
func CeilDiv[T constraints.Integer](n, d T) T {
	return (n + d - 1) / d
}
