package genome

import "math/rand"

// Bounds holds the eligibility guards and window sizes of the structural
// operators.
type Bounds struct {
	// MaxDuplicateLength: duplication only fires below this length.
	MaxDuplicateLength int
	// MinDeleteLength: deletion only fires above this length.
	MinDeleteLength int
	// Windows are MinWindow + rand(WindowSpread) bytes long.
	MinWindow    int
	WindowSpread int
}

func DefaultBounds() Bounds {
	return Bounds{
		MaxDuplicateLength: 20000,
		MinDeleteLength:    1000,
		MinWindow:          15,
		WindowSpread:       512,
	}
}

func (b Bounds) window(rng *rand.Rand) int {
	if b.WindowSpread <= 0 {
		return b.MinWindow
	}
	return b.MinWindow + rng.Intn(b.WindowSpread)
}

// PointMutate copies src, replacing each byte with a uniformly random one
// with probability rate.
func PointMutate(src Genome, rate float64, rng *rand.Rand) Genome {
	out := make(Genome, len(src))
	for i := range src {
		if rng.Float64() < rate {
			out[i] = byte(rng.Intn(256))
		} else {
			out[i] = src[i]
		}
	}
	return out
}

// Duplicate inserts a copy of a random window at a random offset. It is a
// no-op when g is at or above MaxDuplicateLength or not longer than the
// drawn window.
func Duplicate(g Genome, b Bounds, rng *rand.Rand) (Genome, bool) {
	if len(g) >= b.MaxDuplicateLength {
		return g, false
	}
	w := b.window(rng)
	if w <= 0 || len(g) <= w {
		return g, false
	}
	s := rng.Intn(len(g) - w)
	o := rng.Intn(len(g))

	out := make(Genome, 0, len(g)+w)
	out = append(out, g[:o]...)
	out = append(out, g[s:s+w]...)
	out = append(out, g[o:]...)
	return out, true
}

// Delete removes a random window. It is a no-op when g is at or below
// MinDeleteLength or not longer than the drawn window.
func Delete(g Genome, b Bounds, rng *rand.Rand) (Genome, bool) {
	if len(g) <= b.MinDeleteLength {
		return g, false
	}
	w := b.window(rng)
	if w <= 0 || len(g) <= w {
		return g, false
	}
	s := rng.Intn(len(g) - w)

	out := make(Genome, 0, len(g)-w)
	out = append(out, g[:s]...)
	out = append(out, g[s+w:]...)
	return out, true
}
