package evo

import (
	"math"
	"math/rand"
)

// SelectParent picks the parent for slot by fitness-proportional rejection
// sampling: a uniformly drawn candidate j is accepted with probability
// fitness[j]/maxFitness and never when j == slot. When maxFitness <= 0 or no
// other slot has positive fitness it falls back to a uniform draw among the
// other slots, reported by the second return value. A population of one
// selects itself. NaN fitness is never accepted.
func SelectParent(rng *rand.Rand, fitness []float64, maxFitness float64, slot int) (int, bool) {
	n := len(fitness)
	if n <= 1 {
		return 0, false
	}
	if maxFitness <= 0 || !otherPositive(fitness, slot) {
		j := rng.Intn(n - 1)
		if j >= slot {
			j++
		}
		return j, true
	}

	for {
		j := rng.Intn(n)
		if j == slot {
			continue
		}
		p := acceptance(fitness[j], maxFitness)
		if u := rng.Float64(); p == 0 || u > p {
			continue
		}
		return j, false
	}
}

// acceptance is the probability of accepting a candidate with fitness f.
// Anything not strictly positive, NaN included, scores zero.
func acceptance(f, maxFitness float64) float64 {
	if !(f > 0) {
		return 0
	}
	if math.IsInf(maxFitness, 1) {
		if math.IsInf(f, 1) {
			return 1
		}
		return 0
	}
	return f / maxFitness
}

func otherPositive(fitness []float64, slot int) bool {
	for j, f := range fitness {
		if j != slot && f > 0 {
			return true
		}
	}
	return false
}

// maxFitness starts from zero, so an all-negative population reports 0 and
// selection falls back to uniform.
func maxFitness(fitness []float64) (float64, int) {
	best, at := 0.0, -1
	for i, f := range fitness {
		if f > best {
			best, at = f, i
		}
	}
	return best, at
}
