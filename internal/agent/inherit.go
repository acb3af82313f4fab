package agent

import (
	"math/rand"

	"markovbrains/internal/genome"
)

// Rates configures reproduction.
type Rates struct {
	Mutation    float64
	Duplication float64
	Deletion    float64
	Bounds      genome.Bounds
}

func DefaultRates() Rates {
	return Rates{
		Mutation:    0.005,
		Duplication: 0.05,
		Deletion:    0.02,
		Bounds:      genome.DefaultBounds(),
	}
}

// Inherit produces a child of parent: point mutation, then an independent
// duplication and deletion coin flip, then a rebuilt circuit. The child holds
// a reference on parent.
func Inherit(parent *Agent, rates Rates, generation int, rng *rand.Rand, ids *IDSource) *Agent {
	if parent.destroyed {
		panic("agent: inherit from destroyed agent")
	}

	g := genome.PointMutate(parent.genome, rates.Mutation, rng)
	if rng.Float64() < rates.Duplication {
		g, _ = genome.Duplicate(g, rates.Bounds, rng)
	}
	if rng.Float64() < rates.Deletion {
		g, _ = genome.Delete(g, rates.Bounds, rng)
	}

	child := &Agent{
		ID:        ids.Next(),
		Born:      generation,
		BestSteps: -1,
		decode:    parent.decode,
		rng:       rand.New(rand.NewSource(rng.Int63())),
		ancestor:  parent,
	}
	child.SetGenome(g)

	parent.refs++
	parent.Offspring++
	return child
}
