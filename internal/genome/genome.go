package genome

import (
	"math/rand"

	"markovbrains/internal/brain"
)

// Genome is the heritable byte string a brain is decoded from.
type Genome []byte

func (g Genome) Len() int {
	return len(g)
}

func (g Genome) Clone() Genome {
	if g == nil {
		return nil
	}
	out := make(Genome, len(g))
	copy(out, g)
	return out
}

// Random returns a genome of n uniformly random bytes.
func Random(rng *rand.Rand, n int) Genome {
	g := make(Genome, n)
	for i := range g {
		g[i] = byte(rng.Intn(256))
	}
	return g
}

// Filled returns a genome of n copies of value.
func Filled(n int, value byte) Genome {
	g := make(Genome, n)
	for i := range g {
		g[i] = value
	}
	return g
}

type SeedOptions struct {
	// Gates is the number of gate start codons planted.
	Gates int
	// NodeMapModifiers is the number of node map genes planted. Modifier i
	// covers the i-th equal share of the node map and adds i to it.
	NodeMapModifiers int
}

func DefaultSeedOptions() SeedOptions {
	return SeedOptions{Gates: 4, NodeMapModifiers: 4}
}

// PlantStartCodons randomizes g in place and plants gate and node map genes so
// a fresh genome decodes to a non-trivial circuit.
func PlantStartCodons(g Genome, rng *rand.Rand, opts SeedOptions) {
	size := len(g)
	if size == 0 {
		return
	}
	for i := range g {
		g[i] = byte(rng.Intn(256))
	}

	put := func(pos int, b byte) {
		g[pos%size] = b
	}

	for i := 0; i < opts.Gates; i++ {
		j := rng.Intn(maxInt(size-100, 1))
		put(j, brain.MarkerGate)
		put(j+1, 255-brain.MarkerGate)
		for k := 2; k < 20; k++ {
			put(j+k, byte(rng.Intn(256)))
		}
	}

	n := opts.NodeMapModifiers
	for i := 0; i < n; i++ {
		j := rng.Intn(maxInt(size-10, 1))
		put(j, brain.MarkerNodeMap)
		put(j+1, 255-brain.MarkerNodeMap)
		put(j+2, byte(float64(i)/float64(n)*brain.MaxNodes))
		put(j+3, byte(brain.MaxNodes/n))
		put(j+4, byte(i))
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
