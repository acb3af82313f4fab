package brain

import "math/rand"

type GateKind uint8

const (
	Deterministic GateKind = iota
	Probabilistic
)

func (k GateKind) String() string {
	switch k {
	case Deterministic:
		return "deterministic"
	case Probabilistic:
		return "probabilistic"
	default:
		return "unknown"
	}
}

// Gate reads its input slots from the current buffer and ORs its output bits
// into the next buffer. Inputs and Outputs hold raw node indices in
// [0, MaxNodes); the node map is applied when the gate fires.
type Gate struct {
	Kind    GateKind
	Inputs  []int
	Outputs []int
	// Table maps an input word to an output word for deterministic gates.
	Table []uint8
	// Cumulative holds, per input word, the cumulative output distribution of
	// a probabilistic gate. The last entry of every row is 1.
	Cumulative [][]float64
}

// Slots returns the state slots the gate reads and writes under nodeMap.
func (g *Gate) Slots(nodeMap *NodeMap) (ins, outs []int) {
	ins = make([]int, len(g.Inputs))
	for i, raw := range g.Inputs {
		ins[i] = nodeMap.Slot(raw)
	}
	outs = make([]int, len(g.Outputs))
	for i, raw := range g.Outputs {
		outs[i] = nodeMap.Slot(raw)
	}
	return ins, outs
}

func (g *Gate) Fire(states *States, nodeMap *NodeMap, rng *rand.Rand) {
	word := 0
	for _, raw := range g.Inputs {
		word = (word << 1) | int(states.Current[nodeMap.Slot(raw)]&1)
	}

	out := g.respond(word, rng)
	n := len(g.Outputs)
	for j, raw := range g.Outputs {
		bit := uint8((out >> (n - 1 - j)) & 1)
		states.Next[nodeMap.Slot(raw)] |= bit
	}
}

func (g *Gate) respond(word int, rng *rand.Rand) int {
	if g.Kind != Probabilistic {
		return int(g.Table[word])
	}
	row := g.Cumulative[word]
	if rng == nil {
		return argmaxCumulative(row)
	}
	draw := rng.Float64()
	for col, edge := range row {
		if draw < edge {
			return col
		}
	}
	return len(row) - 1
}

// argmaxCumulative picks the most likely column so probabilistic gates stay
// usable without a random source.
func argmaxCumulative(row []float64) int {
	best, bestP, prev := 0, -1.0, 0.0
	for col, edge := range row {
		p := edge - prev
		if p > bestP {
			best, bestP = col, p
		}
		prev = edge
	}
	return best
}
