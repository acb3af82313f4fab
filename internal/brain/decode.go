package brain

// Start codons. A gene begins wherever a marker byte M is immediately
// followed by 255-M.
const (
	MarkerNodeMap       = 41
	MarkerGate          = 42
	MarkerProbabilistic = 43
)

// Fixed offsets of a gate gene, relative to the marker position.
const (
	gateInCount   = 2
	gateOutCount  = 3
	gateInputs    = 4
	gateOutputs   = 8
	gateTable     = 12
	maxGateInOuts = 4
)

// GateGeneLength returns the number of bytes a gate gene with the given arity
// spans, marker included.
func GateGeneLength(kind GateKind, nIns, nOuts int) int {
	rows := 1 << nIns
	if kind == Probabilistic {
		return gateTable + rows*(1<<nOuts)
	}
	return gateTable + rows
}

type DecodeOptions struct {
	// Probabilistic enables decoding of probabilistic gate genes.
	Probabilistic bool
	// IdentityNodeMap starts the node map at identity instead of all zero.
	IdentityNodeMap bool
}

// Network is the set of gates decoded from one genome.
type Network struct {
	Gates []Gate
}

func (n Network) Len() int {
	return len(n.Gates)
}

// Decode scans every genome position, wrapping at the end, and materializes
// the gates and node map the genome encodes. Decoding never fails: genomes
// without markers produce an empty network.
func Decode(genome []byte, opts DecodeOptions) (Network, NodeMap) {
	nodeMap := ZeroNodeMap()
	if opts.IdentityNodeMap {
		nodeMap = IdentityNodeMap()
	}

	var net Network
	size := len(genome)
	if size < 2 {
		return net, nodeMap
	}

	at := func(pos int) int {
		return int(genome[pos%size])
	}

	for i := 0; i < size; i++ {
		first, second := at(i), at(i+1)
		if first+second != 255 {
			continue
		}
		switch first {
		case MarkerNodeMap:
			nodeMap.Modify(at(i+2), at(i+3), at(i+4))
		case MarkerGate:
			net.Gates = append(net.Gates, decodeGate(Deterministic, at, i))
		case MarkerProbabilistic:
			if opts.Probabilistic {
				net.Gates = append(net.Gates, decodeGate(Probabilistic, at, i))
			}
		}
	}
	return net, nodeMap
}

func decodeGate(kind GateKind, at func(int) int, start int) Gate {
	nIns := 1 + at(start+gateInCount)&3
	nOuts := 1 + at(start+gateOutCount)&3

	g := Gate{
		Kind:    kind,
		Inputs:  make([]int, nIns),
		Outputs: make([]int, nOuts),
	}
	for j := 0; j < nIns; j++ {
		g.Inputs[j] = wrapNode(at(start + gateInputs + j))
	}
	for j := 0; j < nOuts; j++ {
		g.Outputs[j] = wrapNode(at(start + gateOutputs + j))
	}

	rows, cols := 1<<nIns, 1<<nOuts
	pos := start + gateTable
	if kind == Deterministic {
		g.Table = make([]uint8, rows)
		for r := 0; r < rows; r++ {
			g.Table[r] = uint8(at(pos+r) & (cols - 1))
		}
		return g
	}

	g.Cumulative = make([][]float64, rows)
	for r := 0; r < rows; r++ {
		weights := make([]float64, cols)
		total := 0.0
		for c := 0; c < cols; c++ {
			weights[c] = float64(at(pos+r*cols+c) + 1)
			total += weights[c]
		}
		row := make([]float64, cols)
		acc := 0.0
		for c := range weights {
			acc += weights[c] / total
			row[c] = acc
		}
		row[cols-1] = 1
		g.Cumulative[r] = row
	}
	return g
}
