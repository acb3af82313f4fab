package markovbrains

import (
	"markovbrains/internal/brain"
	"markovbrains/internal/genome"
)

type InspectRequest struct {
	Path               string
	WithID             bool
	ProbabilisticGates bool
	IdentityNodeMap    bool
}

type GateSummary struct {
	Kind    string `json:"kind"`
	Inputs  []int  `json:"inputs"`
	Outputs []int  `json:"outputs"`
	// GeneBytes is the span of the gate's gene, marker included.
	GeneBytes int `json:"gene_bytes"`
}

type InspectSummary struct {
	Length         int           `json:"length"`
	Gates          []GateSummary `json:"gates"`
	Deterministic  int           `json:"deterministic"`
	Probabilistic  int           `json:"probabilistic"`
	ConnectedSlots int           `json:"connected_slots"`
	// RemappedSlots counts node map entries that differ from the identity.
	RemappedSlots int `json:"remapped_slots"`
	// CodingBytes sums the gene spans of all gates. Overlapping genes are
	// counted once per gate.
	CodingBytes int `json:"coding_bytes"`
}

// Inspect decodes a genome file and summarizes the circuit it encodes.
// Gate slots are reported after node map translation.
func Inspect(req InspectRequest) (InspectSummary, error) {
	g, err := genome.Load(req.Path, req.WithID)
	if err != nil {
		return InspectSummary{}, err
	}
	return InspectGenome(g, brain.DecodeOptions{
		Probabilistic:   req.ProbabilisticGates,
		IdentityNodeMap: req.IdentityNodeMap,
	}), nil
}

func InspectGenome(g genome.Genome, opts brain.DecodeOptions) InspectSummary {
	net, nodeMap := brain.Decode(g, opts)
	summary := InspectSummary{
		Length: g.Len(),
		Gates:  make([]GateSummary, 0, net.Len()),
	}
	for i := range net.Gates {
		gate := &net.Gates[i]
		ins, outs := gate.Slots(&nodeMap)
		summary.Gates = append(summary.Gates, GateSummary{
			Kind:      gate.Kind.String(),
			Inputs:    ins,
			Outputs:   outs,
			GeneBytes: brain.GateGeneLength(gate.Kind, len(gate.Inputs), len(gate.Outputs)),
		})
		summary.CodingBytes += summary.Gates[len(summary.Gates)-1].GeneBytes
		if gate.Kind == brain.Probabilistic {
			summary.Probabilistic++
		} else {
			summary.Deterministic++
		}
	}
	for _, touched := range brain.Connected(net, &nodeMap) {
		if touched {
			summary.ConnectedSlots++
		}
	}
	for i, v := range nodeMap {
		if int(v) != i {
			summary.RemappedSlots++
		}
	}
	return summary
}
