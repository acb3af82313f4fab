package agent

import (
	"math/rand"
	"sync/atomic"

	"markovbrains/internal/brain"
	"markovbrains/internal/genome"
)

// IDSource hands out unique, monotonically increasing agent ids.
type IDSource struct {
	next atomic.Int64
}

func (s *IDSource) Next() int {
	return int(s.next.Add(1) - 1)
}

// Agent owns a genome, the circuit decoded from it and the state vector the
// circuit runs over. Ancestors are shared: an agent stays alive while its
// population slot or any descendant still references it.
type Agent struct {
	ID   int
	Born int

	Fitness    float64
	Correct    int
	Incorrect  int
	BestSteps  int
	TotalSteps int
	Offspring  int

	genome  genome.Genome
	length  int
	decode  brain.DecodeOptions
	network brain.Network
	nodeMap brain.NodeMap
	states  brain.States
	rng     *rand.Rand

	ancestor  *Agent
	refs      int
	retired   bool
	saved     bool
	destroyed bool
}

// New builds an unreferenced root agent from g. seed drives the agent's
// private random stream (probabilistic gates and task randomness).
func New(ids *IDSource, g genome.Genome, decode brain.DecodeOptions, seed int64) *Agent {
	a := &Agent{
		ID:        ids.Next(),
		BestSteps: -1,
		genome:    g,
		decode:    decode,
		rng:       rand.New(rand.NewSource(seed)),
	}
	a.Rebuild()
	return a
}

// Rebuild re-decodes the circuit from the current genome.
func (a *Agent) Rebuild() {
	a.length = len(a.genome)
	a.network, a.nodeMap = brain.Decode(a.genome, a.decode)
}

func (a *Agent) Genome() genome.Genome {
	return a.genome
}

// SetGenome replaces the genome and rebuilds the circuit.
func (a *Agent) SetGenome(g genome.Genome) {
	a.genome = g
	a.Rebuild()
}

func (a *Agent) Network() brain.Network {
	return a.network
}

func (a *Agent) NodeMap() brain.NodeMap {
	return a.nodeMap
}

// States exposes the state vector so tasks can write inputs and read outputs
// between updates.
func (a *Agent) States() *brain.States {
	return &a.states
}

// Rand is the agent's private random stream.
func (a *Agent) Rand() *rand.Rand {
	return a.rng
}

// Update runs the circuit for one step.
func (a *Agent) Update() {
	brain.Step(a.network, &a.nodeMap, &a.states, a.rng)
	a.TotalSteps++
}

// ResetBrain zeroes the state vector, keeping the decoded circuit.
func (a *Agent) ResetBrain() {
	a.states.Reset()
}

// Inputs writes bits into consecutive slots starting at first.
func (a *Agent) Inputs(first int, bits ...uint8) {
	for i, b := range bits {
		a.states.Set(first+i, b&1)
	}
}

func (a *Agent) Output(slot int) uint8 {
	return a.states.Get(slot) & 1
}
