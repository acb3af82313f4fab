package brain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// putGate writes a deterministic gate gene at pos. ins and outs must hold
// between 1 and 4 entries and table must hold 1<<len(ins) entries.
func putGate(genome []byte, pos int, ins, outs []int, table []byte) {
	genome[pos] = MarkerGate
	genome[pos+1] = 255 - MarkerGate
	genome[pos+gateInCount] = byte(len(ins) - 1)
	genome[pos+gateOutCount] = byte(len(outs) - 1)
	for j, in := range ins {
		genome[pos+gateInputs+j] = byte(in)
	}
	for j, out := range outs {
		genome[pos+gateOutputs+j] = byte(out)
	}
	copy(genome[pos+gateTable:], table)
}

func randomGenome(rng *rand.Rand, n int) []byte {
	g := make([]byte, n)
	for i := range g {
		g[i] = byte(rng.Intn(256))
	}
	return g
}

func TestDecodeIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		genome := randomGenome(rng, 2000+rng.Intn(3000))
		for k := 0; k < 8; k++ {
			pos := rng.Intn(len(genome) - 40)
			genome[pos] = MarkerGate
			genome[pos+1] = 255 - MarkerGate
		}
		opts := DecodeOptions{Probabilistic: i%2 == 0}

		netA, mapA := Decode(genome, opts)
		netB, mapB := Decode(genome, opts)
		require.Equal(t, netA, netB)
		require.Equal(t, mapA, mapB)
		require.GreaterOrEqual(t, netA.Len(), 8)
	}
}

func TestDecodeShortGenomesYieldEmptyNetwork(t *testing.T) {
	for _, genome := range [][]byte{nil, {}, {MarkerGate}} {
		net, nodeMap := Decode(genome, DecodeOptions{})
		assert.Zero(t, net.Len())
		assert.Equal(t, ZeroNodeMap(), nodeMap)
	}
}

func TestDecodeWrapsMarkerAcrossGenomeEnd(t *testing.T) {
	genome := make([]byte, 64)
	genome[len(genome)-1] = MarkerGate
	genome[0] = 255 - MarkerGate
	genome[1] = 1 // two inputs, read at offset 2 from the wrapped marker
	genome[2] = 0 // one output
	genome[3], genome[4] = 10, 11
	genome[7] = 200

	net, _ := Decode(genome, DecodeOptions{})
	require.Equal(t, 1, net.Len())
	gate := net.Gates[0]
	assert.Equal(t, []int{10, 11}, gate.Inputs)
	assert.Equal(t, []int{200}, gate.Outputs)
}

func TestDecodeSlidingScanFindsOverlappingGenes(t *testing.T) {
	genome := make([]byte, 64)
	putGate(genome, 0, []int{1}, []int{2}, []byte{1, 0})
	// A second marker inside the first gene's input region.
	genome[gateInputs+1] = MarkerGate
	genome[gateInputs+2] = 255 - MarkerGate

	net, _ := Decode(genome, DecodeOptions{})
	assert.Equal(t, 2, net.Len())
}

func TestDecodeNodeMapModifiersCompose(t *testing.T) {
	genome := make([]byte, 40)
	copy(genome[0:], []byte{MarkerNodeMap, 255 - MarkerNodeMap, 250, 10, 3})
	copy(genome[10:], []byte{MarkerNodeMap, 255 - MarkerNodeMap, 252, 2, 255})

	_, nodeMap := Decode(genome, DecodeOptions{})
	for i := 250; i < 256; i++ {
		want := 3
		if i == 252 || i == 253 {
			want = (3 + 255) % MaxNodes
		}
		assert.Equalf(t, uint8(want), nodeMap[i], "entry %d", i)
	}
	for i := 0; i < 4; i++ {
		assert.Equalf(t, uint8(3), nodeMap[i], "wrapped entry %d", i)
	}
	assert.Equal(t, uint8(0), nodeMap[4])
	assert.Equal(t, uint8(0), nodeMap[249])
}

func TestDecodeIdentityNodeMapOption(t *testing.T) {
	_, nodeMap := Decode(make([]byte, 10), DecodeOptions{IdentityNodeMap: true})
	assert.Equal(t, IdentityNodeMap(), nodeMap)
}

func TestDecodeProbabilisticGenesRequireOption(t *testing.T) {
	genome := make([]byte, 64)
	genome[5] = MarkerProbabilistic
	genome[6] = 255 - MarkerProbabilistic

	net, _ := Decode(genome, DecodeOptions{})
	assert.Zero(t, net.Len())

	net, _ = Decode(genome, DecodeOptions{Probabilistic: true})
	require.Equal(t, 1, net.Len())
	gate := net.Gates[0]
	assert.Equal(t, Probabilistic, gate.Kind)
	for _, row := range gate.Cumulative {
		assert.InDelta(t, 1.0, row[len(row)-1], 1e-12)
	}
}

func TestDecodedIndicesStayInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 30; i++ {
		genome := randomGenome(rng, 500+rng.Intn(1500))
		for k := 0; k < 6; k++ {
			pos := rng.Intn(len(genome))
			genome[pos] = MarkerGate
			genome[(pos+1)%len(genome)] = 255 - MarkerGate
			pos = rng.Intn(len(genome))
			genome[pos] = MarkerNodeMap
			genome[(pos+1)%len(genome)] = 255 - MarkerNodeMap
		}
		net, nodeMap := Decode(genome, DecodeOptions{Probabilistic: true})
		for g := range net.Gates {
			gate := &net.Gates[g]
			assert.LessOrEqual(t, len(gate.Inputs), maxGateInOuts)
			assert.LessOrEqual(t, len(gate.Outputs), maxGateInOuts)
			ins, outs := gate.Slots(&nodeMap)
			for _, s := range append(ins, outs...) {
				require.GreaterOrEqual(t, s, 0)
				require.Less(t, s, MaxNodes)
			}
		}
	}
}

func TestGateGeneLength(t *testing.T) {
	assert.Equal(t, gateTable+4, GateGeneLength(Deterministic, 2, 3))
	assert.Equal(t, gateTable+4*8, GateGeneLength(Probabilistic, 2, 3))
}
