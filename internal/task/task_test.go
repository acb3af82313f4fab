package task

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markovbrains/internal/agent"
	"markovbrains/internal/brain"
	"markovbrains/internal/genome"
)

// xorGenome encodes a single XOR gate from slots 0 and 1 into OutputSlot
// over an identity node map.
func xorGenome() genome.Genome {
	g := genome.Filled(64, 0)
	copy(g, []byte{
		brain.MarkerGate, 255 - brain.MarkerGate,
		1, 0, // two inputs, one output
		InputSlot, InputSlot + 1, 0, 0,
		OutputSlot, 0, 0, 0,
		0, 1, 1, 0,
	})
	return g
}

func TestNewKnowsBuiltInTasks(t *testing.T) {
	for _, name := range Names() {
		task, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, task.Name())
	}
	_, err := New("pong")
	require.Error(t, err)
}

func TestConstantSetsFitness(t *testing.T) {
	var ids agent.IDSource
	a := agent.New(&ids, genome.Filled(10, 0), brain.DecodeOptions{}, 1)

	var buf bytes.Buffer
	require.NoError(t, Constant{Value: 3}.Evaluate(context.Background(), a, &buf, false))
	assert.Equal(t, 3.0, a.Fitness)
	assert.Equal(t, "0\t3.000000\n", buf.String())
}

func TestXORRewardsCorrectCircuit(t *testing.T) {
	var ids agent.IDSource
	a := agent.New(&ids, xorGenome(), brain.DecodeOptions{IdentityNodeMap: true}, 1)

	require.NoError(t, XOR{Steps: 1}.Evaluate(context.Background(), a, nil, false))
	assert.Equal(t, 4, a.Correct)
	assert.Zero(t, a.Incorrect)
	assert.Equal(t, 16.0, a.Fitness)
	assert.Equal(t, 1, a.BestSteps)
	assert.Equal(t, 4, a.TotalSteps)
}

func TestXORScoresEmptyCircuit(t *testing.T) {
	var ids agent.IDSource
	a := agent.New(&ids, genome.Filled(64, 0), brain.DecodeOptions{}, 1)

	var buf bytes.Buffer
	require.NoError(t, XOR{Steps: 2}.Evaluate(context.Background(), a, &buf, true))
	// A silent circuit answers 0, which is right for two of four cases.
	assert.Equal(t, 2, a.Correct)
	assert.Equal(t, 2, a.Incorrect)
	assert.Equal(t, 4.0, a.Fitness)
	assert.Equal(t, 5, strings.Count(buf.String(), "\n"))
}

func TestSimonCountsEveryReplay(t *testing.T) {
	var ids agent.IDSource
	rng := rand.New(rand.NewSource(5))
	g := genome.Filled(3000, 127)
	genome.PlantStartCodons(g, rng, genome.DefaultSeedOptions())
	a := agent.New(&ids, g, brain.DecodeOptions{}, 7)

	simon := NewSimon()
	require.NoError(t, simon.Evaluate(context.Background(), a, nil, false))

	replays := simon.Rounds * (simon.Rounds + 1) / 2
	assert.Equal(t, replays, a.Correct+a.Incorrect)
	assert.InDelta(t, math.Pow(simon.Base, float64(a.Correct)), a.Fitness, 1e-9)
	assert.Equal(t, 2*replays, a.TotalSteps)
}

func TestSimonIsReproduciblePerAgentSeed(t *testing.T) {
	var ids agent.IDSource
	rng := rand.New(rand.NewSource(6))
	g := genome.Filled(3000, 127)
	genome.PlantStartCodons(g, rng, genome.DefaultSeedOptions())

	a := agent.New(&ids, g.Clone(), brain.DecodeOptions{}, 11)
	b := agent.New(&ids, g.Clone(), brain.DecodeOptions{}, 11)
	require.NoError(t, NewSimon().Evaluate(context.Background(), a, nil, false))
	require.NoError(t, NewSimon().Evaluate(context.Background(), b, nil, false))
	assert.Equal(t, a.Correct, b.Correct)
	assert.Equal(t, a.Fitness, b.Fitness)
}

func TestSimonFourColoursUsesTwoBits(t *testing.T) {
	assert.Equal(t, 1, NewSimon().bits())
	assert.Equal(t, 2, Simon{Colours: 4}.bits())
}

func TestTasksStopOnCancelledContext(t *testing.T) {
	var ids agent.IDSource
	a := agent.New(&ids, genome.Filled(64, 0), brain.DecodeOptions{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, XOR{}.Evaluate(ctx, a, nil, false), context.Canceled)
	assert.ErrorIs(t, NewSimon().Evaluate(ctx, a, nil, false), context.Canceled)
	assert.ErrorIs(t, Constant{}.Evaluate(ctx, a, nil, false), context.Canceled)
}
