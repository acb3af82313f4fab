package markovbrains

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markovbrains/internal/brain"
	"markovbrains/internal/config"
	"markovbrains/internal/genome"
	"markovbrains/internal/stats"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, storeKind string) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    storeKind,
		DBPath:       filepath.Join(base, "store"),
		ArtifactsDir: filepath.Join(base, "out"),
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, filepath.Join(base, "out")
}

func xorGenome(n int) genome.Genome {
	g := genome.Filled(n, 0)
	copy(g, []byte{brain.MarkerGate, 255 - brain.MarkerGate, 1, 0, 0, 1, 0, 0, 255, 0, 0, 0, 0, 1, 1, 0})
	return g
}

func TestClientRunWritesArtifactsAndStore(t *testing.T) {
	client, artifactsDir := newTestClient(t, "memory")
	ctx := context.Background()

	summary, err := client.Run(ctx, RunRequest{
		RunID:           "run-xor",
		Task:            "xor",
		Population:      12,
		Generations:     6,
		Workers:         2,
		Seed:            42,
		MutationRate:    0.005,
		DuplicationRate: 0.05,
		DeletionRate:    0.02,
		GenomeLength:    1500,
		CheckpointEvery: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "run-xor", summary.RunID)
	assert.Equal(t, 6, summary.Generations)
	assert.Len(t, summary.History, 6)
	assert.GreaterOrEqual(t, summary.BestFitness, 1.0, "xor fitness is at least 2^0")
	assert.NotZero(t, summary.LineageLength)

	for _, name := range []string{"config.json", "fitness.csv", "lod.stats.tsv", "lod.genomes.tsv", "best.genome", "agent2.genome", "agent6.genome"} {
		assert.FileExists(t, filepath.Join(summary.ArtifactsDir, name))
	}
	assert.Equal(t, stats.BestGenomePath(artifactsDir, "run-xor"), summary.BestGenomePath)
	assert.Equal(t, []string{
		stats.CheckpointPath(artifactsDir, "run-xor", 2),
		stats.CheckpointPath(artifactsDir, "run-xor", 4),
		stats.CheckpointPath(artifactsDir, "run-xor", 6),
	}, summary.CheckpointPaths)

	cfg, err := client.RunConfig("run-xor")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "xor", cfg.Task)

	runs, err := client.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-xor"}, runs)

	lineage, err := client.Lineage(ctx, LineageRequest{Latest: true})
	require.NoError(t, err)
	require.Len(t, lineage, summary.LineageLength)
	assert.Equal(t, -1, lineage[0].ParentID, "line of descent starts at the seed root")
	for i := 1; i < len(lineage); i++ {
		assert.Equal(t, lineage[i-1].AgentID, lineage[i].ParentID, "lineage broken at %d", i)
		assert.NotZero(t, lineage[i].GenomeLength, "record %d lost its genome length", i)
	}

	stored, err := client.FitnessHistory(ctx, "run-xor")
	require.NoError(t, err)
	assert.Len(t, stored, 6)

	best, err := client.BestGenome(ctx, "run-xor")
	require.NoError(t, err)
	assert.Equal(t, summary.BestAgentID, best.AgentID)
	assert.NotEmpty(t, best.Bytes)

	for _, gen := range []int{2, 4, 6} {
		snapshot, err := client.Population(ctx, "run-xor", gen)
		require.NoError(t, err)
		assert.Len(t, snapshot.AgentIDs, 12)
		// The seed root has no ancestor, so it is never a branch child.
		assert.NotEqual(t, 0, snapshot.BranchAgentID)
		assert.GreaterOrEqual(t, snapshot.BranchAgentID, -1)
		assert.GreaterOrEqual(t, snapshot.NearestBranchID, -1)
	}
	_, err = client.Population(ctx, "run-xor", 3)
	require.Error(t, err)

	index, err := client.RunIndex(0)
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, "xor", index[0].Task)
}

func TestFitnessHistoryFallsBackToArtifacts(t *testing.T) {
	client, artifactsDir := newTestClient(t, "memory")
	ctx := context.Background()
	_, err := client.Run(ctx, RunRequest{
		RunID:        "run-c",
		Task:         "constant",
		Population:   4,
		Generations:  3,
		Seed:         2,
		GenomeLength: 1100,
	})
	require.NoError(t, err)

	// A fresh memory store knows nothing about the earlier run.
	later, err := New(Options{ArtifactsDir: artifactsDir, Logger: quietLogger()})
	require.NoError(t, err)
	history, err := later.FitnessHistory(ctx, "run-c")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[2].Generation)

	_, err = later.FitnessHistory(ctx, "run-unknown")
	require.ErrorContains(t, err, "not found")
	_, err = later.RunConfig("run-unknown")
	require.ErrorContains(t, err, "not found")
}

func TestClientRunRejectsUnknownTask(t *testing.T) {
	client, _ := newTestClient(t, "memory")
	_, err := client.Run(context.Background(), RunRequest{
		Task:         "constant0",
		Population:   5,
		Generations:  3,
		Seed:         1,
		GenomeLength: 1200,
	})
	require.ErrorContains(t, err, "unsupported task")
}

func TestClientRunWithBadgerStore(t *testing.T) {
	client, _ := newTestClient(t, "badger")
	ctx := context.Background()
	summary, err := client.Run(ctx, RunRequest{
		Task:         "constant",
		Population:   6,
		Generations:  4,
		Seed:         3,
		GenomeLength: 1200,
	})
	require.NoError(t, err)
	assert.Zero(t, summary.FallbackGenerations, "positive constant fitness never falls back")

	runs, err := client.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{summary.RunID}, runs)

	cfg, err := client.RunConfig(summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Store)
}

func TestClientRunFromSeedGenomeFile(t *testing.T) {
	client, _ := newTestClient(t, "memory")
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.genome")
	require.NoError(t, genome.Save(path, xorGenome(1200)))

	summary, err := client.Run(context.Background(), RunRequest{
		Task:            "xor",
		Population:      4,
		Generations:     2,
		Seed:            9,
		SeedGenomePath:  path,
		IdentityNodeMap: true,
	})
	require.NoError(t, err)
	// The planted XOR circuit scores all four cases.
	assert.Equal(t, 16.0, summary.BestFitness)

	_, err = client.Run(context.Background(), RunRequest{SeedGenomePath: filepath.Join(dir, "missing.genome")})
	require.Error(t, err)
}

func TestRunRequestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Evolution.Task = "xor"
	cfg.Evolution.Seed = 5
	cfg.Genome.IdentityNodeMap = true

	req := RunRequestFromConfig(cfg)
	assert.Equal(t, "xor", req.Task)
	assert.Equal(t, int64(5), req.Seed)
	assert.Equal(t, 100, req.Population)
	assert.Equal(t, 252, req.Generations)
	assert.Equal(t, 0.005, req.MutationRate)
	assert.Equal(t, 0.01, req.SeedMutationRate)
	assert.True(t, req.IdentityNodeMap)
}

func TestLineageRequestValidation(t *testing.T) {
	client, _ := newTestClient(t, "memory")
	ctx := context.Background()

	_, err := client.Lineage(ctx, LineageRequest{RunID: "a", Latest: true})
	require.Error(t, err)
	_, err = client.Lineage(ctx, LineageRequest{})
	require.Error(t, err)
	_, err = client.Lineage(ctx, LineageRequest{Latest: true})
	require.Error(t, err)
	_, err = client.Lineage(ctx, LineageRequest{RunID: "missing"})
	require.Error(t, err)
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xor.genome")
	require.NoError(t, genome.Save(path, xorGenome(64)))

	summary, err := Inspect(InspectRequest{Path: path, IdentityNodeMap: true})
	require.NoError(t, err)
	assert.Equal(t, 64, summary.Length)
	assert.Equal(t, 1, summary.Deterministic)
	require.Len(t, summary.Gates, 1)
	gate := summary.Gates[0]
	assert.Equal(t, "deterministic", gate.Kind)
	assert.Equal(t, []int{0, 1}, gate.Inputs)
	assert.Equal(t, []int{255}, gate.Outputs)
	// Marker, header and a four-row table.
	assert.Equal(t, 16, gate.GeneBytes)
	assert.Equal(t, 16, summary.CodingBytes)
	assert.Equal(t, 3, summary.ConnectedSlots)
	assert.Zero(t, summary.RemappedSlots)

	// Under the default zero node map every reference collapses onto slot 0.
	zero, err := Inspect(InspectRequest{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 1, zero.ConnectedSlots)
	assert.Equal(t, 255, zero.RemappedSlots)

	_, err = Inspect(InspectRequest{Path: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
}
