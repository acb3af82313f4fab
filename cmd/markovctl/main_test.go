package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markovbrains/internal/brain"
	"markovbrains/internal/genome"
	api "markovbrains/pkg/markovbrains"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEvolveThenQueryRuns(t *testing.T) {
	base := t.TempDir()
	storeArgs := []string{"--store", "badger", "--db-path", filepath.Join(base, "db"), "--out", filepath.Join(base, "out")}

	args := append([]string{"evolve",
		"--log-level", "error",
		"--run-id", "cli-run",
		"--task", "xor",
		"--population", "8",
		"--generations", "4",
		"--genome-length", "1200",
		"--seed", "7",
		"--checkpoint-every", "2",
		"--task-output", filepath.Join(base, "task.tsv"),
	}, storeArgs...)
	out, err := execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "run_id=cli-run")
	assert.Contains(t, out, "generations=4")
	assert.FileExists(t, filepath.Join(base, "out", "cli-run", "agent4.genome"))

	taskLines, err := os.ReadFile(filepath.Join(base, "task.tsv"))
	require.NoError(t, err)
	assert.Equal(t, 8*4, strings.Count(string(taskLines), "\n"))

	out, err = execute(t, append([]string{"runs"}, storeArgs...)...)
	require.NoError(t, err)
	assert.Equal(t, "cli-run\n", out)

	out, err = execute(t, append([]string{"runs", "--index"}, storeArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "task=xor population=8 generations=4 seed=7")

	out, err = execute(t, append([]string{"lineage", "--run-id", "cli-run", "--limit", "2"}, storeArgs...)...)
	require.NoError(t, err)
	// Header plus at most two records; the settled line may be just the root.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.GreaterOrEqual(t, len(lines), 2)
	assert.LessOrEqual(t, len(lines), 3)
	assert.True(t, strings.HasPrefix(lines[0], "agent"))
}

func TestEvolveConfigFileWithFlagOverride(t *testing.T) {
	base := t.TempDir()
	cfgPath := filepath.Join(base, "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
evolution:
  task: constant
  population: 5
  generations: 9
  seed: 3
genome:
  length: 1100
output:
  checkpoint_every: 0
`), 0o644))

	out, err := execute(t, "evolve", "--log-level", "error", "--config", cfgPath, "--generations", "2", "--out", filepath.Join(base, "out"))
	require.NoError(t, err)
	assert.Contains(t, out, "generations=2")
	assert.Contains(t, out, "seed=3")
	assert.NotContains(t, out, "uniform_fallback_generations")
}

func TestEvolveTakesStoreAndOutputFromConfigFile(t *testing.T) {
	base := t.TempDir()
	outDir := filepath.Join(base, "from-config")
	dbDir := filepath.Join(base, "db")
	taskPath := filepath.Join(base, "task.tsv")
	cfgPath := filepath.Join(base, "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
evolution:
  task: constant
  population: 4
  generations: 3
  seed: 5
genome:
  length: 1100
output:
  dir: `+outDir+`
  checkpoint_every: 0
  task_output: `+taskPath+`
store:
  kind: badger
  path: `+dbDir+`
`), 0o644))

	out, err := execute(t, "evolve", "--log-level", "error", "--config", cfgPath, "--run-id", "r")
	require.NoError(t, err)
	assert.Contains(t, out, "artifacts="+filepath.Join(outDir, "r"))
	assert.Contains(t, out, "best_genome="+filepath.Join(outDir, "r", "best.genome"))
	assert.DirExists(t, dbDir)
	assert.FileExists(t, filepath.Join(outDir, "r", "config.json"))
	taskLines, err := os.ReadFile(taskPath)
	require.NoError(t, err)
	assert.Equal(t, 4*3, strings.Count(string(taskLines), "\n"))

	out, err = execute(t, "runs", "--store", "badger", "--db-path", dbDir)
	require.NoError(t, err)
	assert.Equal(t, "r\n", out)

	// Flags still win over the file.
	other := filepath.Join(base, "other")
	out, err = execute(t, "evolve", "--log-level", "error", "--config", cfgPath, "--run-id", "m",
		"--store", "memory", "--out", other)
	require.NoError(t, err)
	assert.Contains(t, out, "artifacts="+filepath.Join(other, "m"))

	out, err = execute(t, "history", "--run-id", "m", "--out", other)
	require.NoError(t, err)
	assert.Contains(t, out, "run_id=m task=constant population=4 generations=3 seed=5 store=memory")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 1+1+3)
}

func TestEvolveRejectsInvalidInput(t *testing.T) {
	base := t.TempDir()
	_, err := execute(t, "evolve", "--population", "0", "--out", base)
	require.ErrorContains(t, err, "evolution.population")

	_, err = execute(t, "evolve", "--task", "pong", "--generations", "1", "--population", "2", "--genome-length", "1100", "--out", base, "--log-level", "error")
	require.ErrorContains(t, err, "unsupported task")

	_, err = execute(t, "evolve", "--log-level", "loud")
	require.ErrorContains(t, err, "invalid log level")

	_, err = execute(t, "evolve", "--store", "etcd", "--out", base)
	require.ErrorContains(t, err, "store.kind")

	_, err = execute(t, "history", "--out", base)
	require.ErrorContains(t, err, "--run-id")
}

func TestInspectPrintsGates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xor.genome")
	g := genome.Filled(64, 0)
	copy(g, []byte{brain.MarkerGate, 255 - brain.MarkerGate, 1, 0, 0, 1, 0, 0, 255, 0, 0, 0, 0, 1, 1, 0})
	require.NoError(t, genome.Save(path, g))

	out, err := execute(t, "inspect", "--identity-node-map", path)
	require.NoError(t, err)
	assert.Contains(t, out, "length=64 gates=1 deterministic=1")
	assert.Contains(t, out, "coding_bytes=16")
	assert.Contains(t, out, "gate 0 deterministic in=0,1 out=255 bytes=16")

	out, err = execute(t, "inspect", "--json", path)
	require.NoError(t, err)
	var summary api.InspectSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 1, summary.ConnectedSlots)

	_, err = execute(t, "inspect")
	require.Error(t, err)
}
