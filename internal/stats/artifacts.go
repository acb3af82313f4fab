package stats

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"markovbrains/internal/agent"
	"markovbrains/internal/evo"
	"markovbrains/internal/genome"
	"markovbrains/internal/model"
)

const (
	runIndexFile      = "run_index.json"
	configFile        = "config.json"
	fitnessFile       = "fitness.csv"
	lodStatsFile      = "lod.stats.tsv"
	lodGenomesFile    = "lod.genomes.tsv"
	bestGenomeFile    = "best.genome"
	checkpointPattern = "agent%d.genome"
)

var fitnessHeader = []string{
	"generation", "max_fitness", "mean_fitness", "min_fitness",
	"mean_genome_length", "mean_gates", "uniform_fallback",
}

type RunConfig struct {
	RunID           string  `json:"run_id"`
	Task            string  `json:"task"`
	PopulationSize  int     `json:"population_size"`
	Generations     int     `json:"generations"`
	Seed            int64   `json:"seed"`
	Workers         int     `json:"workers"`
	MutationRate    float64 `json:"mutation_rate"`
	DuplicationRate float64 `json:"duplication_rate"`
	DeletionRate    float64 `json:"deletion_rate"`
	GenomeLength    int     `json:"genome_length"`
	SeedGenome      string  `json:"seed_genome,omitempty"`
	CheckpointEvery int     `json:"checkpoint_every"`
	Probabilistic   bool    `json:"probabilistic_gates"`
	IdentityNodeMap bool    `json:"identity_node_map"`
	Store           string  `json:"store"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	Task             string  `json:"task"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

// RunWriter records a run into its own directory below a base directory. It
// observes the run: every generation appends a fitness row, every checkpoint
// writes the checkpoint genome and extends the line of descent up to the
// population's common ancestor.
type RunWriter struct {
	baseDir     string
	runID       string
	dir         string
	checkpoints []string
	fitness    *os.File
	csv        *csv.Writer
	lodStats   *os.File
	lodGenomes *os.File
}

func NewRunWriter(baseDir string, cfg RunConfig) (*RunWriter, error) {
	if strings.TrimSpace(cfg.RunID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	dir := filepath.Join(baseDir, cfg.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(dir, configFile), cfg); err != nil {
		return nil, err
	}

	w := &RunWriter{baseDir: baseDir, runID: cfg.RunID, dir: dir}
	var err error
	if w.fitness, err = os.Create(filepath.Join(dir, fitnessFile)); err != nil {
		return nil, err
	}
	w.csv = csv.NewWriter(w.fitness)
	if err := w.csv.Write(fitnessHeader); err != nil {
		w.Close()
		return nil, err
	}
	if w.lodStats, err = os.Create(filepath.Join(dir, lodStatsFile)); err != nil {
		w.Close()
		return nil, err
	}
	if w.lodGenomes, err = os.Create(filepath.Join(dir, lodGenomesFile)); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *RunWriter) Dir() string {
	return w.dir
}

func (w *RunWriter) ObserveGeneration(_ context.Context, report evo.GenerationReport) error {
	s := report.Stats
	if err := w.csv.Write([]string{
		strconv.Itoa(s.Generation),
		formatFloat(s.MaxFitness),
		formatFloat(s.MeanFitness),
		formatFloat(s.MinFitness),
		formatFloat(s.MeanGenomeLength),
		formatFloat(s.MeanGates),
		strconv.FormatBool(s.UniformFallback),
	}); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

func (w *RunWriter) ObserveCheckpoint(_ context.Context, cp evo.Checkpoint) error {
	if cp.Agent != nil && cp.Agent.Genome() != nil {
		path := CheckpointPath(w.baseDir, w.runID, cp.Generation)
		if err := genome.Save(path, cp.Agent.Genome()); err != nil {
			return err
		}
		w.checkpoints = append(w.checkpoints, path)
	}
	if cp.CommonAncestor != nil {
		return w.ExportLineage(cp.CommonAncestor)
	}
	return nil
}

// ExportLineage appends the not yet written part of a's line of descent.
func (w *RunWriter) ExportLineage(a *agent.Agent) error {
	return a.ExportLineage(w.lodStats, w.lodGenomes)
}

// WriteBest saves the run's champion genome and returns its path.
func (w *RunWriter) WriteBest(g genome.Genome) (string, error) {
	path := BestGenomePath(w.baseDir, w.runID)
	if err := genome.Save(path, g); err != nil {
		return "", err
	}
	return path, nil
}

// Checkpoints lists the checkpoint genome files written so far, oldest first.
func (w *RunWriter) Checkpoints() []string {
	return append([]string(nil), w.checkpoints...)
}

func (w *RunWriter) Close() error {
	var first error
	if w.csv != nil {
		w.csv.Flush()
		first = w.csv.Error()
	}
	for _, f := range []*os.File{w.fitness, w.lodStats, w.lodGenomes} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func CheckpointPath(baseDir, runID string, generation int) string {
	return filepath.Join(baseDir, runID, fmt.Sprintf(checkpointPattern, generation))
}

func BestGenomePath(baseDir, runID string) string {
	return filepath.Join(baseDir, runID, bestGenomeFile)
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

// ReadFitnessHistory parses fitness.csv back into generation statistics.
func ReadFitnessHistory(baseDir, runID string) ([]model.GenerationStats, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, fitnessFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(fitnessHeader)
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return []model.GenerationStats{}, true, nil
		}
		return nil, false, err
	}

	var history []model.GenerationStats
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		s, err := parseFitnessRow(record)
		if err != nil {
			return nil, false, err
		}
		history = append(history, s)
	}
	return history, true, nil
}

func parseFitnessRow(record []string) (model.GenerationStats, error) {
	var s model.GenerationStats
	var err error
	if s.Generation, err = strconv.Atoi(record[0]); err != nil {
		return s, fmt.Errorf("fitness row generation: %w", err)
	}
	floats := []*float64{&s.MaxFitness, &s.MeanFitness, &s.MinFitness, &s.MeanGenomeLength, &s.MeanGates}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(record[i+1], 64); err != nil {
			return s, fmt.Errorf("fitness row %s: %w", fitnessHeader[i+1], err)
		}
	}
	if s.UniformFallback, err = strconv.ParseBool(record[6]); err != nil {
		return s, fmt.Errorf("fitness row uniform_fallback: %w", err)
	}
	return s, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the indexed runs, newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
