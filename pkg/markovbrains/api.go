package markovbrains

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"markovbrains/internal/agent"
	"markovbrains/internal/brain"
	"markovbrains/internal/config"
	"markovbrains/internal/evo"
	"markovbrains/internal/genome"
	"markovbrains/internal/metrics"
	"markovbrains/internal/model"
	"markovbrains/internal/stats"
	"markovbrains/internal/storage"
	"markovbrains/internal/task"
)

const (
	defaultArtifactsDir = "out"
	defaultDBPath       = "markovbrains.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	Logger       *slog.Logger
	// Registry receives the run metrics. Nil uses a private registry.
	Registry *prometheus.Registry
}

type Client struct {
	store        storage.Store
	storeKind    string
	artifactsDir string
	log          *slog.Logger
	metrics      *metrics.Recorder
	initialized  bool
}

type RunRequest struct {
	RunID              string
	Task               string
	Population         int
	Generations        int
	Workers            int
	Seed               int64
	MutationRate       float64
	DuplicationRate    float64
	DeletionRate       float64
	SeedMutationRate   float64
	GenomeLength       int
	SeedGenomePath     string
	SeedGenomeHasID    bool
	ProbabilisticGates bool
	IdentityNodeMap    bool
	CheckpointEvery    int
	LogEvery           int
	// TaskOutput receives the per-agent lines written by the task.
	TaskOutput io.Writer
}

type RunSummary struct {
	RunID               string
	Seed                int64
	ArtifactsDir        string
	Generations         int
	BestFitness         float64
	BestAgentID         int
	FallbackGenerations int
	History             []model.GenerationStats
	LineageLength       int
	// BestGenomePath is empty when no generation was evaluated.
	BestGenomePath  string
	CheckpointPaths []string
}

type LineageRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" && storeKind == "sqlite" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		store:        store,
		storeKind:    storeKind,
		artifactsDir: artifactsDir,
		log:          logger,
		metrics:      metrics.NewRecorder(opts.Registry),
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.initialized = true
	return nil
}

// Metrics exposes the recorder so callers can serve its handler.
func (c *Client) Metrics() *metrics.Recorder {
	return c.metrics
}

// RunRequestFromConfig maps a loaded configuration onto a run request.
func RunRequestFromConfig(cfg config.Config) RunRequest {
	return RunRequest{
		Task:               cfg.Evolution.Task,
		Population:         cfg.Evolution.Population,
		Generations:        cfg.Evolution.Generations,
		Workers:            cfg.Evolution.Workers,
		Seed:               cfg.Evolution.Seed,
		MutationRate:       cfg.Rates.Mutation,
		DuplicationRate:    cfg.Rates.Duplication,
		DeletionRate:       cfg.Rates.Deletion,
		SeedMutationRate:   cfg.Rates.SeedMutation,
		GenomeLength:       cfg.Genome.Length,
		SeedGenomePath:     cfg.Genome.SeedPath,
		SeedGenomeHasID:    cfg.Genome.SeedHasID,
		ProbabilisticGates: cfg.Genome.Probabilistic,
		IdentityNodeMap:    cfg.Genome.IdentityNodeMap,
		CheckpointEvery:    cfg.Output.CheckpointEvery,
		LogEvery:           cfg.Output.LogEvery,
	}
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	def := config.Default()
	if req.Task == "" {
		req.Task = def.Evolution.Task
	}
	if req.Population <= 0 {
		req.Population = def.Evolution.Population
	}
	if req.Generations <= 0 {
		req.Generations = def.Evolution.Generations
	}
	if req.GenomeLength <= 0 {
		req.GenomeLength = def.Genome.Length
	}
	if req.Seed == 0 {
		req.Seed = time.Now().UnixNano()
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	t, err := task.New(req.Task)
	if err != nil {
		return RunSummary{}, err
	}

	rng := rand.New(rand.NewSource(req.Seed))
	decode := brain.DecodeOptions{Probabilistic: req.ProbabilisticGates, IdentityNodeMap: req.IdentityNodeMap}
	seedGenome, err := loadSeedGenome(req, rng)
	if err != nil {
		return RunSummary{}, err
	}

	var ids agent.IDSource
	root := agent.New(&ids, seedGenome, decode, rng.Int63())
	bounds := genome.DefaultBounds()
	pop, err := evo.NewPopulation(evo.Config{
		Size:    req.Population,
		Workers: req.Workers,
		Rates: agent.Rates{
			Mutation:    req.MutationRate,
			Duplication: req.DuplicationRate,
			Deletion:    req.DeletionRate,
			Bounds:      bounds,
		},
	}, rng, &ids)
	if err != nil {
		return RunSummary{}, err
	}
	pop.Seed(root, agent.Rates{Mutation: req.SeedMutationRate, Bounds: bounds})
	defer pop.Close()

	writer, err := stats.NewRunWriter(c.artifactsDir, stats.RunConfig{
		RunID:           req.RunID,
		Task:            t.Name(),
		PopulationSize:  req.Population,
		Generations:     req.Generations,
		Seed:            req.Seed,
		Workers:         req.Workers,
		MutationRate:    req.MutationRate,
		DuplicationRate: req.DuplicationRate,
		DeletionRate:    req.DeletionRate,
		GenomeLength:    seedGenome.Len(),
		SeedGenome:      req.SeedGenomePath,
		CheckpointEvery: req.CheckpointEvery,
		Probabilistic:   req.ProbabilisticGates,
		IdentityNodeMap: req.IdentityNodeMap,
		Store:           c.storeKind,
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("create run artifacts: %w", err)
	}
	defer writer.Close()

	monitor, err := evo.NewPopulationMonitor(pop, evo.MonitorConfig{
		RunID:           req.RunID,
		Task:            t,
		Generations:     req.Generations,
		CheckpointEvery: req.CheckpointEvery,
		LogEvery:        req.LogEvery,
		TaskOutput:      req.TaskOutput,
		// The store copies checkpoint genomes before the writer's lineage
		// export may release them.
		Observers: []evo.Observer{
			storeObserver{store: c.store},
			writer,
			c.metrics.Observer(t.Name()),
		},
		Logger: c.log,
	})
	if err != nil {
		return RunSummary{}, err
	}

	result, err := monitor.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	lineage, bestPath, err := c.finishRun(ctx, req.RunID, pop, writer, result)
	if err != nil {
		return RunSummary{}, err
	}

	fallbackGenerations := 0
	for _, s := range result.History {
		if s.UniformFallback {
			fallbackGenerations++
		}
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:            req.RunID,
		Task:             t.Name(),
		PopulationSize:   req.Population,
		Generations:      result.Generations,
		Seed:             req.Seed,
		FinalBestFitness: result.BestFitness,
		CreatedAtUTC:     time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:               req.RunID,
		Seed:                req.Seed,
		ArtifactsDir:        filepath.Clean(writer.Dir()),
		Generations:         result.Generations,
		BestFitness:         result.BestFitness,
		BestAgentID:         result.BestAgentID,
		FallbackGenerations: fallbackGenerations,
		History:             result.History,
		LineageLength:       lineage,
		BestGenomePath:      bestPath,
		CheckpointPaths:     writer.Checkpoints(),
	}, nil
}

// finishRun exports the settled line of descent and persists the run's
// summary records. It returns the number of lineage records stored and the
// path of the best genome file.
func (c *Client) finishRun(ctx context.Context, runID string, pop *evo.Population, writer *stats.RunWriter, result evo.RunResult) (int, string, error) {
	var records []model.LineageRecord
	if lca := agent.CommonAncestor(pop.Agents()); lca != nil {
		for _, a := range lca.LineOfDescent() {
			records = append(records, a.Record())
		}
		if err := writer.ExportLineage(lca); err != nil {
			return 0, "", fmt.Errorf("export lineage: %w", err)
		}
	}
	if err := c.store.SaveLineage(ctx, runID, records); err != nil {
		return 0, "", err
	}
	if err := c.store.SaveGenerationStats(ctx, runID, result.History); err != nil {
		return 0, "", err
	}
	branch, nearest := -1, -1
	if a := pop.CheckpointAgent(); a != nil {
		branch, nearest = idOrNone(a.FindOldestBranchChild()), idOrNone(a.FindLeastCommonAncestorBelowRoot())
	}
	if err := c.store.SavePopulation(ctx, model.PopulationSnapshot{
		VersionedRecord: storage.CurrentVersion(),
		ID:              populationID(runID, result.Generations),
		RunID:           runID,
		Generation:      result.Generations,
		AgentIDs:        result.FinalAgentIDs,
		BranchAgentID:   branch,
		NearestBranchID: nearest,
	}); err != nil {
		return 0, "", err
	}

	var bestPath string
	if result.BestGenome != nil {
		var err error
		if bestPath, err = writer.WriteBest(result.BestGenome); err != nil {
			return 0, "", err
		}
		if err := c.store.SaveGenome(ctx, model.GenomeRecord{
			VersionedRecord: storage.CurrentVersion(),
			ID:              BestGenomeID(runID),
			RunID:           runID,
			AgentID:         result.BestAgentID,
			Generation:      result.Generations,
			Bytes:           result.BestGenome,
		}); err != nil {
			return 0, "", err
		}
	}
	return len(records), bestPath, nil
}


func loadSeedGenome(req RunRequest, rng *rand.Rand) (genome.Genome, error) {
	if req.SeedGenomePath != "" {
		g, err := genome.Load(req.SeedGenomePath, req.SeedGenomeHasID)
		if err != nil {
			return nil, fmt.Errorf("load seed genome: %w", err)
		}
		return g, nil
	}
	g := genome.Filled(req.GenomeLength, 0)
	genome.PlantStartCodons(g, rng, genome.DefaultSeedOptions())
	return g, nil
}

// Runs lists the run ids known to the store.
func (c *Client) Runs(ctx context.Context) ([]string, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListRuns(ctx)
}

// RunIndex lists the runs recorded in the artifacts directory, newest first.
func (c *Client) RunIndex(limit int) ([]stats.RunIndexEntry, error) {
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (c *Client) Lineage(ctx context.Context, req LineageRequest) ([]model.LineageRecord, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return nil, errors.New("lineage requires run id or latest")
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	return lineage, nil
}

// FitnessHistory returns the per-generation statistics of a run. Runs the
// store does not know, such as memory-store runs of an earlier process, are
// read back from the artifacts directory.
func (c *Client) FitnessHistory(ctx context.Context, runID string) ([]model.GenerationStats, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetGenerationStats(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ok {
		return history, nil
	}
	history, ok, err = stats.ReadFitnessHistory(c.artifactsDir, runID)
	if err != nil {
		return nil, fmt.Errorf("read fitness artifacts: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	return history, nil
}

// RunConfig returns the configuration recorded in a run's artifacts.
func (c *Client) RunConfig(runID string) (stats.RunConfig, error) {
	cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, runID)
	if err != nil {
		return stats.RunConfig{}, fmt.Errorf("read run config: %w", err)
	}
	if !ok {
		return stats.RunConfig{}, fmt.Errorf("run config not found for run id: %s", runID)
	}
	return cfg, nil
}

// Population returns the population snapshot stored for a checkpoint or the
// final generation of a run.
func (c *Client) Population(ctx context.Context, runID string, generation int) (model.PopulationSnapshot, error) {
	if err := c.Init(ctx); err != nil {
		return model.PopulationSnapshot{}, err
	}
	snapshot, ok, err := c.store.GetPopulation(ctx, populationID(runID, generation))
	if err != nil {
		return model.PopulationSnapshot{}, err
	}
	if !ok {
		return model.PopulationSnapshot{}, fmt.Errorf("population not found for run %s generation %d", runID, generation)
	}
	return snapshot, nil
}

// BestGenome returns the stored champion genome of a run.
func (c *Client) BestGenome(ctx context.Context, runID string) (model.GenomeRecord, error) {
	if err := c.Init(ctx); err != nil {
		return model.GenomeRecord{}, err
	}
	rec, ok, err := c.store.GetGenome(ctx, BestGenomeID(runID))
	if err != nil {
		return model.GenomeRecord{}, err
	}
	if !ok {
		return model.GenomeRecord{}, fmt.Errorf("best genome not found for run id: %s", runID)
	}
	return rec, nil
}

func BestGenomeID(runID string) string {
	return runID + "/best"
}

func CheckpointGenomeID(runID string, generation int) string {
	return fmt.Sprintf("%s/checkpoint/%d", runID, generation)
}

func populationID(runID string, generation int) string {
	return fmt.Sprintf("%s/population/%d", runID, generation)
}

// storeObserver persists checkpoint genomes and the population that
// produced them.
type storeObserver struct {
	store storage.Store
}

func (storeObserver) ObserveGeneration(context.Context, evo.GenerationReport) error {
	return nil
}

func (o storeObserver) ObserveCheckpoint(ctx context.Context, cp evo.Checkpoint) error {
	if err := o.store.SaveGenome(ctx, model.GenomeRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              CheckpointGenomeID(cp.RunID, cp.Generation),
		RunID:           cp.RunID,
		AgentID:         cp.Agent.ID,
		Generation:      cp.Generation,
		Bytes:           cp.Agent.Genome().Clone(),
	}); err != nil {
		return err
	}
	return o.store.SavePopulation(ctx, model.PopulationSnapshot{
		VersionedRecord: storage.CurrentVersion(),
		ID:              populationID(cp.RunID, cp.Generation),
		RunID:           cp.RunID,
		Generation:      cp.Generation,
		AgentIDs:        cp.AgentIDs,
		BranchAgentID:   idOrNone(cp.Branch),
		NearestBranchID: idOrNone(cp.NearestBranch),
	})
}

func idOrNone(a *agent.Agent) int {
	if a == nil {
		return -1
	}
	return a.ID
}
