package evo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"markovbrains/internal/agent"
	"markovbrains/internal/genome"
	"markovbrains/internal/model"
	"markovbrains/internal/task"
)

// GenerationReport is handed to observers after a generation was evaluated
// and bred, before its agents are replaced.
type GenerationReport struct {
	RunID      string
	Stats      model.GenerationStats
	Fallbacks  int
	Population []*agent.Agent
	Elapsed    time.Duration
}

// Checkpoint is taken after turnover every CheckpointEvery generations.
type Checkpoint struct {
	RunID      string
	Generation int
	// Agent is the grandparent of slot 0.
	Agent *agent.Agent
	// CommonAncestor is the youngest ancestor shared by the whole
	// population; the history above it is settled.
	CommonAncestor *agent.Agent
	// Branch is the agent on Agent's line just below its oldest branching
	// ancestor; NearestBranch is the youngest ancestor above Agent's parent
	// that more than one line still shares. Either may be nil.
	Branch        *agent.Agent
	NearestBranch *agent.Agent
	AgentIDs      []int
}

// Observer follows a run. Agents passed to an observer are only valid for
// the duration of the call.
type Observer interface {
	ObserveGeneration(ctx context.Context, report GenerationReport) error
	ObserveCheckpoint(ctx context.Context, cp Checkpoint) error
}

type MonitorConfig struct {
	RunID           string
	Task            task.Task
	Generations     int
	CheckpointEvery int
	LogEvery        int
	// TaskOutput receives the per-agent lines written by the task.
	TaskOutput io.Writer
	Observers  []Observer
	Logger     *slog.Logger
}

type RunResult struct {
	RunID         string
	Generations   int
	BestFitness   float64
	BestAgentID   int
	BestGenome    genome.Genome
	History       []model.GenerationStats
	Fallbacks     int
	FinalAgentIDs []int
}

// PopulationMonitor drives a seeded population through its generations.
type PopulationMonitor struct {
	cfg MonitorConfig
	pop *Population
	log *slog.Logger
}

func NewPopulationMonitor(pop *Population, cfg MonitorConfig) (*PopulationMonitor, error) {
	if pop == nil || pop.Size() == 0 {
		return nil, fmt.Errorf("seeded population is required")
	}
	if cfg.Task == nil {
		return nil, fmt.Errorf("task is required")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.CheckpointEvery < 0 {
		return nil, fmt.Errorf("checkpoint frequency must be >= 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 1
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PopulationMonitor{
		cfg: cfg,
		pop: pop,
		log: logger.With("run_id", cfg.RunID, "task", cfg.Task.Name()),
	}, nil
}

func (m *PopulationMonitor) RunID() string {
	return m.cfg.RunID
}

// Run evaluates and replaces the population once per generation, counting
// generations from 1. Offspring created in generation g are born in g.
func (m *PopulationMonitor) Run(ctx context.Context) (RunResult, error) {
	result := RunResult{
		RunID:       m.cfg.RunID,
		BestAgentID: -1,
		History:     make([]model.GenerationStats, 0, m.cfg.Generations),
	}
	m.log.Info("starting evolution",
		"population", m.pop.Size(),
		"generations", m.cfg.Generations,
		"workers", m.pop.cfg.Workers,
	)

	for gen := 1; gen <= m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		started := time.Now()
		if err := m.pop.Evaluate(ctx, m.cfg.Task, m.cfg.TaskOutput); err != nil {
			return result, fmt.Errorf("generation %d: %w", gen, err)
		}
		stats := m.pop.Summarize(gen)

		if best := m.pop.Best(); best != nil && (result.BestAgentID < 0 || best.Fitness > result.BestFitness) {
			result.BestFitness = best.Fitness
			result.BestAgentID = best.ID
			result.BestGenome = best.Genome().Clone()
		}

		next, fallbacks := m.pop.breed(gen)
		stats.UniformFallback = fallbacks > 0
		result.Fallbacks += fallbacks
		result.History = append(result.History, stats)
		result.Generations = gen

		// Observers see the evaluated generation while its slots still hold it.
		err := m.notifyGeneration(ctx, GenerationReport{
			RunID:      m.cfg.RunID,
			Stats:      stats,
			Fallbacks:  fallbacks,
			Population: m.pop.Agents(),
			Elapsed:    time.Since(started),
		})
		m.pop.install(next)
		if err != nil {
			return result, err
		}

		if gen%m.cfg.LogEvery == 0 {
			m.log.Info("generation complete",
				"generation", gen,
				"max_fitness", stats.MaxFitness,
				"mean_fitness", stats.MeanFitness,
				"mean_genome_length", stats.MeanGenomeLength,
				"mean_gates", stats.MeanGates,
				"fallbacks", fallbacks,
			)
		}

		if m.cfg.CheckpointEvery > 0 && gen%m.cfg.CheckpointEvery == 0 {
			if err := m.checkpoint(ctx, gen); err != nil {
				return result, err
			}
		}
	}

	result.FinalAgentIDs = m.pop.AgentIDs()
	m.log.Info("evolution finished", "best_fitness", result.BestFitness, "best_agent", result.BestAgentID)
	return result, nil
}

func (m *PopulationMonitor) notifyGeneration(ctx context.Context, report GenerationReport) error {
	for _, o := range m.cfg.Observers {
		if err := o.ObserveGeneration(ctx, report); err != nil {
			return fmt.Errorf("observe generation %d: %w", report.Stats.Generation, err)
		}
	}
	return nil
}

func (m *PopulationMonitor) checkpoint(ctx context.Context, gen int) error {
	a := m.pop.CheckpointAgent()
	if a == nil || a.Genome() == nil {
		m.log.Debug("checkpoint skipped", "generation", gen)
		return nil
	}
	cp := Checkpoint{
		RunID:          m.cfg.RunID,
		Generation:     gen,
		Agent:          a,
		CommonAncestor: agent.CommonAncestor(m.pop.Agents()),
		Branch:         a.FindOldestBranchChild(),
		NearestBranch:  a.FindLeastCommonAncestorBelowRoot(),
		AgentIDs:       m.pop.AgentIDs(),
	}
	for _, o := range m.cfg.Observers {
		if err := o.ObserveCheckpoint(ctx, cp); err != nil {
			return fmt.Errorf("checkpoint generation %d: %w", gen, err)
		}
	}
	m.log.Debug("checkpoint written", "generation", gen, "agent", a.ID,
		"branch_agent", agentID(cp.Branch), "nearest_branch", agentID(cp.NearestBranch))
	return nil
}

// agentID returns -1 for a nil agent.
func agentID(a *agent.Agent) int {
	if a == nil {
		return -1
	}
	return a.ID
}
