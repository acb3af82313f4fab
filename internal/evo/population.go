package evo

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"markovbrains/internal/agent"
	"markovbrains/internal/model"
	"markovbrains/internal/task"
)

type Config struct {
	Size    int
	Rates   agent.Rates
	Workers int
}

// Population is a fixed number of slots, each holding one reference on the
// agent installed in it.
type Population struct {
	cfg    Config
	rng    *rand.Rand
	ids    *agent.IDSource
	agents []*agent.Agent
}

func NewPopulation(cfg Config, rng *rand.Rand, ids *agent.IDSource) (*Population, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id source is required")
	}
	if err := validateRate("mutation", cfg.Rates.Mutation); err != nil {
		return nil, err
	}
	if err := validateRate("duplication", cfg.Rates.Duplication); err != nil {
		return nil, err
	}
	if err := validateRate("deletion", cfg.Rates.Deletion); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Population{cfg: cfg, rng: rng, ids: ids}, nil
}

func validateRate(name string, rate float64) error {
	if rate < 0 || rate > 1 {
		return fmt.Errorf("%s rate must be in [0, 1]: %f", name, rate)
	}
	return nil
}

// Seed fills every slot with a child of root, born in generation 0. The
// children hold root alive; the population itself takes no reference on it.
func (p *Population) Seed(root *agent.Agent, rates agent.Rates) {
	p.release()
	p.agents = make([]*agent.Agent, p.cfg.Size)
	for i := range p.agents {
		child := agent.Inherit(root, rates, 0, p.rng, p.ids)
		child.Retain()
		p.agents[i] = child
	}
}

// Agents returns the current slots. Callers must not keep the slice across
// Advance.
func (p *Population) Agents() []*agent.Agent {
	return p.agents
}

func (p *Population) AgentIDs() []int {
	ids := make([]int, len(p.agents))
	for i, a := range p.agents {
		ids[i] = a.ID
	}
	return ids
}

func (p *Population) Size() int {
	return len(p.agents)
}

// Evaluate scores every agent with t. Agents are evaluated on up to Workers
// goroutines; each agent only touches its own state and random stream, so the
// outcome does not depend on scheduling. Writes to sink are serialized.
func (p *Population) Evaluate(ctx context.Context, t task.Task, sink io.Writer) error {
	if t == nil {
		return fmt.Errorf("task is required")
	}
	if sink != nil && p.cfg.Workers > 1 {
		sink = &lockedWriter{w: sink}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, a := range p.agents {
		a.Fitness = 0
		g.Go(func() error {
			if err := t.Evaluate(gctx, a, sink, false); err != nil {
				return fmt.Errorf("evaluate agent %d: %w", a.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Summarize reports fitness and size statistics of the evaluated slots.
func (p *Population) Summarize(generation int) model.GenerationStats {
	stats := model.GenerationStats{Generation: generation}
	if len(p.agents) == 0 {
		return stats
	}

	stats.MaxFitness = p.agents[0].Fitness
	stats.MinFitness = p.agents[0].Fitness
	var fitness, length, gates float64
	for _, a := range p.agents {
		fitness += a.Fitness
		length += float64(a.Genome().Len())
		gates += float64(a.Network().Len())
		if a.Fitness > stats.MaxFitness {
			stats.MaxFitness = a.Fitness
		}
		if a.Fitness < stats.MinFitness {
			stats.MinFitness = a.Fitness
		}
	}
	n := float64(len(p.agents))
	stats.MeanFitness = fitness / n
	stats.MeanGenomeLength = length / n
	stats.MeanGates = gates / n
	return stats
}

// Best returns the fittest evaluated agent, the first one on ties.
func (p *Population) Best() *agent.Agent {
	var best *agent.Agent
	for _, a := range p.agents {
		if best == nil || a.Fitness > best.Fitness {
			best = a
		}
	}
	return best
}

// Advance replaces every slot with an offspring born in generation. Parents
// are chosen with SelectParent against the evaluated fitness; the outgoing
// agents are retired and lose their slot reference once all offspring exist.
// It returns how many slots used the uniform fallback.
func (p *Population) Advance(generation int) int {
	next, fallbacks := p.breed(generation)
	p.install(next)
	return fallbacks
}

func (p *Population) breed(generation int) ([]*agent.Agent, int) {
	fitness := make([]float64, len(p.agents))
	for i, a := range p.agents {
		fitness[i] = a.Fitness
	}
	best, _ := maxFitness(fitness)

	fallbacks := 0
	next := make([]*agent.Agent, len(p.agents))
	for i := range next {
		j, fallback := SelectParent(p.rng, fitness, best, i)
		if fallback {
			fallbacks++
		}
		child := agent.Inherit(p.agents[j], p.cfg.Rates, generation, p.rng, p.ids)
		child.Retain()
		next[i] = child
	}
	return next, fallbacks
}

func (p *Population) install(next []*agent.Agent) {
	p.release()
	p.agents = next
}

// CheckpointAgent is the grandparent of slot 0. After turnover it is an
// already evaluated agent on the line of descent that slot 0 continues. It
// is nil until the population is two generations deep.
func (p *Population) CheckpointAgent() *agent.Agent {
	if len(p.agents) == 0 {
		return nil
	}
	parent := p.agents[0].Ancestor()
	if parent == nil {
		return nil
	}
	return parent.Ancestor()
}

// Close retires every slot and drops the population's references.
func (p *Population) Close() {
	p.release()
	p.agents = nil
}

func (p *Population) release() {
	for _, a := range p.agents {
		a.Retire()
		a.Release()
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}
