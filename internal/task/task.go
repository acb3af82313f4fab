package task

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"markovbrains/internal/agent"
	"markovbrains/internal/brain"
)

// Task drives an agent through an environment and scores it. Evaluate must
// set the agent's Fitness and may fill the correctness counters. It must not
// touch any other agent. stats is optional.
type Task interface {
	Name() string
	Evaluate(ctx context.Context, a *agent.Agent, stats io.Writer, verbose bool) error
}

// Default slot layout: inputs count up from slot 0, the answer is read from
// the last slot.
const (
	InputSlot  = 0
	OutputSlot = brain.MaxNodes - 1
)

type factory func() Task

var registry = map[string]factory{
	"constant": func() Task { return Constant{Value: 1} },
	"xor":      func() Task { return XOR{Steps: 2} },
	"simon":    func() Task { return NewSimon() },
}

// New returns the named task with its default settings.
func New(name string) (Task, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported task: %s", name)
	}
	return f(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Constant gives every agent the same fitness.
type Constant struct {
	Value float64
}

func (Constant) Name() string {
	return "constant"
}

func (c Constant) Evaluate(ctx context.Context, a *agent.Agent, stats io.Writer, _ bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.Fitness = c.Value
	if stats != nil {
		_, err := fmt.Fprintf(stats, "%d\t%f\n", a.ID, a.Fitness)
		return err
	}
	return nil
}
