package agent

import (
	"bufio"
	"fmt"
	"io"

	"markovbrains/internal/model"
)

// FindLeastCommonAncestorBelowRoot returns the nearest ancestor above the
// immediate parent that is still referenced by more than one line of
// descent, or nil when the chain never branches.
func (a *Agent) FindLeastCommonAncestorBelowRoot() *Agent {
	if a.ancestor == nil {
		return nil
	}
	for r := a.ancestor.ancestor; r != nil; r = r.ancestor {
		if r.refs > 1 {
			return r
		}
	}
	return nil
}

// FindOldestBranchChild returns the agent on this line directly below the
// oldest ancestor whose reference count is not one. Everything above the
// returned agent is shared history.
func (a *Agent) FindOldestBranchChild() *Agent {
	if a.ancestor == nil {
		return nil
	}
	var found *Agent
	for r := a.ancestor; r.ancestor != nil; r = r.ancestor {
		if r.ancestor.refs != 1 {
			found = r
		}
	}
	return found
}

// CommonAncestor returns the youngest agent every agent in agents descends
// from, counting an agent as its own descendant. History at and above it is
// shared by the whole group and no longer changes. It returns nil for an
// empty group or when the lines never meet.
func CommonAncestor(agents []*Agent) *Agent {
	if len(agents) == 0 {
		return nil
	}
	chain := agents[0].LineOfDescent()
	depth := make(map[*Agent]int, len(chain))
	for i, r := range chain {
		depth[r] = i
	}

	limit := len(chain) - 1
	for _, a := range agents[1:] {
		r := a
		for ; r != nil; r = r.ancestor {
			if d, ok := depth[r]; ok {
				limit = min(limit, d)
				break
			}
		}
		if r == nil {
			return nil
		}
	}
	return chain[limit]
}

// LineOfDescent returns the ancestor chain ending at a, oldest first.
func (a *Agent) LineOfDescent() []*Agent {
	var chain []*Agent
	for r := a; r != nil; r = r.ancestor {
		chain = append(chain, r)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (a *Agent) MeanStepsPerOffspring() float64 {
	if a.Offspring == 0 {
		return 0
	}
	return float64(a.TotalSteps) / float64(a.Offspring)
}

// ExportLineage writes every not yet saved agent of the line of descent,
// oldest first, as one stats line and one genome line. Agents that are both
// saved and retired drop their genome afterwards.
func (a *Agent) ExportLineage(stats, genomes io.Writer) error {
	sw := bufio.NewWriter(stats)
	gw := bufio.NewWriter(genomes)

	for _, r := range a.LineOfDescent() {
		if !r.saved {
			if _, err := fmt.Fprintf(sw, "%d\t%d\t%d\t%f\t%d\t%f\t%d\t%d\n",
				r.ID, r.Born, len(r.genome), r.Fitness, r.BestSteps,
				r.MeanStepsPerOffspring(), r.Correct, r.Incorrect); err != nil {
				return fmt.Errorf("write stats for agent %d: %w", r.ID, err)
			}
			if err := writeGenomeLine(gw, r); err != nil {
				return fmt.Errorf("write genome for agent %d: %w", r.ID, err)
			}
			r.saved = true
		}
		if r.saved && r.retired {
			r.genome = nil
		}
	}

	if err := sw.Flush(); err != nil {
		return err
	}
	return gw.Flush()
}

func writeGenomeLine(w *bufio.Writer, a *Agent) error {
	if _, err := fmt.Fprintf(w, "%d\t", a.ID); err != nil {
		return err
	}
	for _, b := range a.genome {
		if _, err := fmt.Fprintf(w, "\t%d", b); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\n")
	return err
}

// Record summarizes the agent for the run store.
func (a *Agent) Record() model.LineageRecord {
	parentID := -1
	if a.ancestor != nil {
		parentID = a.ancestor.ID
	}
	return model.LineageRecord{
		AgentID:               a.ID,
		ParentID:              parentID,
		Born:                  a.Born,
		GenomeLength:          a.length,
		Fitness:               a.Fitness,
		BestSteps:             a.BestSteps,
		MeanStepsPerOffspring: a.MeanStepsPerOffspring(),
		Correct:               a.Correct,
		Incorrect:             a.Incorrect,
	}
}
