package task

import (
	"context"
	"fmt"
	"io"
	"math"

	"markovbrains/internal/agent"
)

// Simon is a sequence memory game. In round r the agent is shown r random
// colours one step at a time and must then replay them in order.
type Simon struct {
	// Colours must be a power of two; each colour takes log2(Colours) bits.
	Colours int
	Rounds  int
	// Base of the exponential fitness, raised to the number of correct
	// replays.
	Base float64
}

func NewSimon() Simon {
	return Simon{Colours: 2, Rounds: 4, Base: 1.1}
}

func (Simon) Name() string {
	return "simon"
}

func (s Simon) bits() int {
	bits := 0
	for c := s.Colours; c > 1; c >>= 1 {
		bits++
	}
	if bits == 0 {
		bits = 1
	}
	return bits
}

// Slot layout: colour bits from InputSlot, then a show cue slot and a replay
// cue slot; the replayed colour is read from the last bits slots.
func (s Simon) Evaluate(ctx context.Context, a *agent.Agent, stats io.Writer, verbose bool) error {
	bits := s.bits()
	showCue := InputSlot + bits
	firstOut := OutputSlot - bits + 1
	rng := a.Rand()

	a.Correct, a.Incorrect = 0, 0
	for round := 1; round <= s.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sequence := make([]int, round)
		for i := range sequence {
			sequence[i] = rng.Intn(s.Colours)
		}

		a.ResetBrain()
		for _, colour := range sequence {
			s.present(a, colour, bits)
			a.Inputs(showCue, 1, 0)
			a.Update()
		}

		missed := 0
		for _, colour := range sequence {
			s.present(a, 0, bits)
			a.Inputs(showCue, 0, 1)
			a.Update()
			got := 0
			for b := 0; b < bits; b++ {
				got = got<<1 | int(a.Output(firstOut+b))
			}
			if got == colour {
				a.Correct++
			} else {
				a.Incorrect++
				missed++
			}
		}
		if missed == 0 && round > a.BestSteps {
			a.BestSteps = round
		}
		if verbose && stats != nil {
			if _, err := fmt.Fprintf(stats, "%d\tround %d\tmissed %d\n", a.ID, round, missed); err != nil {
				return err
			}
		}
	}

	a.Fitness = math.Pow(s.Base, float64(a.Correct))
	if stats != nil {
		_, err := fmt.Fprintf(stats, "%d\t%f\t%d\t%d\t%d\n", a.ID, a.Fitness, a.Correct, a.Incorrect, a.BestSteps)
		return err
	}
	return nil
}

func (s Simon) present(a *agent.Agent, colour, bits int) {
	for b := 0; b < bits; b++ {
		a.Inputs(InputSlot+b, uint8(colour>>(bits-1-b)&1))
	}
}
