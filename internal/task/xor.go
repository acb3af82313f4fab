package task

import (
	"context"
	"fmt"
	"io"
	"math"

	"markovbrains/internal/agent"
)

// XOR presents both input bits on slots 0 and 1 for Steps updates and reads
// the answer from OutputSlot.
type XOR struct {
	Steps int
}

func (XOR) Name() string {
	return "xor"
}

var xorCases = [4][3]uint8{
	{0, 0, 0},
	{0, 1, 1},
	{1, 0, 1},
	{1, 1, 0},
}

func (x XOR) Evaluate(ctx context.Context, a *agent.Agent, stats io.Writer, verbose bool) error {
	steps := x.Steps
	if steps <= 0 {
		steps = 1
	}
	a.Correct, a.Incorrect = 0, 0

	for _, tc := range xorCases {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.ResetBrain()
		for s := 0; s < steps; s++ {
			a.Inputs(InputSlot, tc[0], tc[1])
			a.Update()
		}
		got := a.Output(OutputSlot)
		if got == tc[2] {
			a.Correct++
		} else {
			a.Incorrect++
		}
		if verbose && stats != nil {
			if _, err := fmt.Fprintf(stats, "%d\txor(%d,%d)\t%d\n", a.ID, tc[0], tc[1], got); err != nil {
				return err
			}
		}
	}

	if a.Incorrect == 0 {
		a.BestSteps = steps
	}
	a.Fitness = math.Pow(2, float64(a.Correct))
	if stats != nil {
		_, err := fmt.Fprintf(stats, "%d\t%f\t%d\t%d\n", a.ID, a.Fitness, a.Correct, a.Incorrect)
		return err
	}
	return nil
}
