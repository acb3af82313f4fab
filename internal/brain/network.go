package brain

import "math/rand"

// Step fires every gate once against the current buffer, then swaps buffers.
// All gates observe the same pre-step state, so gate order never changes the
// result. rng is only consulted by probabilistic gates and may be nil.
func Step(net Network, nodeMap *NodeMap, states *States, rng *rand.Rand) {
	for i := range net.Gates {
		net.Gates[i].Fire(states, nodeMap, rng)
	}
	states.Swap()
}

// Connected reports which state slots are touched by at least one gate.
func Connected(net Network, nodeMap *NodeMap) [MaxNodes]bool {
	var touched [MaxNodes]bool
	for i := range net.Gates {
		ins, outs := net.Gates[i].Slots(nodeMap)
		for _, s := range ins {
			touched[s] = true
		}
		for _, s := range outs {
			touched[s] = true
		}
	}
	return touched
}
