package agent

// Retain records one more reference (a population slot or a descendant).
func (a *Agent) Retain() {
	if a.destroyed {
		panic("agent: retain of destroyed agent")
	}
	a.refs++
}

// Release drops one reference. When the last reference goes the agent is
// destroyed and releases its own ancestor in turn.
func (a *Agent) Release() {
	if a.destroyed {
		panic("agent: release of destroyed agent")
	}
	if a.refs <= 0 {
		panic("agent: reference count underflow")
	}
	a.refs--
	if a.refs > 0 {
		return
	}

	// Walk the chain iteratively; lineages can be thousands of agents deep.
	cur := a
	for {
		anc := cur.destroy()
		if anc == nil {
			return
		}
		if anc.refs <= 0 {
			panic("agent: reference count underflow")
		}
		anc.refs--
		if anc.refs > 0 {
			return
		}
		cur = anc
	}
}

func (a *Agent) destroy() *Agent {
	anc := a.ancestor
	a.destroyed = true
	a.ancestor = nil
	a.genome = nil
	a.network.Gates = nil
	a.rng = nil
	return anc
}

// Retire marks an agent as replaced at generation turnover.
func (a *Agent) Retire() {
	a.retired = true
}

func (a *Agent) Refs() int {
	return a.refs
}

func (a *Agent) Alive() bool {
	return !a.destroyed
}

func (a *Agent) Retired() bool {
	return a.retired
}

func (a *Agent) Saved() bool {
	return a.saved
}

func (a *Agent) Ancestor() *Agent {
	return a.ancestor
}
