package hopfield_updateRules

import (
	"math/rand"

	"hopfield_recall/hopfield_core"
)

// PermutationSource supplies the neuron visiting order of an asynchronous
// sweep. *rand.Rand satisfies it.
type PermutationSource interface {
	Perm(n int) []int
}

// HopfieldUpdateRuleHandler performs one recall iteration in place on a
// working state of ±1 values.
type HopfieldUpdateRuleHandler interface {
	UpdateState(net *hopfield_core.Network, state []float64, perm PermutationSource)
}

type SynchronousUpdateRule struct{}
type AsynchronousUpdateRule struct{}

// UpdateState sets every neuron from the same frozen snapshot of state.
func (rule SynchronousUpdateRule) UpdateState(net *hopfield_core.Network, state []float64, perm PermutationSource) {
	activations := net.Activations(state)
	for i := range state {
		state[i] = hopfield_core.OutputSign(activations.AtVec(i))
	}
}

// UpdateState sweeps every neuron once in a fresh random order; each update
// is visible to the neurons after it.
func (rule AsynchronousUpdateRule) UpdateState(net *hopfield_core.Network, state []float64, perm PermutationSource) {
	for _, i := range perm.Perm(net.Size()) {
		state[i] = hopfield_core.OutputSign(net.Activation(i, state))
	}
}

type processPerm struct{}

func (processPerm) Perm(n int) []int {
	return rand.Perm(n)
}

// ProcessPermutationSource draws from the process-level generator in math/rand.
var ProcessPermutationSource PermutationSource = processPerm{}
