package hopfield_core

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Energy is E(s) = -0.5 * sᵀWs - bᵀs. Asynchronous single-neuron updates
// never increase it.
func (n *Network) Energy(state Pattern) (float64, error) {
	if err := ValidatePattern(state, n.size); err != nil {
		return 0, errors.Wrap(err, "energy")
	}
	return n.StateEnergy(state.Float64s()), nil
}

// StateEnergy evaluates the energy of an already validated working state.
// The sum runs over the unscaled Hebbian values and is divided once, so two
// states with equal real energy get bit-identical results.
func (n *Network) StateEnergy(state []float64) float64 {
	s := mat.NewVecDense(n.size, state)
	return (-0.5*mat.Inner(s, n.sumWeights, s) - mat.Dot(n.sumBiases, s)) / n.count
}
