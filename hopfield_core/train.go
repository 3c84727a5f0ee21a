package hopfield_core

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ProgressSink receives (done, total) after each pattern is accumulated.
// It runs in-line on the training goroutine and must not block.
type ProgressSink func(done, total int)

// Train recomputes weights and biases from scratch with the Hebbian rule:
// sum of outer products p⊗p, zero diagonal, both divided by the number of
// patterns. The undivided sums are kept for recall. The whole set is validated first; on error the network is left
// untouched.
func (n *Network) Train(patterns []Pattern, progress ProgressSink) error {
	if len(patterns) == 0 {
		return errors.Wrap(ErrInvalidInput, "no patterns to train on")
	}
	for i, p := range patterns {
		if err := ValidatePattern(p, n.size); err != nil {
			return errors.Wrapf(err, "pattern %d", i)
		}
	}

	weights := mat.NewSymDense(n.size, nil)
	biases := mat.NewVecDense(n.size, nil)
	for i, p := range patterns {
		x := mat.NewVecDense(n.size, p.Float64s())
		weights.SymRankOne(weights, 1, x)
		biases.AddVec(biases, x)
		if progress != nil {
			progress(i+1, len(patterns))
		}
	}

	count := float64(len(patterns))
	normWeights := mat.NewSymDense(n.size, nil)
	normBiases := mat.NewVecDense(n.size, nil)
	for i := 0; i < n.size; i++ {
		weights.SetSym(i, i, 0)
		for j := i + 1; j < n.size; j++ {
			normWeights.SetSym(i, j, weights.At(i, j)/count)
		}
		normBiases.SetVec(i, biases.AtVec(i)/count)
	}

	n.weights = normWeights
	n.biases = normBiases
	n.sumWeights = weights
	n.sumBiases = biases
	n.count = count
	return nil
}
