// Package hopfield_core holds the Hopfield network state and the numeric
// primitives shared by training, energy evaluation and recall.
package hopfield_core

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidInput reports an empty or malformed pattern set, a state of the
	// wrong length or non-bipolar values, or out-of-range recall parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDimensionMismatch reports persisted weights or biases whose shape
	// disagrees with the declared network size.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Network is a Hopfield network: size neurons, a symmetric zero-diagonal
// weight matrix and a bias vector. A Network is not safe for concurrent
// Train calls; callers serialize access.
//
// weights and biases are the reported values. sumWeights and sumBiases hold
// them multiplied by count; after Train these are exact integers, so
// activation signs and energy differences carry no rounding error.
type Network struct {
	size    int
	weights *mat.SymDense
	biases  *mat.VecDense

	sumWeights *mat.SymDense
	sumBiases  *mat.VecDense
	count      float64
}

// NewNetwork returns a network of the given size with zero weights and biases.
func NewNetwork(size int) (*Network, error) {
	if size < 1 {
		return nil, errors.Wrapf(ErrInvalidInput, "network size %d", size)
	}
	w := mat.NewSymDense(size, nil)
	b := mat.NewVecDense(size, nil)
	return &Network{size: size, weights: w, biases: b, sumWeights: w, sumBiases: b, count: 1}, nil
}

// NewNetworkFromWeights rebuilds a trained network from persisted weights and
// biases. The matrix must be size x size, symmetric, with a zero diagonal.
func NewNetworkFromWeights(size int, weights [][]float64, biases []float64) (*Network, error) {
	if size < 1 {
		return nil, errors.Wrapf(ErrInvalidInput, "network size %d", size)
	}
	if len(weights) != size {
		return nil, errors.Wrapf(ErrDimensionMismatch, "weights have %d rows, want %d", len(weights), size)
	}
	if len(biases) != size {
		return nil, errors.Wrapf(ErrDimensionMismatch, "biases have length %d, want %d", len(biases), size)
	}
	for i, row := range weights {
		if len(row) != size {
			return nil, errors.Wrapf(ErrDimensionMismatch, "weights row %d has length %d, want %d", i, len(row), size)
		}
	}

	w := mat.NewSymDense(size, nil)
	for i := 0; i < size; i++ {
		if weights[i][i] != 0 {
			return nil, errors.Wrapf(ErrInvalidInput, "self-connection weights[%d][%d] = %v", i, i, weights[i][i])
		}
		for j := i + 1; j < size; j++ {
			if weights[i][j] != weights[j][i] {
				return nil, errors.Wrapf(ErrInvalidInput, "weights[%d][%d] != weights[%d][%d]", i, j, j, i)
			}
			if !isFinite(weights[i][j]) {
				return nil, errors.Wrapf(ErrInvalidInput, "weights[%d][%d] is not finite", i, j)
			}
			w.SetSym(i, j, weights[i][j])
		}
	}
	b := mat.NewVecDense(size, nil)
	for i, v := range biases {
		if !isFinite(v) {
			return nil, errors.Wrapf(ErrInvalidInput, "biases[%d] is not finite", i)
		}
		b.SetVec(i, v)
	}

	return &Network{size: size, weights: w, biases: b, sumWeights: w, sumBiases: b, count: 1}, nil
}

// RestoreHebbianCount marks a rebuilt network as trained on count patterns.
// It succeeds when every weight and bias times count is an integer, in which
// case recall on the network behaves exactly like on the one that was saved.
func (n *Network) RestoreHebbianCount(count int) bool {
	if count < 1 {
		return false
	}
	c := float64(count)
	sumWeights := mat.NewSymDense(n.size, nil)
	sumBiases := mat.NewVecDense(n.size, nil)
	for i := 0; i < n.size; i++ {
		for j := i + 1; j < n.size; j++ {
			v, ok := integral(n.weights.At(i, j) * c)
			if !ok {
				return false
			}
			sumWeights.SetSym(i, j, v)
		}
		v, ok := integral(n.biases.AtVec(i) * c)
		if !ok {
			return false
		}
		sumBiases.SetVec(i, v)
	}
	n.sumWeights, n.sumBiases, n.count = sumWeights, sumBiases, c
	return true
}

func integral(x float64) (float64, bool) {
	r := math.Round(x)
	return r, math.Abs(x-r) < 1e-6
}

// Size is the number of neurons.
func (n *Network) Size() int {
	return n.size
}

// Weight returns weights[i][j].
func (n *Network) Weight(i, j int) float64 {
	return n.weights.At(i, j)
}

// Bias returns biases[i].
func (n *Network) Bias(i int) float64 {
	return n.biases.AtVec(i)
}

// Weights returns a copy of the weight matrix.
func (n *Network) Weights() [][]float64 {
	out := make([][]float64, n.size)
	for i := range out {
		out[i] = mat.Row(nil, i, n.weights)
	}
	return out
}

// Biases returns a copy of the bias vector.
func (n *Network) Biases() []float64 {
	out := make([]float64, n.size)
	copy(out, n.biases.RawVector().Data)
	return out
}

// Activation is (W·state)_i + b_i, read from the live state, scaled by the
// number of training patterns. The scale is positive so the sign is unchanged.
func (n *Network) Activation(i int, state []float64) float64 {
	sum := n.sumBiases.AtVec(i)
	for j := 0; j < n.size; j++ {
		sum += n.sumWeights.At(i, j) * state[j]
	}
	return sum
}

// Activations is Activation for every neuron from one snapshot of state.
func (n *Network) Activations(state []float64) *mat.VecDense {
	var out mat.VecDense
	out.MulVec(n.sumWeights, mat.NewVecDense(n.size, state))
	out.AddVec(&out, n.sumBiases)
	return &out
}

// OutputSign thresholds an activation. Zero resolves to +1.
func OutputSign(x float64) float64 {
	if x >= 0 {
		return 1
	}
	return -1
}

// CompareWeights reports whether two networks hold bit-identical weights and biases.
func CompareWeights(a, b *Network) bool {
	if a.size != b.size {
		return false
	}
	for i := 0; i < a.size; i++ {
		if a.biases.AtVec(i) != b.biases.AtVec(i) {
			return false
		}
		for j := i; j < a.size; j++ {
			if a.weights.At(i, j) != b.weights.At(i, j) {
				return false
			}
		}
	}
	return true
}

// GetNetworkDataSize counts the independent trainable values: the upper
// triangle of the weight matrix plus the biases.
func GetNetworkDataSize(size int) int {
	return size*(size-1)/2 + size
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
