package hopfield_core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

var scenarioPattern = Pattern{1, 1, 1, -1, -1, -1, 1, 1, 1, -1}

var threePatterns = []Pattern{
	{1, 1, 1, -1, -1, -1, 1, 1, 1, -1},
	{-1, -1, 1, 1, 1, -1, -1, 1, 1, 1},
	{1, -1, -1, 1, 1, 1, -1, -1, -1, 1},
}

func trainedNetwork(t *testing.T, patterns []Pattern) *Network {
	t.Helper()
	net, err := NewNetwork(len(patterns[0]))
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	if err := net.Train(patterns, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	return net
}

func randomPatterns(localRand *rand.Rand, count, size int) []Pattern {
	out := make([]Pattern, count)
	for i := range out {
		out[i] = make(Pattern, size)
		for j := range out[i] {
			out[i][j] = localRand.Intn(2)*2 - 1
		}
	}
	return out
}

func TestNewNetworkIsZero(t *testing.T) {
	net, err := NewNetwork(4)
	if err != nil {
		t.Fatal(err)
	}
	for i, row := range net.Weights() {
		for j, w := range row {
			if w != 0 {
				t.Errorf("weights[%d][%d] = %v, want 0", i, j, w)
			}
		}
	}
	for i, b := range net.Biases() {
		if b != 0 {
			t.Errorf("biases[%d] = %v, want 0", i, b)
		}
	}
	if _, err := NewNetwork(0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("NewNetwork(0) error = %v, want ErrInvalidInput", err)
	}
}

func TestTrainSymmetricZeroDiagonal(t *testing.T) {
	localRand := rand.New(rand.NewSource(7))
	net := trainedNetwork(t, randomPatterns(localRand, 5, 25))
	w := net.Weights()
	for i := range w {
		if w[i][i] != 0 {
			t.Errorf("weights[%d][%d] = %v, want 0", i, i, w[i][i])
		}
		for j := range w {
			if w[i][j] != w[j][i] {
				t.Errorf("weights[%d][%d] = %v but weights[%d][%d] = %v", i, j, w[i][j], j, i, w[j][i])
			}
		}
	}
}

func TestTrainHebbianValues(t *testing.T) {
	net := trainedNetwork(t, threePatterns)
	for i := 0; i < net.Size(); i++ {
		var bias float64
		for _, p := range threePatterns {
			bias += float64(p[i])
		}
		if got, want := net.Bias(i), bias/3; got != want {
			t.Errorf("biases[%d] = %v, want %v", i, got, want)
		}
		for j := 0; j < net.Size(); j++ {
			if i == j {
				continue
			}
			var sum float64
			for _, p := range threePatterns {
				sum += float64(p[i] * p[j])
			}
			if got, want := net.Weight(i, j), sum/3; got != want {
				t.Errorf("weights[%d][%d] = %v, want %v", i, j, got, want)
			}
		}
	}
}

func TestTrainIsIdempotent(t *testing.T) {
	localRand := rand.New(rand.NewSource(11))
	patterns := randomPatterns(localRand, 4, 30)

	once := trainedNetwork(t, patterns)
	twice := trainedNetwork(t, patterns)
	if err := twice.Train(patterns, nil); err != nil {
		t.Fatal(err)
	}
	if !CompareWeights(once, twice) {
		t.Error("retraining with the same patterns changed weights or biases")
	}
}

func TestTrainDiscardsPreviousWeights(t *testing.T) {
	net := trainedNetwork(t, threePatterns)
	if err := net.Train([]Pattern{scenarioPattern}, nil); err != nil {
		t.Fatal(err)
	}
	fresh := trainedNetwork(t, []Pattern{scenarioPattern})
	if !CompareWeights(net, fresh) {
		t.Error("training accumulated onto previous weights")
	}
}

func TestTrainInvalidInputLeavesNetworkUntouched(t *testing.T) {
	tests := []struct {
		description string
		patterns    []Pattern
	}{
		{"empty pattern set", nil},
		{"short pattern", []Pattern{scenarioPattern, {1, -1, 1}}},
		{"zero entry", []Pattern{{1, 1, 1, -1, -1, 0, 1, 1, 1, -1}}},
		{"entry out of range", []Pattern{scenarioPattern, {1, 1, 1, -1, -1, -1, 1, 2, 1, -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			net := trainedNetwork(t, threePatterns)
			before := trainedNetwork(t, threePatterns)
			err := net.Train(tt.patterns, nil)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Train error = %v, want ErrInvalidInput", err)
			}
			if !CompareWeights(net, before) {
				t.Error("failed Train mutated weights or biases")
			}
		})
	}
}

func TestTrainReportsProgress(t *testing.T) {
	net, _ := NewNetwork(10)
	var calls [][2]int
	err := net.Train(threePatterns, func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})
	if err != nil {
		t.Fatal(err)
	}
	want := [][2]int{{1, 3}, {2, 3}, {3, 3}}
	if len(calls) != len(want) {
		t.Fatalf("progress calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("progress call %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestEnergyScenario(t *testing.T) {
	net := trainedNetwork(t, []Pattern{scenarioPattern})

	stored, err := net.Energy(scenarioPattern)
	if err != nil {
		t.Fatal(err)
	}
	opposite, err := net.Energy(scenarioPattern.Invert())
	if err != nil {
		t.Fatal(err)
	}
	if !(stored < opposite) {
		t.Errorf("energy(pattern) = %v, energy(inverted) = %v, want stored pattern lower", stored, opposite)
	}
	// -0.5 * n(n-1) - n for a single stored pattern.
	if stored != -55 {
		t.Errorf("energy(pattern) = %v, want -55", stored)
	}
	if opposite != -35 {
		t.Errorf("energy(inverted) = %v, want -35", opposite)
	}
}

func TestEnergyDoesNotMutateState(t *testing.T) {
	net := trainedNetwork(t, threePatterns)
	state := threePatterns[1].Clone()
	if _, err := net.Energy(state); err != nil {
		t.Fatal(err)
	}
	if !state.Equal(threePatterns[1]) {
		t.Error("Energy mutated its input")
	}
}

func TestEnergyWrongLength(t *testing.T) {
	net := trainedNetwork(t, threePatterns)
	if _, err := net.Energy(Pattern{1, -1}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Energy error = %v, want ErrInvalidInput", err)
	}
}

func TestEnergyMatchesNaiveSum(t *testing.T) {
	localRand := rand.New(rand.NewSource(3))
	net := trainedNetwork(t, randomPatterns(localRand, 3, 16))
	state := randomPatterns(localRand, 1, 16)[0]
	w, b := net.Weights(), net.Biases()

	var want float64
	for i := range state {
		for j := range state {
			want -= 0.5 * w[i][j] * float64(state[i]*state[j])
		}
		want -= b[i] * float64(state[i])
	}
	got, err := net.Energy(state)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Energy = %v, want %v", got, want)
	}
}

func TestActivationsMatchActivation(t *testing.T) {
	net := trainedNetwork(t, threePatterns)
	state := scenarioPattern.Float64s()
	all := net.Activations(state)
	for i := 0; i < net.Size(); i++ {
		if math.Abs(all.AtVec(i)-net.Activation(i, state)) > 1e-12 {
			t.Errorf("activation %d: vector %v, single %v", i, all.AtVec(i), net.Activation(i, state))
		}
	}
}

func TestRestoreHebbianCountRejectsFractionalSums(t *testing.T) {
	net, err := NewNetworkFromWeights(2, [][]float64{{0, 0.3}, {0.3, 0}}, []float64{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if net.RestoreHebbianCount(2) {
		t.Error("0.3 * 2 accepted as an integer sum")
	}
	if got := net.Activation(0, []float64{1, 1}); got != 0.3 {
		t.Errorf("activation after failed restore = %v, want 0.3", got)
	}
}

// For the state {1, 1, -1, -1} neuron 0 sees 1/3 + 1/3 - 3/3 + 1/3 = 0,
// which summed in thirds comes out as -1.1e-16.
var tiePatterns = []Pattern{
	{1, 1, 1, 1},
	{1, 1, 1, -1},
	{-1, 1, -1, 1},
}

func TestExactTieResolvesToPlusOne(t *testing.T) {
	net := trainedNetwork(t, tiePatterns)
	state := Pattern{1, 1, -1, -1}.Float64s()

	// integer reference for neuron 0
	exact := 0
	for _, p := range tiePatterns {
		exact += p[0]
		for j := 1; j < len(p); j++ {
			exact += p[0] * p[j] * int(state[j])
		}
	}
	if exact != 0 {
		t.Fatalf("test state is not a tie: integer activation %d", exact)
	}
	if got := net.Activation(0, state); got != 0 {
		t.Errorf("activation = %v, want exactly 0", got)
	}
	if got := net.Activations(state).AtVec(0); got != 0 {
		t.Errorf("vector activation = %v, want exactly 0", got)
	}
	if OutputSign(net.Activation(0, state)) != 1 {
		t.Error("tie resolved to -1")
	}
}

func TestRandomTiesAreExact(t *testing.T) {
	localRand := rand.New(rand.NewSource(11))
	ties := 0
	for trial := 0; trial < 300; trial++ {
		count := 3 + localRand.Intn(5)
		patterns := randomPatterns(localRand, count, 12)
		net := trainedNetwork(t, patterns)
		state := randomPatterns(localRand, 1, 12)[0]
		for i := range state {
			exact := 0
			for _, p := range patterns {
				exact += p[i]
				for j := range p {
					if j != i {
						exact += p[i] * p[j] * state[j]
					}
				}
			}
			got := net.Activation(i, state.Float64s())
			if exact == 0 {
				ties++
			}
			if (exact == 0 && got != 0) || (exact > 0 && got <= 0) || (exact < 0 && got >= 0) {
				t.Fatalf("trial %d neuron %d: integer activation %d, computed %v", trial, i, exact, got)
			}
		}
	}
	if ties == 0 {
		t.Error("no ties were generated")
	}
}

func TestOutputSignTieBreak(t *testing.T) {
	if OutputSign(0) != 1 {
		t.Error("zero activation must resolve to +1")
	}
	if OutputSign(-1e-12) != -1 {
		t.Error("negative activation must resolve to -1")
	}
}

func TestNewNetworkFromWeightsRoundTrip(t *testing.T) {
	net := trainedNetwork(t, threePatterns)
	rebuilt, err := NewNetworkFromWeights(net.Size(), net.Weights(), net.Biases())
	if err != nil {
		t.Fatal(err)
	}
	if !CompareWeights(net, rebuilt) {
		t.Fatal("rebuilt network differs")
	}
	if !rebuilt.RestoreHebbianCount(len(threePatterns)) {
		t.Fatal("trained weights were not recognised as Hebbian sums")
	}
	for _, p := range append(threePatterns, scenarioPattern.Invert()) {
		a, _ := net.Energy(p)
		b, _ := rebuilt.Energy(p)
		if a != b {
			t.Errorf("energy %v != %v after rebuild", a, b)
		}
	}
}

func TestNewNetworkFromWeightsErrors(t *testing.T) {
	good := [][]float64{{0, 1}, {1, 0}}
	tests := []struct {
		description string
		size        int
		weights     [][]float64
		biases      []float64
		want        error
	}{
		{"too few rows", 2, [][]float64{{0, 1}}, []float64{0, 0}, ErrDimensionMismatch},
		{"short row", 2, [][]float64{{0, 1}, {1}}, []float64{0, 0}, ErrDimensionMismatch},
		{"bias length", 2, good, []float64{0}, ErrDimensionMismatch},
		{"asymmetric", 2, [][]float64{{0, 1}, {2, 0}}, []float64{0, 0}, ErrInvalidInput},
		{"self connection", 2, [][]float64{{1, 1}, {1, 0}}, []float64{0, 0}, ErrInvalidInput},
		{"not finite", 2, [][]float64{{0, math.Inf(1)}, {math.Inf(1), 0}}, []float64{0, 0}, ErrInvalidInput},
		{"nan bias", 2, good, []float64{0, math.NaN()}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			_, err := NewNetworkFromWeights(tt.size, tt.weights, tt.biases)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
