package hopfield_core

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Pattern is a flattened bipolar vector, every entry +1 or -1.
type Pattern []int

// Grid is a row-major (height, width) pixel grid of +1/-1 values.
type Grid [][]int

// ValidatePattern checks length and that every entry is +1 or -1.
func ValidatePattern(p Pattern, size int) error {
	if len(p) != size {
		return errors.Wrapf(ErrInvalidInput, "length %d, want %d", len(p), size)
	}
	for i, v := range p {
		if v != 1 && v != -1 {
			return errors.Wrapf(ErrInvalidInput, "entry %d is %d, want +1 or -1", i, v)
		}
	}
	return nil
}

// Float64s converts the pattern into a fresh working state.
func (p Pattern) Float64s() []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = float64(v)
	}
	return out
}

// PatternFromState snapshots a thresholded working state.
func PatternFromState(state []float64) Pattern {
	out := make(Pattern, len(state))
	for i, v := range state {
		if v >= 0 {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out
}

func (p Pattern) Clone() Pattern {
	out := make(Pattern, len(p))
	copy(out, p)
	return out
}

func (p Pattern) Equal(o Pattern) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Invert returns the all-opposite-sign pattern.
func (p Pattern) Invert() Pattern {
	out := make(Pattern, len(p))
	for i, v := range p {
		out[i] = -v
	}
	return out
}

// Fill returns a pattern of the given size with every entry set to value.
func Fill(size int, value int) Pattern {
	out := make(Pattern, size)
	for i := range out {
		out[i] = value
	}
	return out
}

// Flatten returns the grid in row-major order.
func (g Grid) Flatten() Pattern {
	var out Pattern
	for _, row := range g {
		out = append(out, row...)
	}
	return out
}

// Shape returns (height, width). Ragged grids report the first row width.
func (g Grid) Shape() (int, int) {
	if len(g) == 0 {
		return 0, 0
	}
	return len(g), len(g[0])
}

// Reshape turns a flat pattern back into a (height, width) grid.
func Reshape(p Pattern, height, width int) (Grid, error) {
	if height < 1 || width < 1 || height*width != len(p) {
		return nil, errors.Wrapf(ErrInvalidInput, "cannot reshape %d values to %dx%d", len(p), height, width)
	}
	g := make(Grid, height)
	for y := range g {
		g[y] = make([]int, width)
		copy(g[y], p[y*width:(y+1)*width])
	}
	return g, nil
}

// HammingDistance counts the positions where a and b differ.
func HammingDistance(a, b Pattern) (int, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(ErrInvalidInput, "lengths %d and %d differ", len(a), len(b))
	}
	d := 0
	for i := range a {
		if a[i] != b[i] {
			d++
		}
	}
	return d, nil
}

// Similarity is the fraction of equal positions, in [0, 1].
func Similarity(a, b Pattern) (float64, error) {
	d, err := HammingDistance(a, b)
	if err != nil {
		return 0, err
	}
	if len(a) == 0 {
		return 1, nil
	}
	return float64(len(a)-d) / float64(len(a)), nil
}

// HammingDistanceMatrix returns pairwise distances normalised by pattern length.
func HammingDistanceMatrix(patterns []Pattern) ([][]float64, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	size := len(patterns[0])
	out := make([][]float64, len(patterns))
	for i := range out {
		out[i] = make([]float64, len(patterns))
	}
	for i := range patterns {
		for j := i + 1; j < len(patterns); j++ {
			d, err := HammingDistance(patterns[i], patterns[j])
			if err != nil {
				return nil, errors.Wrapf(err, "patterns %d and %d", i, j)
			}
			out[i][j] = float64(d) / float64(size)
			out[j][i] = out[i][j]
		}
	}
	return out, nil
}

// AddNoise returns a copy of p with int(level*len(p)) distinct entries flipped.
func AddNoise(p Pattern, level float64, localRand *rand.Rand) (Pattern, error) {
	if level < 0 || level > 1 || math.IsNaN(level) {
		return nil, errors.Wrapf(ErrInvalidInput, "noise level %v", level)
	}
	out := p.Clone()
	flips := int(level * float64(len(p)))
	if flips == 0 {
		return out, nil
	}
	for _, i := range localRand.Perm(len(p))[:flips] {
		out[i] = -out[i]
	}
	return out, nil
}
