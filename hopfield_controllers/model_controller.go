package hopfield_controllers

import (
	"compress/lzw"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"hopfield_recall/hopfield_core"
)

// ModelData is the persisted form of a trained network and the patterns it stores.
type ModelData struct {
	Patterns []hopfield_core.Grid `json:"patterns"`
	Weights  [][]float64          `json:"weights"`
	Biases   []float64            `json:"biases"`
}

// RecallLog accumulates (input, output) pairs from recall runs.
type RecallLog struct {
	InputImages  []hopfield_core.Pattern `json:"input_images"`
	OutputImages []hopfield_core.Pattern `json:"output_images"`
}

type ModelController struct {
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".lzw")
}

func (ModelController) NewModelData(patterns []hopfield_core.Grid, net *hopfield_core.Network) ModelData {
	return ModelData{
		Patterns: patterns,
		Weights:  net.Weights(),
		Biases:   net.Biases(),
	}
}

// WriteModel encodes the model as JSON, LZW-compressed when compressed is set.
func (ModelController) WriteModel(w io.Writer, data ModelData, compressed bool) error {
	if !compressed {
		return errors.Wrap(json.NewEncoder(w).Encode(data), "failed to encode model")
	}
	lw := lzw.NewWriter(w, lzw.LSB, 8)
	if err := json.NewEncoder(lw).Encode(data); err != nil {
		lw.Close()
		return errors.Wrap(err, "failed to encode model")
	}
	return lw.Close()
}

func (ModelController) ReadModel(r io.Reader, compressed bool) (*ModelData, *hopfield_core.Network, error) {
	if compressed {
		lr := lzw.NewReader(r, lzw.LSB, 8)
		defer lr.Close()
		r = lr
	}
	var data ModelData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, nil, errors.Wrap(err, "failed to decode model")
	}

	size := len(data.Weights)
	net, err := hopfield_core.NewNetworkFromWeights(size, data.Weights, data.Biases)
	if err != nil {
		return nil, nil, errors.Wrap(err, "model weights")
	}
	for i, g := range data.Patterns {
		flat := g.Flatten()
		if len(flat) != size {
			return nil, nil, errors.Wrapf(hopfield_core.ErrDimensionMismatch, "pattern %d has %d pixels, network has %d neurons", i, len(flat), size)
		}
		if err := hopfield_core.ValidatePattern(flat, size); err != nil {
			return nil, nil, errors.Wrapf(err, "pattern %d", i)
		}
	}
	if len(data.Patterns) > 0 && !net.RestoreHebbianCount(len(data.Patterns)) {
		log.Printf("Model weights are not Hebbian sums over %d patterns; recall uses them as stored", len(data.Patterns))
	}
	return &data, net, nil
}

func (c ModelController) SaveModel(path string, patterns []hopfield_core.Grid, net *hopfield_core.Network) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create model file")
	}
	err = c.WriteModel(file, c.NewModelData(patterns, net), isCompressed(path))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (c ModelController) LoadModel(path string) (*ModelData, *hopfield_core.Network, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open model file")
	}
	defer file.Close()
	return c.ReadModel(file, isCompressed(path))
}

// recallLogLocks serializes appends per log path.
var recallLogLocks sync.Map

func recallLogLock(path string) *sync.Mutex {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	lock, _ := recallLogLocks.LoadOrStore(path, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// AppendRecallLog adds one pair to the log file at path, creating it if needed.
// Concurrent appends to the same path are applied one after another.
func (c ModelController) AppendRecallLog(path string, input, output hopfield_core.Pattern) error {
	lock := recallLogLock(path)
	lock.Lock()
	defer lock.Unlock()

	recallLog, err := c.LoadRecallLog(path)
	if errors.Is(err, os.ErrNotExist) {
		recallLog, err = &RecallLog{}, nil
	}
	if err != nil {
		return err
	}
	recallLog.InputImages = append(recallLog.InputImages, input.Clone())
	recallLog.OutputImages = append(recallLog.OutputImages, output.Clone())

	data, err := json.Marshal(recallLog)
	if err != nil {
		return errors.Wrap(err, "failed to marshal recall log")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create recall log")
	}
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write recall log")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "failed to replace recall log")
}

func (ModelController) LoadRecallLog(path string) (*RecallLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read recall log")
	}
	var recallLog RecallLog
	if err := json.Unmarshal(data, &recallLog); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal recall log")
	}
	if len(recallLog.InputImages) != len(recallLog.OutputImages) {
		return nil, errors.Wrapf(hopfield_core.ErrInvalidInput, "recall log has %d inputs and %d outputs", len(recallLog.InputImages), len(recallLog.OutputImages))
	}
	return &recallLog, nil
}
