package hopfield_controllers

import (
	"hopfield_recall/hopfield_core"
	"hopfield_recall/hopfield_updateRules"
)

const (
	ModeSynchronous  = "SYNCHRONOUS"
	ModeAsynchronous = "ASYNCHRONOUS"

	StatusConverged    = "CONVERGED"
	StatusLimitReached = "LIMIT_REACHED"

	// EarlyStoppingTol is the tolerance used when early stopping is enabled.
	EarlyStoppingTol = 1e-9
)

type RecallSettings struct {
	Mode          string  `json:"mode"`
	MaxIterations int     `json:"max_iterations"`
	EnergyTol     float64 `json:"energy_tol"`
	// MaxRetainedStates caps the state snapshots kept in a history; values
	// below 2 keep all. The initial and latest states always stay and
	// energies are never dropped.
	MaxRetainedStates int `json:"max_retained_states"`
	updateRuleHandler hopfield_updateRules.HopfieldUpdateRuleHandler
}

// RecallHistory holds one recall call's checkpoints. Energies[k] is the
// energy after k iterations; States[i] is the state after StateIterations[i]
// iterations.
type RecallHistory struct {
	States          []hopfield_core.Pattern `json:"states"`
	StateIterations []int                   `json:"state_iterations"`
	Energies        []float64               `json:"energies"`
	Converged       bool                    `json:"converged"`
}

// Iterations is the number of update steps performed.
func (h RecallHistory) Iterations() int {
	return len(h.Energies) - 1
}

// Final is the last recorded state.
func (h RecallHistory) Final() hopfield_core.Pattern {
	return h.States[len(h.States)-1]
}

type RecallSessionData struct {
	Seed       int64                 `json:"seed"`
	Mode       string                `json:"mode"`
	Iterations int                   `json:"iterations"`
	Input      hopfield_core.Pattern `json:"input"`
	Final      hopfield_core.Pattern `json:"final"`
	History    RecallHistory         `json:"history"`
	Status     string                `json:"status"`
	// Similarity and Recovered compare Final with the clean pattern when one is known.
	Similarity float64 `json:"similarity"`
	Recovered  bool    `json:"recovered"`
}

type RecallIteration struct {
	Iteration int                   `json:"iteration"`
	State     hopfield_core.Pattern `json:"state"`
	Energy    float64               `json:"energy"`
}
