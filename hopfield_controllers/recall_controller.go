package hopfield_controllers

import (
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"hopfield_recall/hopfield_core"
	"hopfield_recall/hopfield_updateRules"
)

type RecallController struct {
}

func (RecallController) SettingsFactory(mode string, maxIterations int, energyTol float64) (RecallSettings, error) {

	var ruleHandler hopfield_updateRules.HopfieldUpdateRuleHandler

	parsedMode := strings.ToUpper(mode)
	switch parsedMode {
	case ModeSynchronous:
		ruleHandler = hopfield_updateRules.SynchronousUpdateRule{}
	case ModeAsynchronous:
		ruleHandler = hopfield_updateRules.AsynchronousUpdateRule{}
	}
	if ruleHandler == nil {
		return RecallSettings{}, errors.Wrapf(hopfield_core.ErrInvalidInput, "recall mode is invalid: %s", mode)
	}
	if maxIterations < 1 {
		return RecallSettings{}, errors.Wrapf(hopfield_core.ErrInvalidInput, "max iterations %d, want >= 1", maxIterations)
	}
	if energyTol < 0 || math.IsNaN(energyTol) {
		return RecallSettings{}, errors.Wrapf(hopfield_core.ErrInvalidInput, "energy tolerance %v, want >= 0", energyTol)
	}

	return RecallSettings{
		Mode:              parsedMode,
		MaxIterations:     maxIterations,
		EnergyTol:         energyTol,
		updateRuleHandler: ruleHandler,
	}, nil
}

// Recall relaxes a copy of input until the energy change drops below
// settings.EnergyTol or settings.MaxIterations steps have run. perm is only
// consulted by the asynchronous rule; nil falls back to the process generator.
// onIteration, when set, is called in-line after every step.
func (RecallController) Recall(net *hopfield_core.Network, input hopfield_core.Pattern, settings RecallSettings,
	perm hopfield_updateRules.PermutationSource, onIteration func(RecallIteration)) (RecallHistory, error) {

	if settings.updateRuleHandler == nil {
		return RecallHistory{}, errors.Wrap(hopfield_core.ErrInvalidInput, "recall settings were not built by SettingsFactory")
	}
	if settings.MaxIterations < 1 || settings.EnergyTol < 0 || math.IsNaN(settings.EnergyTol) {
		return RecallHistory{}, errors.Wrapf(hopfield_core.ErrInvalidInput, "max iterations %d, energy tolerance %v", settings.MaxIterations, settings.EnergyTol)
	}
	if err := hopfield_core.ValidatePattern(input, net.Size()); err != nil {
		return RecallHistory{}, errors.Wrap(err, "recall input")
	}
	if perm == nil {
		perm = hopfield_updateRules.ProcessPermutationSource
	}

	state := input.Float64s()
	history := RecallHistory{}
	history.record(hopfield_core.PatternFromState(state), 0, settings.MaxRetainedStates)
	history.Energies = append(history.Energies, net.StateEnergy(state))

	for iteration := 1; iteration <= settings.MaxIterations; iteration++ {
		settings.updateRuleHandler.UpdateState(net, state, perm)

		snapshot := hopfield_core.PatternFromState(state)
		energy := net.StateEnergy(state)
		history.record(snapshot, iteration, settings.MaxRetainedStates)
		history.Energies = append(history.Energies, energy)

		if onIteration != nil {
			onIteration(RecallIteration{Iteration: iteration, State: snapshot, Energy: energy})
		}

		if math.Abs(energy-history.Energies[iteration-1]) < settings.EnergyTol {
			history.Converged = true
			break
		}
	}
	return history, nil
}

func (h *RecallHistory) record(state hopfield_core.Pattern, iteration int, limit int) {
	if limit > 1 && len(h.States) >= limit {
		// keep the initial state, drop the oldest intermediate one
		h.States = append(h.States[:1], h.States[2:]...)
		h.StateIterations = append(h.StateIterations[:1], h.StateIterations[2:]...)
	}
	h.States = append(h.States, state)
	h.StateIterations = append(h.StateIterations, iteration)
}

func (c RecallController) StartRecallSession(net *hopfield_core.Network, input hopfield_core.Pattern, settings RecallSettings,
	stateChannel chan<- SessionStateMessage, seed int64, localRand *rand.Rand) (RecallSessionData, error) {

	var perm hopfield_updateRules.PermutationSource
	if localRand != nil {
		perm = localRand
	}

	//Progress is fire-and-forget: a slow or absent reader never stalls recall
	var onIteration func(RecallIteration)
	if stateChannel != nil {
		onIteration = func(it RecallIteration) {
			select {
			case stateChannel <- SessionStateMessage{CommandType: "iterate", SessionState: it}:
			default:
			}
		}
	}

	history, err := c.Recall(net, input, settings, perm, onIteration)
	if err != nil {
		return RecallSessionData{}, err
	}

	status := StatusLimitReached
	if history.Converged {
		status = StatusConverged
	}
	session := RecallSessionData{
		Seed:       seed,
		Mode:       settings.Mode,
		Iterations: history.Iterations(),
		Input:      input.Clone(),
		Final:      history.Final(),
		History:    history,
		Status:     status,
	}
	if stateChannel != nil {
		select {
		case stateChannel <- SessionStateMessage{CommandType: "finished", SessionState: session}:
		default:
		}
	}
	return session, nil
}
