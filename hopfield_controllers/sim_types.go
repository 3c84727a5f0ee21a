package hopfield_controllers

import (
	"sync"
	"time"
)

type OpenSession struct {
	Uid                 string
	Config              RecallSettings
	NoiseLevel          float64
	StartTime           time.Time
	MaxSessionCount     int
	CurrentSessionCount int
	Tracking            bool                     `json:"-"`
	CurrentStateChannel chan SessionStateMessage `json:"-"`
}

type SessionMap struct {
	Sessions map[string]*OpenSession
	Mutex    sync.RWMutex
}

type SessionStateMessage struct {
	CommandType  string //iterate or finished
	SessionState interface{}
}

type SimulationSettings struct {
	MaxSessionCount int       `json:"max_session_count"`
	MaxIterations   int       `json:"max_iterations"`
	MaxWorkerCount  int       `json:"max_worker_count"`
	EnergyTol       float64   `json:"energy_tol"`
	NoiseLevels     []float64 `json:"noise_levels"`
	RecallModes     []string  `json:"recall_modes"`
	ModelPath       string    `json:"model_path"`
	DatasetDir      string    `json:"dataset_dir"`
	PatternCount    int       `json:"pattern_count"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
}

// ExperimentResult summarises every recall run for one mode and noise level.
type ExperimentResult struct {
	Mode           string  `json:"mode"`
	NoiseLevel     float64 `json:"noise_level"`
	Runs           int     `json:"runs"`
	Recovered      int     `json:"recovered"`
	Converged      int     `json:"converged"`
	MeanSimilarity float64 `json:"mean_similarity"`
	MeanIterations float64 `json:"mean_iterations"`
}
