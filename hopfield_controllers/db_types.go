package hopfield_controllers

const (
	RecallSessionsTable = "recall_sessions"
	RecallLogTable      = "recall_log"

	dbTimeLayout = "2006-01-02 15:04:05"
)

// ConvergenceStats aggregates stored sessions of one recall mode and noise level
type ConvergenceStats struct {
	NoiseLevel     float64 `json:"noise_level"`
	TotalCount     int     `json:"total_count"`
	ConvergedCount int     `json:"converged_count"`
	RecoveredCount int     `json:"recovered_count"`
	AvgIterations  float64 `json:"avg_iterations"`
	AvgSimilarity  float64 `json:"avg_similarity"`
}
