package models

import "time"

// Calibration session statuses.
const (
	StatusPending     = "pending"
	StatusCalibrating = "calibrating"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// ThresholdMeasurement is the converged result of one band's staircase.
type ThresholdMeasurement struct {
	Band         FrequencyBand `json:"band"`
	ThresholdSPL float64       `json:"threshold_db_spl"`
	ComfortSPL   *float64      `json:"comfort_db_spl,omitempty"`
	Reversals    []float64     `json:"reversals,omitempty"`
	Trials       int           `json:"trials"`
	// Limited is set when the staircase hit a level bound or the trial cap
	// instead of converging on reversals.
	Limited bool `json:"limited,omitempty"`
}

// CalibrationSession tracks one run of the calibrate mode.
type CalibrationSession struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	ProfileID   *string    `json:"profile_id,omitempty"`
	ErrorMsg    *string    `json:"error_message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PromptInteraction is a cached guidance prompt/answer pair.
type PromptInteraction struct {
	ID           string    `json:"id"`
	QuestionHash string    `json:"question_hash"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	ModelUsed    string    `json:"model_used"`
	CreatedAt    time.Time `json:"created_at"`
}
