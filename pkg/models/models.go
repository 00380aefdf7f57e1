package models

import (
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Body struct {
		Status  string    `json:"status" example:"healthy" doc:"Service health status"`
		Version string    `json:"version" example:"1.0.0" doc:"API version"`
		Time    time.Time `json:"time" doc:"Current server time"`
	}
}

// Diagnostics is a snapshot of the live session's per-frame counters
type Diagnostics struct {
	FramesProcessed uint64        `json:"frames_processed" doc:"Frames corrected and written"`
	FramesDropped   uint64        `json:"frames_dropped" doc:"Frames dropped by the drop-oldest queue"`
	LateFrames      uint64        `json:"late_frames" doc:"Frames whose processing exceeded one frame period"`
	SafetyLimited   uint64        `json:"safety_limited" doc:"Frames hard limited at the safety ceiling"`
	NonFinite       uint64        `json:"non_finite" doc:"Frames discarded because of NaN or Inf samples"`
	ReadErrors      uint64        `json:"read_errors" doc:"Recoverable source read errors"`
	WriteErrors     uint64        `json:"write_errors" doc:"Recoverable sink write errors"`
	Rejected        uint64        `json:"rejected" doc:"Frames the corrector refused because of a wrong length or sample rate"`
	ProfileSwaps    uint64        `json:"profile_swaps" doc:"Profiles installed since start"`
	Uptime          time.Duration `json:"uptime" doc:"Time since the session started"`
}

// GetDiagnosticsResponse wraps the live session diagnostics
type GetDiagnosticsResponse struct {
	Body Diagnostics
}

// GetProfileResponse returns the profile currently applied
type GetProfileResponse struct {
	Body *AudioProfile
}

// GetProfileCurveRequest selects how densely the gain curve is sampled
type GetProfileCurveRequest struct {
	Points int     `query:"points" minimum:"2" maximum:"2048" default:"64" doc:"Number of log-spaced points"`
	MinHz  float64 `query:"min_hz" minimum:"1" default:"125" doc:"Lowest frequency"`
	MaxHz  float64 `query:"max_hz" minimum:"2" default:"8000" doc:"Highest frequency"`
}

// GetProfileCurveResponse returns the interpolated gain curve
type GetProfileCurveResponse struct {
	Body struct {
		ProfileID string           `json:"profile_id" doc:"Profile the curve was sampled from"`
		Points    []FrequencyPoint `json:"points" doc:"Gain in dB per frequency"`
	}
}

// InstallProfileRequest carries a replacement profile for hot-swap
type InstallProfileRequest struct {
	Body *AudioProfile
}

// InstallProfileResponse confirms an installed profile
type InstallProfileResponse struct {
	Body struct {
		ProfileID string `json:"profile_id" doc:"Installed profile ID"`
		Message   string `json:"message" doc:"Confirmation message"`
	}
}

// ListProfilesRequest pages the profile history
type ListProfilesRequest struct {
	Limit int `query:"limit" minimum:"1" maximum:"1000" default:"50" doc:"Maximum number of profiles"`
}

// GetStoredProfileRequest selects a profile from history
type GetStoredProfileRequest struct {
	ID string `path:"id" doc:"Profile ID"`
}

// GetSessionRequest selects a calibration session
type GetSessionRequest struct {
	ID string `path:"id" doc:"Calibration session ID"`
}

// GetSessionResponse reports a calibration session's status and progress
type GetSessionResponse struct {
	Body *CalibrationSession
}

// ListProfilesResponse lists stored profiles, newest first
type ListProfilesResponse struct {
	Body struct {
		Profiles []ProfileSummary `json:"profiles" doc:"Stored profiles"`
	}
}

// ProfileSummary is the listing view of a stored profile
type ProfileSummary struct {
	ID        string    `json:"id" doc:"Profile ID"`
	Rule      string    `json:"rule" doc:"Gain rule used to build the profile"`
	Bands     int       `json:"bands" doc:"Number of bands"`
	MaxGainDB float64   `json:"max_gain_db" doc:"Largest band gain"`
	CreatedAt time.Time `json:"created_at" doc:"Creation time"`
}
