package handlers

import (
	"context"
	"errors"
	"math"

	"github.com/RMahshie/aurelius/internal/repository"
	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is the live correction session the control API observes.
type Session interface {
	Diagnostics() (models.Diagnostics, bool)
	Profile() *models.AudioProfile
	Install(p *models.AudioProfile) error
}

// SessionHandler handles diagnostics and profile requests
type SessionHandler struct {
	session Session
	repo    repository.CalibrationRepository
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(session Session, repo repository.CalibrationRepository) *SessionHandler {
	return &SessionHandler{
		session: session,
		repo:    repo,
	}
}

// GetDiagnostics returns the live session counters
func (h *SessionHandler) GetDiagnostics(ctx context.Context, input *struct{}) (*models.GetDiagnosticsResponse, error) {
	d, ok := h.session.Diagnostics()
	if !ok {
		return nil, huma.Error503ServiceUnavailable("No correction session is running")
	}
	return &models.GetDiagnosticsResponse{Body: d}, nil
}

// GetProfile returns the profile the live session is applying
func (h *SessionHandler) GetProfile(ctx context.Context, input *struct{}) (*models.GetProfileResponse, error) {
	p := h.session.Profile()
	if p == nil {
		return nil, huma.Error404NotFound("No profile is installed")
	}
	return &models.GetProfileResponse{Body: p}, nil
}

// GetProfileCurve samples the live gain curve at log-spaced frequencies
func (h *SessionHandler) GetProfileCurve(ctx context.Context, req *models.GetProfileCurveRequest) (*models.GetProfileCurveResponse, error) {
	if req.MaxHz <= req.MinHz {
		return nil, huma.Error400BadRequest("max_hz must be above min_hz")
	}
	p := h.session.Profile()
	if p == nil {
		return nil, huma.Error404NotFound("No profile is installed")
	}

	resp := &models.GetProfileCurveResponse{}
	resp.Body.ProfileID = p.ID
	resp.Body.Points = p.Curve(logSpaced(req.MinHz, req.MaxHz, req.Points))
	return resp, nil
}

// InstallProfile validates and hot-swaps the live profile
func (h *SessionHandler) InstallProfile(ctx context.Context, req *models.InstallProfileRequest) (*models.InstallProfileResponse, error) {
	if req.Body == nil {
		return nil, huma.Error400BadRequest("Profile body is required")
	}

	log.Info().Str("profileID", req.Body.ID).Msg("Installing profile")
	if err := h.session.Install(req.Body); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidProfile):
			return nil, huma.Error422UnprocessableEntity("Profile failed validation", err)
		case errors.Is(err, models.ErrNotFound):
			return nil, huma.Error503ServiceUnavailable("No correction session is running", err)
		}
		log.Error().Err(err).Str("profileID", req.Body.ID).Msg("Failed to install profile")
		return nil, huma.Error500InternalServerError("Failed to install profile", err)
	}

	resp := &models.InstallProfileResponse{}
	resp.Body.ProfileID = req.Body.ID
	resp.Body.Message = "Profile installed"
	return resp, nil
}

// ListProfiles returns the stored profile history, newest first
func (h *SessionHandler) ListProfiles(ctx context.Context, req *models.ListProfilesRequest) (*models.ListProfilesResponse, error) {
	profiles, err := h.repo.ListProfiles(ctx, req.Limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list profiles")
		return nil, huma.Error500InternalServerError("Failed to list profiles", err)
	}

	resp := &models.ListProfilesResponse{}
	resp.Body.Profiles = profiles
	if resp.Body.Profiles == nil {
		resp.Body.Profiles = []models.ProfileSummary{}
	}
	return resp, nil
}

// GetStoredProfile returns one profile from history
func (h *SessionHandler) GetStoredProfile(ctx context.Context, req *models.GetStoredProfileRequest) (*models.GetProfileResponse, error) {
	p, err := h.repo.GetProfile(ctx, req.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, huma.Error404NotFound("Profile not found")
		}
		log.Error().Err(err).Str("profileID", req.ID).Msg("Failed to load profile")
		return nil, huma.Error500InternalServerError("Failed to load profile", err)
	}
	return &models.GetProfileResponse{Body: p}, nil
}

// GetSession returns the status and progress of a calibration session
func (h *SessionHandler) GetSession(ctx context.Context, req *models.GetSessionRequest) (*models.GetSessionResponse, error) {
	sessionID, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid session ID", err)
	}

	session, err := h.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, huma.Error404NotFound("Session not found")
		}
		log.Error().Err(err).Str("sessionID", req.ID).Msg("Failed to load session")
		return nil, huma.Error500InternalServerError("Failed to load session", err)
	}
	return &models.GetSessionResponse{Body: session}, nil
}

// logSpaced returns n frequencies evenly spaced in log frequency over
// [lo, hi], both ends included.
func logSpaced(lo, hi float64, n int) []float64 {
	if n < 2 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := math.Log(hi/lo) / float64(n-1)
	for i := range out {
		out[i] = lo * math.Exp(step*float64(i))
	}
	out[n-1] = hi
	return out
}
