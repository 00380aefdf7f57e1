package repository

import (
	"context"

	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/google/uuid"
)

// CalibrationRepository defines the interface for calibration session and
// profile history operations. Lookups of missing records return an error
// wrapping models.ErrNotFound.
type CalibrationRepository interface {
	CreateSession(ctx context.Context, session *models.CalibrationSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.CalibrationSession, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress int) error
	UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error
	StoreProfile(ctx context.Context, sessionID uuid.UUID, profile *models.AudioProfile) error
	GetProfile(ctx context.Context, profileID string) (*models.AudioProfile, error)
	ListProfiles(ctx context.Context, limit int) ([]models.ProfileSummary, error)
}

// PromptRepository defines the interface for the guidance prompt cache
type PromptRepository interface {
	CreatePromptInteraction(ctx context.Context, interaction *models.PromptInteraction) error
	GetPromptInteraction(ctx context.Context, questionHash string) (*models.PromptInteraction, error)
}

// Summarize builds the listing view of a profile.
func Summarize(p *models.AudioProfile) models.ProfileSummary {
	return models.ProfileSummary{
		ID:        p.ID,
		Rule:      p.Rule,
		Bands:     len(p.Bands),
		MaxGainDB: p.MaxGainDB(),
		CreatedAt: p.CreatedAt,
	}
}
