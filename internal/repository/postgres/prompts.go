package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RMahshie/aurelius/internal/repository"
	"github.com/RMahshie/aurelius/pkg/models"
)

// PostgresPromptRepository implements PromptRepository for PostgreSQL
type PostgresPromptRepository struct {
	db *sql.DB
}

// NewPostgresPromptRepository creates a new PostgreSQL prompt cache
func NewPostgresPromptRepository(db *sql.DB) repository.PromptRepository {
	return &PostgresPromptRepository{db: db}
}

// CreatePromptInteraction caches an answer; an existing hash is overwritten
func (r *PostgresPromptRepository) CreatePromptInteraction(ctx context.Context, interaction *models.PromptInteraction) error {
	query := `
		INSERT INTO prompt_interactions (id, question_hash, question, answer, model_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (question_hash) DO UPDATE
		SET answer = EXCLUDED.answer, model_used = EXCLUDED.model_used, created_at = EXCLUDED.created_at`

	_, err := r.db.ExecContext(ctx, query,
		interaction.ID,
		interaction.QuestionHash,
		interaction.Question,
		interaction.Answer,
		interaction.ModelUsed,
		interaction.CreatedAt)

	return err
}

// GetPromptInteraction looks up a cached answer by question hash
func (r *PostgresPromptRepository) GetPromptInteraction(ctx context.Context, questionHash string) (*models.PromptInteraction, error) {
	query := `
		SELECT id, question_hash, question, answer, model_used, created_at
		FROM prompt_interactions
		WHERE question_hash = $1`

	var interaction models.PromptInteraction
	err := r.db.QueryRowContext(ctx, query, questionHash).Scan(
		&interaction.ID,
		&interaction.QuestionHash,
		&interaction.Question,
		&interaction.Answer,
		&interaction.ModelUsed,
		&interaction.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prompt %s: %w", questionHash, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &interaction, nil
}
