package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/internal/repository"
	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/google/uuid"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresCalibrationRepository implements CalibrationRepository for PostgreSQL
type PostgresCalibrationRepository struct {
	db *sql.DB
}

// NewPostgresCalibrationRepository creates a new PostgreSQL calibration repository
func NewPostgresCalibrationRepository(db *sql.DB) repository.CalibrationRepository {
	return &PostgresCalibrationRepository{db: db}
}

// CreateSession inserts a new calibration session
func (r *PostgresCalibrationRepository) CreateSession(ctx context.Context, session *models.CalibrationSession) error {
	query := `
		INSERT INTO calibration_sessions (id, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.Status,
		session.Progress,
		session.CreatedAt,
		session.UpdatedAt)

	return err
}

// GetSession retrieves a calibration session by ID
func (r *PostgresCalibrationRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.CalibrationSession, error) {
	query := `
		SELECT id, status, progress, profile_id, error_message, created_at, updated_at, completed_at
		FROM calibration_sessions
		WHERE id = $1`

	var session models.CalibrationSession
	var profileID, errorMsg sql.NullString
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Status,
		&session.Progress,
		&profileID,
		&errorMsg,
		&session.CreatedAt,
		&session.UpdatedAt,
		&completedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if profileID.Valid {
		session.ProfileID = &profileID.String
	}
	if errorMsg.Valid {
		session.ErrorMsg = &errorMsg.String
	}
	if completedAt.Valid {
		session.CompletedAt = &completedAt.Time
	}

	return &session, nil
}

// UpdateStatus updates the status and progress of a session
func (r *PostgresCalibrationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress int) error {
	query := `
		UPDATE calibration_sessions
		SET status = $1, progress = $2, updated_at = NOW(),
		    completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $3`

	res, err := r.db.ExecContext(ctx, query, status, progress, id)
	return affected(res, err, id)
}

// UpdateError marks a session failed with a message
func (r *PostgresCalibrationRepository) UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error {
	query := `
		UPDATE calibration_sessions
		SET status = 'failed', error_message = $1, updated_at = NOW()
		WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, errorMsg, id)
	return affected(res, err, id)
}

// StoreProfile saves a built profile and links it to its session
func (r *PostgresCalibrationRepository) StoreProfile(ctx context.Context, sessionID uuid.UUID, p *models.AudioProfile) error {
	data, err := profile.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO audio_profiles (id, session_id, rule, band_count, max_gain_db, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := tx.ExecContext(ctx, query,
		p.ID,
		sessionID,
		p.Rule,
		len(p.Bands),
		p.MaxGainDB(),
		string(data),
		p.CreatedAt); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE calibration_sessions SET profile_id = $1, updated_at = NOW() WHERE id = $2`,
		p.ID, sessionID)
	if err := affected(res, err, sessionID); err != nil {
		return err
	}

	return tx.Commit()
}

// GetProfile retrieves and re-validates a stored profile
func (r *PostgresCalibrationRepository) GetProfile(ctx context.Context, profileID string) (*models.AudioProfile, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM audio_profiles WHERE id = $1`, profileID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", profileID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return profile.Unmarshal([]byte(data))
}

// ListProfiles lists stored profiles, newest first
func (r *PostgresCalibrationRepository) ListProfiles(ctx context.Context, limit int) ([]models.ProfileSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, rule, band_count, max_gain_db, created_at
		FROM audio_profiles
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []models.ProfileSummary{}
	for rows.Next() {
		var s models.ProfileSummary
		if err := rows.Scan(&s.ID, &s.Rule, &s.Bands, &s.MaxGainDB, &s.CreatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

func affected(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return nil
}
