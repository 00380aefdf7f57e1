// Package memory keeps calibration history and the prompt cache in
// process memory. It backs the CLI when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RMahshie/aurelius/internal/repository"
	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/google/uuid"
)

// Store implements repository.CalibrationRepository and
// repository.PromptRepository.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]models.CalibrationSession
	profiles map[string]*models.AudioProfile
	prompts  map[string]models.PromptInteraction
	now      func() time.Time
}

var (
	_ repository.CalibrationRepository = (*Store)(nil)
	_ repository.PromptRepository      = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: map[uuid.UUID]models.CalibrationSession{},
		profiles: map[string]*models.AudioProfile{},
		prompts:  map[string]models.PromptInteraction{},
		now:      time.Now,
	}
}

func (s *Store) CreateSession(_ context.Context, session *models.CalibrationSession) error {
	id, err := uuid.Parse(session.ID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", session.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return fmt.Errorf("session %s already exists", id)
	}
	s.sessions[id] = *session
	return nil
}

func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*models.CalibrationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return &session, nil
}

func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, status string, progress int) error {
	return s.update(id, func(session *models.CalibrationSession) {
		session.Status = status
		session.Progress = progress
		if status == models.StatusCompleted {
			now := s.now()
			session.CompletedAt = &now
		}
	})
}

func (s *Store) UpdateError(_ context.Context, id uuid.UUID, errorMsg string) error {
	return s.update(id, func(session *models.CalibrationSession) {
		session.Status = models.StatusFailed
		session.ErrorMsg = &errorMsg
	})
}

func (s *Store) StoreProfile(_ context.Context, sessionID uuid.UUID, p *models.AudioProfile) error {
	if err := s.update(sessionID, func(session *models.CalibrationSession) {
		id := p.ID
		session.ProfileID = &id
	}); err != nil {
		return err
	}
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
	return nil
}

func (s *Store) GetProfile(_ context.Context, profileID string) (*models.AudioProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", profileID, models.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListProfiles(_ context.Context, limit int) ([]models.ProfileSummary, error) {
	s.mu.RLock()
	summaries := make([]models.ProfileSummary, 0, len(s.profiles))
	for _, p := range s.profiles {
		summaries = append(summaries, repository.Summarize(p))
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].CreatedAt.After(summaries[j].CreatedAt) })
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (s *Store) CreatePromptInteraction(_ context.Context, interaction *models.PromptInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[interaction.QuestionHash] = *interaction
	return nil
}

func (s *Store) GetPromptInteraction(_ context.Context, questionHash string) (*models.PromptInteraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	interaction, ok := s.prompts[questionHash]
	if !ok {
		return nil, fmt.Errorf("prompt %s: %w", questionHash, models.ErrNotFound)
	}
	return &interaction, nil
}

func (s *Store) update(id uuid.UUID, fn func(*models.CalibrationSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	fn(&session)
	session.UpdatedAt = s.now()
	s.sessions[id] = session
	return nil
}
