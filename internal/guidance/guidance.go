// Package guidance produces the spoken-style messages shown around a
// calibration: the welcome, per-band hints and the results explanation.
// Messages come from an OpenAI-compatible chat model when one is
// reachable and from built-in text otherwise.
package guidance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RMahshie/aurelius/internal/repository"
	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Kind names the point in the session a message is for.
type Kind string

const (
	KindWelcome Kind = "welcome"
	KindBand    Kind = "band"
	KindResults Kind = "results"
)

// Request is one question to the guide.
type Request struct {
	Kind   Kind
	System string
	User   string
	// Fallback is returned when no model answer is available.
	Fallback string
}

// Guide answers guidance requests. Implementations never fail a
// calibration: errors are only returned for a cancelled context.
type Guide interface {
	RequestPrompt(ctx context.Context, req Request) (string, error)
}

// Completer is a chat model that answers a system/user prompt pair.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Service is the Guide used by the orchestrator.
type Service struct {
	completer Completer
	cache     repository.PromptRepository
	timeout   time.Duration
	now       func() time.Time
}

// NewService creates a guide. completer and cache may be nil.
func NewService(completer Completer, cache repository.PromptRepository, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{completer: completer, cache: cache, timeout: timeout, now: time.Now}
}

// RequestPrompt returns a cached answer, a fresh model answer, or the
// request's fallback text, in that order of preference.
func (s *Service) RequestPrompt(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.completer == nil {
		return req.Fallback, nil
	}

	hash := QuestionHash(s.completer.Model(), req)
	if s.cache != nil {
		cached, err := s.cache.GetPromptInteraction(ctx, hash)
		switch {
		case err == nil:
			log.Debug().Str("kind", string(req.Kind)).Msg("Guidance served from cache")
			return cached.Answer, nil
		case !errors.Is(err, models.ErrNotFound):
			log.Warn().Err(err).Msg("Guidance cache lookup failed")
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	answer, err := s.completer.Complete(cctx, req.System, req.User)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn().Err(err).Str("kind", string(req.Kind)).Str("model", s.completer.Model()).
			Msg("Guidance model unavailable, using built-in text")
		return req.Fallback, nil
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return req.Fallback, nil
	}

	if s.cache != nil {
		if err := s.cache.CreatePromptInteraction(ctx, &models.PromptInteraction{
			ID:           uuid.New().String(),
			QuestionHash: hash,
			Question:     req.User,
			Answer:       answer,
			ModelUsed:    s.completer.Model(),
			CreatedAt:    s.now().UTC(),
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to cache guidance answer")
		}
	}
	return answer, nil
}

// QuestionHash identifies a question for caching.
func QuestionHash(model string, req Request) string {
	sum := sha256.Sum256([]byte(model + "\x00" + req.System + "\x00" + req.User))
	return hex.EncodeToString(sum[:])
}

// Static is a Guide that always returns the fallback text.
type Static struct{}

// RequestPrompt implements Guide.
func (Static) RequestPrompt(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return req.Fallback, nil
}

func formatHz(hz float64) string {
	if hz >= 1000 {
		return fmt.Sprintf("%g kHz", hz/1000)
	}
	return fmt.Sprintf("%g Hz", hz)
}
