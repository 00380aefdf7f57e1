package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/internal/storage"
	"github.com/RMahshie/aurelius/pkg/models"
)

// LoadProfile reads a profile from a file path or an s3:// reference. A
// missing profile is reported as models.ErrInvalidProfile as well as
// models.ErrNotFound.
func (o *Orchestrator) LoadProfile(ctx context.Context, ref string) (*models.AudioProfile, error) {
	p, err := o.loadProfile(ctx, ref)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: could not find %s, run aurelius calibrate first: %w", models.ErrInvalidProfile, ref, err)
	}
	return p, err
}

func (o *Orchestrator) loadProfile(ctx context.Context, ref string) (*models.AudioProfile, error) {
	key, ok := storage.ParseURI(ref)
	if !ok {
		return profile.Load(ref)
	}
	if o.storage == nil {
		return nil, errStorageDisabled(ref)
	}
	data, err := o.storage.DownloadFile(ctx, key)
	if err != nil {
		return nil, err
	}
	return profile.Unmarshal(data)
}

// ProfileURL returns a presigned download URL for an s3:// reference.
func (o *Orchestrator) ProfileURL(ctx context.Context, ref string) (string, error) {
	key, ok := storage.ParseURI(ref)
	if !ok {
		return "", models.InvalidParameterf("%s is not an %s reference", ref, storage.URIScheme)
	}
	if o.storage == nil {
		return "", errStorageDisabled(ref)
	}
	return o.storage.GenerateDownloadURL(ctx, key)
}

// DeleteProfile removes a profile file or an object storage backup.
func (o *Orchestrator) DeleteProfile(ctx context.Context, ref string) error {
	key, ok := storage.ParseURI(ref)
	if !ok {
		if err := os.Remove(ref); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("profile %s: %w", ref, models.ErrNotFound)
			}
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		log.Info().Str("path", ref).Msg("Profile deleted")
		return nil
	}
	if o.storage == nil {
		return errStorageDisabled(ref)
	}
	if err := o.storage.DeleteFile(ctx, key); err != nil {
		return err
	}
	log.Info().Str("uri", ref).Msg("Profile backup deleted")
	return nil
}

func errStorageDisabled(ref string) error {
	return fmt.Errorf("%s: object storage is not configured", ref)
}
