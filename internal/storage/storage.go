// Package storage backs up persisted profiles to S3-compatible object
// storage.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProfileStorage handles profile object operations
type ProfileStorage interface {
	EnsureBucket(ctx context.Context) error
	UploadFile(ctx context.Context, key string, data []byte, contentType string) error
	DownloadFile(ctx context.Context, key string) ([]byte, error)
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
	DeleteFile(ctx context.Context, key string) error
}

// Drivers accepted in Config.Driver.
const (
	DriverS3    = "s3"
	DriverMinIO = "minio"
)

// URIScheme prefixes profile references that live in object storage.
const URIScheme = "s3://"

// ProfileContentType is the content type profile objects are stored with.
const ProfileContentType = "application/json"

const downloadURLExpiry = 24 * time.Hour

// Config holds configuration for the storage backend
type Config struct {
	Driver    string
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// New creates the storage backend selected by cfg.Driver
func New(cfg Config) (ProfileStorage, error) {
	switch cfg.Driver {
	case "", DriverS3:
		return NewS3Service(cfg)
	case DriverMinIO:
		return NewMinIOService(cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ProfileKey is the object key a profile is backed up under.
func ProfileKey(profileID string) string {
	return "profiles/" + profileID + ".json"
}

// ParseURI extracts the object key from an s3:// reference. ok is false
// for plain file paths.
func ParseURI(ref string) (key string, ok bool) {
	if !strings.HasPrefix(ref, URIScheme) {
		return "", false
	}
	key = strings.TrimPrefix(ref, URIScheme)
	return key, key != ""
}
