package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

func TestParseURI(t *testing.T) {
	key, ok := ParseURI("s3://profiles/abc.json")
	assert.True(t, ok)
	assert.Equal(t, "profiles/abc.json", key)

	_, ok = ParseURI("s3://")
	assert.False(t, ok)
	_, ok = ParseURI("./aurelius_profile.json")
	assert.False(t, ok)

	assert.Equal(t, "profiles/abc.json", ProfileKey("abc"))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Driver: "ftp", Bucket: "b"})
	assert.Error(t, err)

	_, err = New(Config{Driver: DriverS3})
	assert.Error(t, err)

	_, err = New(Config{Driver: DriverMinIO, Bucket: "b"})
	assert.Error(t, err)

	s, err := New(Config{Driver: DriverMinIO, Bucket: "b", Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "s"})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestProfileStorage_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := minio.Run(ctx,
		"minio/minio:RELEASE.2024-10-29T16-01-48Z",
		minio.WithUsername("minioadmin"),
		minio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(context.Background())) })

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	for _, driver := range []string{DriverS3, DriverMinIO} {
		t.Run(driver, func(t *testing.T) {
			store, err := New(Config{
				Driver:    driver,
				Bucket:    "aurelius-test-" + uuid.New().String()[:8],
				Endpoint:  endpoint,
				AccessKey: "minioadmin",
				SecretKey: "minioadmin",
			})
			require.NoError(t, err)
			require.NoError(t, store.EnsureBucket(ctx))
			require.NoError(t, store.EnsureBucket(ctx))

			key := ProfileKey(uuid.New().String())
			payload := []byte(`{"version": 1}`)
			require.NoError(t, store.UploadFile(ctx, key, payload, ProfileContentType))

			got, err := store.DownloadFile(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			url, err := store.GenerateDownloadURL(ctx, key)
			require.NoError(t, err)
			assert.True(t, strings.Contains(url, key))

			require.NoError(t, store.DeleteFile(ctx, key))
			_, err = store.DownloadFile(ctx, key)
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}
