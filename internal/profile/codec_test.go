package profile

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtProfile(t *testing.T) *models.AudioProfile {
	t.Helper()
	bands, err := Partition(AudiogramFrequencies)
	require.NoError(t, err)
	// Irregular thresholds so gains carry full float64 mantissas.
	p, err := NewBuilder().Build(bands, measurementsAt(bands, func(f float64) float64 {
		return 31.7 + 3*math.Log(f)
	}))
	require.NoError(t, err)
	return p
}

func TestSaveLoadRoundTripIsBitIdentical(t *testing.T) {
	p := builtProfile(t)
	path := filepath.Join(t.TempDir(), "profile.json")

	require.NoError(t, Save(path, p))
	loaded, err := Load(path)
	require.NoError(t, err)

	require.Len(t, loaded.Bands, len(p.Bands))
	for i := range p.Bands {
		assert.Equal(t, math.Float64bits(p.Bands[i].GainDB), math.Float64bits(loaded.Bands[i].GainDB))
		assert.Equal(t, p.Bands[i].Band, loaded.Bands[i].Band)
	}
	assert.Equal(t, p.ID, loaded.ID)
	assert.Equal(t, p.Safety, loaded.Safety)
	assert.True(t, p.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, p.Measurements, loaded.Measurements)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDecodeRejectsInvalidProfiles(t *testing.T) {
	p := builtProfile(t)
	data, err := Marshal(p)
	require.NoError(t, err)
	good := string(data)

	tests := []struct {
		name   string
		mutate func(string) string
	}{
		{"not json", func(string) string { return "{" }},
		{"unknown version", func(s string) string { return strings.Replace(s, `"version": 1`, `"version": 7`, 1) }},
		{"unknown field", func(s string) string { return strings.Replace(s, `"version": 1`, `"version": 1, "extra": true`, 1) }},
		{"gain above recorded range", func(s string) string {
			return strings.Replace(s, `"max_gain_db": 30`, `"max_gain_db": 1`, 1)
		}},
		{"empty bands", func(s string) string {
			i := strings.Index(s, `"bands": [`)
			j := strings.Index(s[i:], "]")
			return s[:i] + `"bands": [` + s[i+j:]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.mutate(good)))
			assert.ErrorIs(t, err, models.ErrInvalidProfile)
		})
	}
}

func TestValidateRejectsUnorderedBands(t *testing.T) {
	p := builtProfile(t)
	p.Bands[0], p.Bands[1] = p.Bands[1], p.Bands[0]
	assert.ErrorIs(t, Validate(p), models.ErrInvalidProfile)
}

func TestValidateRejectsNonFiniteGain(t *testing.T) {
	p := builtProfile(t)
	p.Bands[2].GainDB = math.NaN()
	assert.ErrorIs(t, Validate(p), models.ErrInvalidProfile)
	assert.ErrorIs(t, Validate(nil), models.ErrInvalidProfile)
}

func TestEncodeRefusesInvalidProfile(t *testing.T) {
	p := builtProfile(t)
	p.Version = 0
	var buf bytes.Buffer
	assert.ErrorIs(t, Encode(&buf, p), models.ErrInvalidProfile)
	assert.Zero(t, buf.Len())
}

func TestSaveReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.json")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	p := builtProfile(t)
	require.NoError(t, Save(path, p))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, p.ID, loaded.ID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
