package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RMahshie/aurelius/pkg/models"
)

func loadWithEnv(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWithEnv(t, nil)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 512, cfg.Audio.FrameSize)
	assert.Equal(t, 4, cfg.Audio.QueueDepth)
	assert.Equal(t, 110.0, cfg.Audio.FullScaleSPL)
	assert.Equal(t, 100.0, cfg.Audio.SafetyCeilingSPL)
	assert.Equal(t, time.Second, cfg.Audio.ToneDuration)
	assert.Equal(t, []float64{250, 500, 1000, 2000, 4000, 6000, 8000}, cfg.Calibration.Frequencies)
	assert.Equal(t, 60.0, cfg.Calibration.Staircase.StartLevel)
	assert.Equal(t, 6, cfg.Calibration.Staircase.Reversals)
	assert.Equal(t, 10*time.Second, cfg.Calibration.ResponseTimeout)
	assert.Equal(t, models.DefaultSafetyRange, cfg.Profile.Safety)
	assert.Equal(t, "aurelius_profile.json", cfg.Profile.Path)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Storage.Bucket)
	assert.True(t, cfg.Guidance.Enabled)
	assert.Equal(t, "llama3", cfg.Guidance.Model)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.Server.AllowedOrigins)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	cfg, err := loadWithEnv(t, map[string]string{
		"SAMPLE_RATE":      "44100",
		"FRAME_SIZE":       "256",
		"TEST_FREQUENCIES": "500, 1000 ,2000",
		"MEASURE_COMFORT":  "true",
		"GAIN_MAX_DB":      "20",
		"STORAGE_BUCKET":   "profiles",
		"OPENAI_API_KEY":   "sk-test",
		"RESPONSE_TIMEOUT": "3s",
	})
	require.NoError(t, err)

	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 256, cfg.Audio.FrameSize)
	assert.Equal(t, []float64{500, 1000, 2000}, cfg.Calibration.Frequencies)
	assert.True(t, cfg.Calibration.MeasureComfort)
	assert.Equal(t, 20.0, cfg.Profile.Safety.MaxGainDB)
	assert.Equal(t, "profiles", cfg.Storage.Bucket)
	assert.Equal(t, "sk-test", cfg.Guidance.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Calibration.ResponseTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"odd frame size":         {"FRAME_SIZE": "511"},
		"ceiling above scale":    {"SAFETY_CEILING_SPL": "120"},
		"staircase above safety": {"STAIRCASE_MAX_LEVEL": "105"},
		"gain above hard limit":  {"GAIN_MAX_DB": "60"},
		"inverted gain range":    {"GAIN_MIN_DB": "10", "GAIN_MAX_DB": "5"},
		"frequency at nyquist":   {"TEST_FREQUENCIES": "1000,24000"},
		"unsorted frequencies":   {"TEST_FREQUENCIES": "1000,500"},
		"bad frequency":          {"TEST_FREQUENCIES": "1000,loud"},
		"zero queue":             {"QUEUE_DEPTH": "0"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadWithEnv(t, env)
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsEnvironmentFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env.test", []byte("FRAME_SIZE=1024\nPROFILE_PATH=/tmp/p.json\n"), 0o644))
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("PROFILE_PATH", "/tmp/override.json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, 1024, cfg.Audio.FrameSize)
	assert.Equal(t, "/tmp/override.json", cfg.Profile.Path)
}
