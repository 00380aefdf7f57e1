package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/RMahshie/aurelius/internal/calibration"
	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/pkg/models"
)

// Config holds all configuration for the application
type Config struct {
	Env         string
	LogLevel    string
	Audio       AudioConfig
	Calibration CalibrationConfig
	Profile     ProfileConfig
	Database    DatabaseConfig
	Storage     StorageConfig
	Guidance    GuidanceConfig
	Server      ServerConfig
}

// AudioConfig holds stream geometry and level calibration
type AudioConfig struct {
	SampleRate       int
	FrameSize        int
	QueueDepth       int
	FullScaleSPL     float64
	SafetyCeilingSPL float64
	ToneDuration     time.Duration
	ToneRamp         time.Duration
	// DiagnosticsInterval is how often run mode logs its counters.
	DiagnosticsInterval time.Duration
}

// CalibrationConfig holds the hearing test parameters
type CalibrationConfig struct {
	Frequencies     []float64
	Staircase       calibration.StaircaseParams
	ResponseTimeout time.Duration
	MeasureComfort  bool
	Retries         int
}

// ProfileConfig holds profile building and persistence settings
type ProfileConfig struct {
	Path   string
	Safety models.SafetyRange
}

// DatabaseConfig holds database configuration. An empty URL keeps history
// in memory.
type DatabaseConfig struct {
	URL string
}

// StorageConfig holds object storage configuration. An empty bucket
// disables profile backup.
type StorageConfig struct {
	Driver    string
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// GuidanceConfig holds the chat model used for guidance messages
type GuidanceConfig struct {
	Enabled bool
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// ServerConfig holds the control API configuration
type ServerConfig struct {
	ListenAddr     string
	AllowedOrigins []string
}

var keys = []string{
	"ENVIRONMENT", "LOG_LEVEL",
	"SAMPLE_RATE", "FRAME_SIZE", "QUEUE_DEPTH", "FULL_SCALE_SPL", "SAFETY_CEILING_SPL",
	"TONE_DURATION", "TONE_RAMP", "DIAGNOSTICS_INTERVAL",
	"TEST_FREQUENCIES", "STAIRCASE_START_LEVEL", "STAIRCASE_MIN_LEVEL", "STAIRCASE_MAX_LEVEL",
	"STAIRCASE_INITIAL_STEP", "STAIRCASE_FINAL_STEP", "STAIRCASE_SWITCH_AFTER",
	"STAIRCASE_REVERSALS", "STAIRCASE_AVERAGED", "STAIRCASE_MAX_TRIALS", "STAIRCASE_CEILING_MISSES",
	"RESPONSE_TIMEOUT", "MEASURE_COMFORT", "CALIBRATION_RETRIES",
	"PROFILE_PATH", "GAIN_MIN_DB", "GAIN_MAX_DB",
	"DATABASE_URL",
	"STORAGE_DRIVER", "STORAGE_BUCKET", "STORAGE_ENDPOINT", "STORAGE_REGION",
	"STORAGE_ACCESS_KEY", "STORAGE_SECRET_KEY",
	"GUIDANCE_ENABLED", "GUIDANCE_BASE_URL", "GUIDANCE_MODEL", "GUIDANCE_API_KEY", "GUIDANCE_TIMEOUT",
	"LISTEN_ADDR", "ALLOWED_ORIGINS",
}

func setDefaults() {
	stair := calibration.DefaultStaircaseParams()

	viper.SetDefault("ENVIRONMENT", "dev")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SAMPLE_RATE", 48000)
	viper.SetDefault("FRAME_SIZE", 512)
	viper.SetDefault("QUEUE_DEPTH", 4)
	viper.SetDefault("FULL_SCALE_SPL", 110.0)
	viper.SetDefault("SAFETY_CEILING_SPL", 100.0)
	viper.SetDefault("TONE_DURATION", "1s")
	viper.SetDefault("TONE_RAMP", "10ms")
	viper.SetDefault("DIAGNOSTICS_INTERVAL", "5s")
	viper.SetDefault("TEST_FREQUENCIES", joinFloats(profile.AudiogramFrequencies))
	viper.SetDefault("STAIRCASE_START_LEVEL", stair.StartLevel)
	viper.SetDefault("STAIRCASE_MIN_LEVEL", stair.MinLevel)
	viper.SetDefault("STAIRCASE_MAX_LEVEL", stair.MaxLevel)
	viper.SetDefault("STAIRCASE_INITIAL_STEP", stair.InitialStep)
	viper.SetDefault("STAIRCASE_FINAL_STEP", stair.FinalStep)
	viper.SetDefault("STAIRCASE_SWITCH_AFTER", stair.SwitchAfter)
	viper.SetDefault("STAIRCASE_REVERSALS", stair.Reversals)
	viper.SetDefault("STAIRCASE_AVERAGED", stair.Averaged)
	viper.SetDefault("STAIRCASE_MAX_TRIALS", stair.MaxTrials)
	viper.SetDefault("STAIRCASE_CEILING_MISSES", stair.CeilingMisses)
	viper.SetDefault("RESPONSE_TIMEOUT", "10s")
	viper.SetDefault("MEASURE_COMFORT", false)
	viper.SetDefault("CALIBRATION_RETRIES", 2)
	viper.SetDefault("PROFILE_PATH", "aurelius_profile.json")
	viper.SetDefault("GAIN_MIN_DB", models.DefaultSafetyRange.MinGainDB)
	viper.SetDefault("GAIN_MAX_DB", models.DefaultSafetyRange.MaxGainDB)
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("STORAGE_DRIVER", "s3")
	viper.SetDefault("STORAGE_BUCKET", "")
	viper.SetDefault("STORAGE_ENDPOINT", "")
	viper.SetDefault("STORAGE_REGION", "us-east-1")
	viper.SetDefault("STORAGE_ACCESS_KEY", "")
	viper.SetDefault("STORAGE_SECRET_KEY", "")
	viper.SetDefault("GUIDANCE_ENABLED", true)
	viper.SetDefault("GUIDANCE_BASE_URL", "http://localhost:11434/v1")
	viper.SetDefault("GUIDANCE_MODEL", "llama3")
	viper.SetDefault("GUIDANCE_API_KEY", "")
	viper.SetDefault("GUIDANCE_TIMEOUT", "30s")
	viper.SetDefault("LISTEN_ADDR", "")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

// Load loads configuration from environment variables and .env files
func Load() (*Config, error) {
	setDefaults()

	// Environment variables override .env file values
	viper.AutomaticEnv()
	for _, key := range keys {
		viper.BindEnv(key)
	}
	// The guidance key falls back to the conventional OpenAI variable.
	viper.BindEnv("GUIDANCE_API_KEY", "GUIDANCE_API_KEY", "OPENAI_API_KEY")

	// Read from .env files based on environment
	env := viper.GetString("ENVIRONMENT")
	if env == "" {
		env = "dev" // Use "dev" to match .env.dev filename
	}

	viper.SetConfigName(".env." + env)
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// Read .env file (ignore error if file doesn't exist)
	_ = viper.ReadInConfig()

	freqs, err := parseFloats(viper.GetString("TEST_FREQUENCIES"))
	if err != nil {
		return nil, fmt.Errorf("TEST_FREQUENCIES: %w", err)
	}

	var config Config
	config.Env = viper.GetString("ENVIRONMENT")
	config.LogLevel = viper.GetString("LOG_LEVEL")

	config.Audio = AudioConfig{
		SampleRate:          viper.GetInt("SAMPLE_RATE"),
		FrameSize:           viper.GetInt("FRAME_SIZE"),
		QueueDepth:          viper.GetInt("QUEUE_DEPTH"),
		FullScaleSPL:        viper.GetFloat64("FULL_SCALE_SPL"),
		SafetyCeilingSPL:    viper.GetFloat64("SAFETY_CEILING_SPL"),
		ToneDuration:        viper.GetDuration("TONE_DURATION"),
		ToneRamp:            viper.GetDuration("TONE_RAMP"),
		DiagnosticsInterval: viper.GetDuration("DIAGNOSTICS_INTERVAL"),
	}

	config.Calibration = CalibrationConfig{
		Frequencies: freqs,
		Staircase: calibration.StaircaseParams{
			StartLevel:    viper.GetFloat64("STAIRCASE_START_LEVEL"),
			MinLevel:      viper.GetFloat64("STAIRCASE_MIN_LEVEL"),
			MaxLevel:      viper.GetFloat64("STAIRCASE_MAX_LEVEL"),
			InitialStep:   viper.GetFloat64("STAIRCASE_INITIAL_STEP"),
			FinalStep:     viper.GetFloat64("STAIRCASE_FINAL_STEP"),
			SwitchAfter:   viper.GetInt("STAIRCASE_SWITCH_AFTER"),
			Reversals:     viper.GetInt("STAIRCASE_REVERSALS"),
			Averaged:      viper.GetInt("STAIRCASE_AVERAGED"),
			MaxTrials:     viper.GetInt("STAIRCASE_MAX_TRIALS"),
			CeilingMisses: viper.GetInt("STAIRCASE_CEILING_MISSES"),
		},
		ResponseTimeout: viper.GetDuration("RESPONSE_TIMEOUT"),
		MeasureComfort:  viper.GetBool("MEASURE_COMFORT"),
		Retries:         viper.GetInt("CALIBRATION_RETRIES"),
	}

	config.Profile = ProfileConfig{
		Path: viper.GetString("PROFILE_PATH"),
		Safety: models.SafetyRange{
			MinGainDB: viper.GetFloat64("GAIN_MIN_DB"),
			MaxGainDB: viper.GetFloat64("GAIN_MAX_DB"),
		},
	}

	config.Database.URL = viper.GetString("DATABASE_URL")

	config.Storage = StorageConfig{
		Driver:    viper.GetString("STORAGE_DRIVER"),
		Bucket:    viper.GetString("STORAGE_BUCKET"),
		Endpoint:  viper.GetString("STORAGE_ENDPOINT"),
		Region:    viper.GetString("STORAGE_REGION"),
		AccessKey: viper.GetString("STORAGE_ACCESS_KEY"),
		SecretKey: viper.GetString("STORAGE_SECRET_KEY"),
	}

	config.Guidance = GuidanceConfig{
		Enabled: viper.GetBool("GUIDANCE_ENABLED"),
		BaseURL: viper.GetString("GUIDANCE_BASE_URL"),
		Model:   viper.GetString("GUIDANCE_MODEL"),
		APIKey:  viper.GetString("GUIDANCE_API_KEY"),
		Timeout: viper.GetDuration("GUIDANCE_TIMEOUT"),
	}

	config.Server = ServerConfig{
		ListenAddr:     viper.GetString("LISTEN_ADDR"),
		AllowedOrigins: splitList(viper.GetString("ALLOWED_ORIGINS")),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("environment", config.Env).
		Int("sample_rate", config.Audio.SampleRate).
		Int("frame_size", config.Audio.FrameSize).
		Floats64("frequencies", config.Calibration.Frequencies).
		Bool("database", config.Database.URL != "").
		Bool("storage", config.Storage.Bucket != "").
		Msg("Configuration loaded")

	return &config, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	a := c.Audio
	switch {
	case a.SampleRate <= 0:
		return models.InvalidParameterf("SAMPLE_RATE must be positive")
	case a.FrameSize < 2 || a.FrameSize%2 != 0:
		return models.InvalidParameterf("FRAME_SIZE must be a positive even number")
	case a.QueueDepth < 1:
		return models.InvalidParameterf("QUEUE_DEPTH must be at least 1")
	case a.SafetyCeilingSPL > a.FullScaleSPL:
		return models.InvalidParameterf("SAFETY_CEILING_SPL %g exceeds FULL_SCALE_SPL %g", a.SafetyCeilingSPL, a.FullScaleSPL)
	case a.ToneDuration <= 0:
		return models.InvalidParameterf("TONE_DURATION must be positive")
	case c.Calibration.Staircase.MaxLevel > a.SafetyCeilingSPL:
		return models.InvalidParameterf("STAIRCASE_MAX_LEVEL %g exceeds SAFETY_CEILING_SPL %g",
			c.Calibration.Staircase.MaxLevel, a.SafetyCeilingSPL)
	case c.Calibration.Retries < 0:
		return models.InvalidParameterf("CALIBRATION_RETRIES must not be negative")
	case c.Profile.Safety.MinGainDB < profile.HardSafetyLimits.MinGainDB ||
		c.Profile.Safety.MaxGainDB > profile.HardSafetyLimits.MaxGainDB ||
		c.Profile.Safety.MinGainDB > c.Profile.Safety.MaxGainDB:
		return models.InvalidParameterf("gain range [%g, %g] must lie within [%g, %g]",
			c.Profile.Safety.MinGainDB, c.Profile.Safety.MaxGainDB,
			profile.HardSafetyLimits.MinGainDB, profile.HardSafetyLimits.MaxGainDB)
	}
	for _, f := range c.Calibration.Frequencies {
		if f >= float64(a.SampleRate)/2 {
			return models.InvalidParameterf("test frequency %g Hz is at or above Nyquist", f)
		}
	}
	if _, err := profile.Partition(c.Calibration.Frequencies); err != nil {
		return err
	}
	return c.Calibration.Staircase.Validate()
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, part := range splitList(s) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
