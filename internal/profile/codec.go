package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/RMahshie/aurelius/pkg/models"
)

// fileFormat is the on-disk layout. Bands are flattened into
// (center_hz, gain_db) records; the safety range travels with them so a
// later run can re-validate the gains.
type fileFormat struct {
	Version      int                           `json:"version"`
	ID           string                        `json:"id"`
	CreatedAt    time.Time                     `json:"created_at"`
	Rule         string                        `json:"rule"`
	Safety       models.SafetyRange            `json:"safety"`
	Bands        []bandRecord                  `json:"bands"`
	Measurements []models.ThresholdMeasurement `json:"measurements,omitempty"`
}

type bandRecord struct {
	CenterHz float64 `json:"center_hz"`
	LowerHz  float64 `json:"lower_hz"`
	UpperHz  float64 `json:"upper_hz"`
	GainDB   float64 `json:"gain_db"`
}

// Encode writes p in the persisted format.
func Encode(w io.Writer, p *models.AudioProfile) error {
	if err := Validate(p); err != nil {
		return err
	}
	f := fileFormat{
		Version:      p.Version,
		ID:           p.ID,
		CreatedAt:    p.CreatedAt,
		Rule:         p.Rule,
		Safety:       p.Safety,
		Bands:        make([]bandRecord, len(p.Bands)),
		Measurements: p.Measurements,
	}
	for i, b := range p.Bands {
		f.Bands[i] = bandRecord{
			CenterHz: b.Band.CenterHz,
			LowerHz:  b.Band.LowerHz,
			UpperHz:  b.Band.UpperHz,
			GainDB:   b.GainDB,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return nil
}

// Decode reads and validates a persisted profile.
func Decode(r io.Reader) (*models.AudioProfile, error) {
	var f fileFormat
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidProfile, err)
	}

	p := &models.AudioProfile{
		ID:           f.ID,
		Version:      f.Version,
		CreatedAt:    f.CreatedAt,
		Rule:         f.Rule,
		Safety:       f.Safety,
		Bands:        make([]models.BandGain, len(f.Bands)),
		Measurements: f.Measurements,
	}
	for i, b := range f.Bands {
		p.Bands[i] = models.BandGain{
			Band:   models.FrequencyBand{CenterHz: b.CenterHz, LowerHz: b.LowerHz, UpperHz: b.UpperHz},
			GainDB: b.GainDB,
		}
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Marshal encodes p into a byte slice.
func Marshal(p *models.AudioProfile) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a profile from data.
func Unmarshal(data []byte) (*models.AudioProfile, error) {
	return Decode(bytes.NewReader(data))
}

// Save writes p to path, replacing any existing file atomically.
func Save(path string, p *models.AudioProfile) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp profile: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Load reads and validates the profile at path. A missing file is
// reported as models.ErrNotFound.
func Load(path string) (*models.AudioProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("profile %s: %w", path, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the invariants every profile must hold before it can be
// persisted or applied.
func Validate(p *models.AudioProfile) error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", models.ErrInvalidProfile)
	}
	if p.Version != models.ProfileVersion {
		return fmt.Errorf("%w: unsupported version %d", models.ErrInvalidProfile, p.Version)
	}
	if err := validateSafety(p.Safety); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidProfile, err)
	}
	if len(p.Bands) == 0 {
		return fmt.Errorf("%w: no bands", models.ErrInvalidProfile)
	}

	bands := make([]models.FrequencyBand, len(p.Bands))
	for i, b := range p.Bands {
		if math.IsNaN(b.GainDB) || math.IsInf(b.GainDB, 0) {
			return fmt.Errorf("%w: gain for %g Hz is not finite", models.ErrInvalidProfile, b.Band.CenterHz)
		}
		if !p.Safety.Contains(b.GainDB) {
			return fmt.Errorf("%w: gain %g dB at %g Hz outside safety range [%g, %g]",
				models.ErrInvalidProfile, b.GainDB, b.Band.CenterHz, p.Safety.MinGainDB, p.Safety.MaxGainDB)
		}
		bands[i] = b.Band
	}
	if err := ValidatePartition(bands); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidProfile, err)
	}
	return nil
}
