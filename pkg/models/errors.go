package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by every layer. Callers wrap these with %w and
// test with errors.Is.
var (
	// ErrDevice means an audio device could not be opened or failed fatally.
	ErrDevice = errors.New("audio device error")
	// ErrInvalidParameter rejects a call whose arguments are out of range.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrIncompleteCalibration means at least one band has no measurement.
	ErrIncompleteCalibration = errors.New("incomplete calibration")
	// ErrFrameOverrun means a frame was dropped because processing fell behind.
	ErrFrameOverrun = errors.New("frame overrun")
	// ErrSafetyCeilingExceeded means output had to be hard limited.
	ErrSafetyCeilingExceeded = errors.New("safety ceiling exceeded")
	// ErrInvalidProfile means a persisted or submitted profile failed validation.
	ErrInvalidProfile = errors.New("invalid audio profile")
	// ErrNotFound is returned by repositories and storage for missing records.
	ErrNotFound = errors.New("not found")
)

// IncompleteCalibrationError lists the bands that still need a measurement.
type IncompleteCalibrationError struct {
	Missing []FrequencyBand
}

func (e *IncompleteCalibrationError) Error() string {
	centers := make([]string, len(e.Missing))
	for i, b := range e.Missing {
		centers[i] = fmt.Sprintf("%g Hz", b.CenterHz)
	}
	return fmt.Sprintf("%s: missing bands %s", ErrIncompleteCalibration, strings.Join(centers, ", "))
}

func (e *IncompleteCalibrationError) Is(target error) bool {
	return target == ErrIncompleteCalibration
}

// InvalidParameterf builds an error wrapping ErrInvalidParameter.
func InvalidParameterf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}
