package pipeline

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/RMahshie/aurelius/internal/audio"
	"github.com/RMahshie/aurelius/internal/calibration"
	"github.com/RMahshie/aurelius/internal/guidance"
	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/internal/repository/memory"
	"github.com/RMahshie/aurelius/internal/storage"
	"github.com/RMahshie/aurelius/pkg/models"
)

const (
	testRate  = 48000
	testFrame = 512
)

var testCenters = []float64{250, 500, 1000, 2000, 4000, 8000}

func testConfig(t *testing.T) Config {
	t.Helper()
	bands, err := profile.Partition(testCenters)
	require.NoError(t, err)
	est := calibration.DefaultEstimatorConfig()
	est.ResponseTimeout = time.Second
	return Config{
		Format:           audio.Format{SampleRate: testRate, FrameSize: testFrame, Channels: 1},
		Levels:           audio.Levels{FullScaleSPL: audio.DefaultFullScaleSPL},
		SafetyCeilingSPL: 100,
		ToneDuration:     20 * time.Millisecond,
		Estimator:        est,
		Bands:            bands,
		Retries:          1,
		ProfilePath:      filepath.Join(t.TempDir(), "profile.json"),
		QueueDepth:       4,
		Lossless:         true,
	}
}

func sine(freq, amplitude float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return out
}

func rms(s []float64) float64 {
	var sum float64
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(s)))
}

// MockProfileStorage is a mock implementation of ProfileStorage
type MockProfileStorage struct {
	mock.Mock
}

func (m *MockProfileStorage) EnsureBucket(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProfileStorage) UploadFile(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}

func (m *MockProfileStorage) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProfileStorage) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockProfileStorage) DeleteFile(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func TestCalibrateWithSimulatedListener(t *testing.T) {
	cfg := testConfig(t)
	device := audio.NewMemoryDevice(nil)
	repo := memory.NewStore()
	var out bytes.Buffer

	o, err := New(cfg, device, WithRepository(repo), WithOutput(&out))
	require.NoError(t, err)

	p, err := o.Calibrate(context.Background(), calibration.NewSimulatedListener(40))
	require.NoError(t, err)
	require.Len(t, p.Bands, len(testCenters))

	for i, b := range p.Bands {
		assert.Equal(t, testCenters[i], b.Band.CenterHz)
		want := models.DefaultSafetyRange.Clamp(0.5 * (37.5 - profile.ReferenceThresholdSPL(testCenters[i])))
		assert.InDelta(t, want, b.GainDB, 1e-9)
		assert.True(t, p.Safety.Contains(b.GainDB))
	}

	loaded, err := profile.Load(cfg.ProfilePath)
	require.NoError(t, err)
	assert.Equal(t, p.Bands, loaded.Bands)

	stored, err := repo.GetProfile(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)

	assert.Contains(t, out.String(), guidance.WelcomeRequest().Fallback)
	assert.Contains(t, out.String(), "Band 1 of 6")
	assert.Contains(t, out.String(), "Your hearing profile is ready")

	samples := device.WrittenSamples()
	require.NotEmpty(t, samples)
	peak := 0.0
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
	}
	assert.LessOrEqual(t, peak, cfg.CeilingAmplitude())
}

// confirmingListener is a simulated listener that also waits for Enter.
type confirmingListener struct {
	*calibration.SimulatedListener
	err     error
	prompts []string
}

func (l *confirmingListener) WaitForEnter(_ context.Context, prompt string) error {
	l.prompts = append(l.prompts, prompt)
	return l.err
}

func TestCalibrateWaitsForListener(t *testing.T) {
	listener := &confirmingListener{SimulatedListener: calibration.NewSimulatedListener(40)}
	o, err := New(testConfig(t), audio.NewMemoryDevice(nil))
	require.NoError(t, err)

	_, err = o.Calibrate(context.Background(), listener)
	require.NoError(t, err)
	require.Len(t, listener.prompts, 1)
	assert.Contains(t, listener.prompts[0], "Press Enter")

	device := audio.NewMemoryDevice(nil)
	o, err = New(testConfig(t), device)
	require.NoError(t, err)
	quitting := &confirmingListener{SimulatedListener: calibration.NewSimulatedListener(40), err: calibration.ErrInputClosed}
	_, err = o.Calibrate(context.Background(), quitting)
	assert.ErrorIs(t, err, calibration.ErrInputClosed)
	assert.Empty(t, quitting.Trials())
	assert.Empty(t, device.Written())
}

func TestCalibrateRecordsSessionStatus(t *testing.T) {
	cfg := testConfig(t)
	repo := memory.NewStore()
	o, err := New(cfg, audio.NewMemoryDevice(nil), WithRepository(repo))
	require.NoError(t, err)

	p, err := o.Calibrate(context.Background(), calibration.NewSimulatedListener(30))
	require.NoError(t, err)

	list, err := repo.ListProfiles(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
}

func TestCalibrateRetriesBandWhoseToneFailed(t *testing.T) {
	cfg := testConfig(t)
	device := audio.NewMemoryDevice(nil)
	device.FailWrite(0, errors.New("buffer underrun"))

	o, err := New(cfg, device)
	require.NoError(t, err)

	p, err := o.Calibrate(context.Background(), calibration.NewSimulatedListener(40))
	require.NoError(t, err)
	assert.Len(t, p.Bands, len(testCenters))
	assert.Len(t, p.Measurements, len(testCenters))
}

func TestCalibrateIncompleteWithoutRetries(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retries = 0
	device := audio.NewMemoryDevice(nil)
	device.FailWrite(0, errors.New("buffer underrun"))

	o, err := New(cfg, device)
	require.NoError(t, err)

	_, err = o.Calibrate(context.Background(), calibration.NewSimulatedListener(40))
	require.ErrorIs(t, err, models.ErrIncompleteCalibration)
	var incomplete *models.IncompleteCalibrationError
	require.ErrorAs(t, err, &incomplete)
	require.Len(t, incomplete.Missing, 1)
	assert.Equal(t, 250.0, incomplete.Missing[0].CenterHz)
	assert.NoFileExists(t, cfg.ProfilePath)
}

func TestCalibrateDeviceUnavailable(t *testing.T) {
	device := audio.NewMemoryDevice(nil)
	device.FailOpen(errors.New("no output device"))

	o, err := New(testConfig(t), device)
	require.NoError(t, err)

	_, err = o.Calibrate(context.Background(), calibration.NewSimulatedListener(40))
	assert.ErrorIs(t, err, models.ErrDevice)
}

func TestCalibrateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := New(testConfig(t), audio.NewMemoryDevice(nil))
	require.NoError(t, err)
	_, err = o.Calibrate(ctx, calibration.NewSimulatedListener(40))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalibrateBacksUpProfile(t *testing.T) {
	store := new(MockProfileStorage)
	store.On("UploadFile", mock.Anything, mock.MatchedBy(func(key string) bool {
		return len(key) > len("profiles/")
	}), mock.Anything, storage.ProfileContentType).Return(nil).Once()

	o, err := New(testConfig(t), audio.NewMemoryDevice(nil), WithStorage(store))
	require.NoError(t, err)
	p, err := o.Calibrate(context.Background(), calibration.NewSimulatedListener(40))
	require.NoError(t, err)

	store.AssertCalled(t, "UploadFile", mock.Anything, storage.ProfileKey(p.ID), mock.Anything, storage.ProfileContentType)
}

func TestEndToEndToneAtBandCenterGetsBandGain(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, audio.NewMemoryDevice(nil))
	require.NoError(t, err)
	p, err := o.Calibrate(context.Background(), calibration.NewSimulatedListener(40))
	require.NoError(t, err)

	frames := 40
	input := sine(1000, cfg.Levels.Amplitude(40), frames*testFrame)
	device := audio.NewMemoryDevice(input)
	runner, err := New(cfg, device)
	require.NoError(t, err)

	diag, err := runner.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, uint64(frames), diag.FramesProcessed)
	assert.Zero(t, diag.FramesDropped)
	assert.Zero(t, diag.SafetyLimited)

	output := device.WrittenSamples()
	require.Len(t, output, len(input))
	gain := 20 * math.Log10(rms(output[10*testFrame:30*testFrame]) / rms(input[10*testFrame:30*testFrame]))
	assert.InDelta(t, p.Bands[2].GainDB, gain, 0.5)
}

func TestRunSilenceStaysSilent(t *testing.T) {
	cfg := testConfig(t)
	p := flatProfile(t, 30)
	device := audio.NewMemoryDevice(make([]float64, 10*testFrame))
	o, err := New(cfg, device)
	require.NoError(t, err)

	_, err = o.Run(context.Background(), p)
	require.NoError(t, err)
	for _, s := range device.WrittenSamples() {
		require.Equal(t, 0.0, s)
	}
}

func TestRunOutputAlignedWithInput(t *testing.T) {
	cfg := testConfig(t)
	frames := 6
	input := sine(440, 0.05, frames*testFrame)
	device := audio.NewMemoryDevice(input)
	o, err := New(cfg, device)
	require.NoError(t, err)

	diag, err := o.Run(context.Background(), flatProfile(t, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(frames), diag.FramesProcessed)

	written := device.Written()
	require.Len(t, written, frames)
	for i, f := range written {
		assert.Equal(t, uint64(i), f.Sequence)
		assert.Equal(t, time.Duration(i*testFrame)*time.Second/testRate, f.Timestamp)
	}
	output := device.WrittenSamples()
	require.Len(t, output, len(input))
	for i := range input {
		require.InDelta(t, input[i], output[i], 1e-9, "sample %d", i)
	}
}

// shortFrameDevice truncates the frame with sequence bad.
type shortFrameDevice struct {
	*audio.MemoryDevice
	bad uint64
}

type shortFrameSource struct {
	audio.Source
	bad uint64
}

func (d shortFrameDevice) OpenSource(ctx context.Context, f audio.Format) (audio.Source, error) {
	src, err := d.MemoryDevice.OpenSource(ctx, f)
	if err != nil {
		return nil, err
	}
	return shortFrameSource{Source: src, bad: d.bad}, nil
}

func (s shortFrameSource) ReadFrame(ctx context.Context) (models.AudioFrame, error) {
	frame, err := s.Source.ReadFrame(ctx)
	if err == nil && frame.Sequence == s.bad {
		frame.Samples = frame.Samples[:len(frame.Samples)/2]
	}
	return frame, err
}

func TestRunCountsRejectedFrames(t *testing.T) {
	mem := audio.NewMemoryDevice(sine(500, 0.01, 8*testFrame))
	o, err := New(testConfig(t), shortFrameDevice{MemoryDevice: mem, bad: 2})
	require.NoError(t, err)

	diag, err := o.Run(context.Background(), flatProfile(t, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), diag.Rejected)
	assert.Zero(t, diag.ReadErrors)
	assert.Equal(t, uint64(7), diag.FramesProcessed)
	assert.Len(t, mem.Written(), 7)
}

func TestRunCountsAndSkipsFrameErrors(t *testing.T) {
	cfg := testConfig(t)
	device := audio.NewMemoryDevice(sine(500, 0.01, 12*testFrame))
	device.FailRead(3, audio.ErrDropped)
	device.FailWrite(2, audio.ErrDropped)

	o, err := New(cfg, device)
	require.NoError(t, err)
	diag, err := o.Run(context.Background(), flatProfile(t, 0))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), diag.ReadErrors)
	assert.Equal(t, uint64(1), diag.WriteErrors)
	assert.Equal(t, uint64(11), diag.FramesProcessed)
	assert.Len(t, device.Written(), 10)
}

func TestRunDeviceUnavailable(t *testing.T) {
	device := audio.NewMemoryDevice(nil)
	device.FailOpen(errors.New("unplugged"))

	o, err := New(testConfig(t), device)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), flatProfile(t, 0))
	assert.ErrorIs(t, err, models.ErrDevice)
}

func TestRunRejectsInvalidProfile(t *testing.T) {
	o, err := New(testConfig(t), audio.NewMemoryDevice(nil))
	require.NoError(t, err)

	p := flatProfile(t, 0)
	p.Bands[0].GainDB = math.NaN()
	_, err = o.Run(context.Background(), p)
	assert.ErrorIs(t, err, models.ErrInvalidProfile)
}

func TestRunGivesUpOnDeadInput(t *testing.T) {
	device := audio.NewMemoryDevice(make([]float64, (maxConsecutiveErrors+5)*testFrame))
	for i := 0; i < maxConsecutiveErrors; i++ {
		device.FailRead(uint64(i), audio.ErrDropped)
	}

	o, err := New(testConfig(t), device)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), flatProfile(t, 0))
	assert.ErrorIs(t, err, models.ErrDevice)
}

// slowDevice wraps a MemoryDevice with a sink that takes delay per write.
type slowDevice struct {
	*audio.MemoryDevice
	delay time.Duration
}

type slowSink struct {
	audio.Sink
	delay time.Duration
}

func (d slowDevice) OpenSink(ctx context.Context, f audio.Format) (audio.Sink, error) {
	sink, err := d.MemoryDevice.OpenSink(ctx, f)
	if err != nil {
		return nil, err
	}
	return slowSink{Sink: sink, delay: d.delay}, nil
}

func (s slowSink) WriteFrame(ctx context.Context, frame models.AudioFrame) error {
	time.Sleep(s.delay)
	return s.Sink.WriteFrame(ctx, frame)
}

func TestRunDropsOldestWhenBehind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lossless = false
	cfg.QueueDepth = 1

	total := 50
	dev := slowDevice{MemoryDevice: audio.NewMemoryDevice(sine(500, 0.01, total*testFrame)), delay: 2 * time.Millisecond}
	o, err := New(cfg, dev)
	require.NoError(t, err)

	diag, err := o.Run(context.Background(), flatProfile(t, 0))
	require.NoError(t, err)
	assert.Positive(t, diag.FramesDropped)
	assert.Equal(t, uint64(total), diag.FramesProcessed+diag.FramesDropped)

	written := dev.Written()
	for i := 1; i < len(written); i++ {
		assert.Greater(t, written[i].Sequence, written[i-1].Sequence)
	}
}

// endlessDevice produces silent frames until its context is cancelled.
type endlessDevice struct {
	*audio.MemoryDevice
}

type endlessSource struct {
	format audio.Format
	seq    uint64
}

func (d endlessDevice) OpenSource(_ context.Context, f audio.Format) (audio.Source, error) {
	return &endlessSource{format: f}, nil
}

func (s *endlessSource) ReadFrame(ctx context.Context) (models.AudioFrame, error) {
	select {
	case <-ctx.Done():
		return models.AudioFrame{}, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	s.seq++
	return models.AudioFrame{Samples: make([]float64, s.format.FrameSize), SampleRate: s.format.SampleRate, Sequence: s.seq}, nil
}

func (s *endlessSource) Close() error { return nil }

func TestLiveSessionInstallAndDiagnostics(t *testing.T) {
	cfg := testConfig(t)
	cfg.DiagnosticsInterval = 5 * time.Millisecond
	o, err := New(cfg, endlessDevice{MemoryDevice: audio.NewMemoryDevice(nil)})
	require.NoError(t, err)

	_, ok := o.Diagnostics()
	assert.False(t, ok)
	assert.Nil(t, o.Profile())
	assert.ErrorIs(t, o.Install(flatProfile(t, 3)), models.ErrNotFound)

	initial := flatProfile(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, runErr = o.Run(ctx, initial)
	}()

	require.Eventually(t, func() bool {
		d, ok := o.Diagnostics()
		return ok && d.FramesProcessed > 3
	}, 2*time.Second, 5*time.Millisecond)

	next := flatProfile(t, 6)
	next.ID = "louder"
	require.NoError(t, o.Install(next))
	assert.Equal(t, "louder", o.Profile().ID)

	bad := flatProfile(t, 6)
	bad.Version = 0
	assert.ErrorIs(t, o.Install(bad), models.ErrInvalidProfile)

	d, ok := o.Diagnostics()
	require.True(t, ok)
	assert.Equal(t, uint64(1), d.ProfileSwaps)

	cancel()
	wg.Wait()
	assert.NoError(t, runErr)
	_, ok = o.Diagnostics()
	assert.False(t, ok)
}

func TestLoadProfile(t *testing.T) {
	cfg := testConfig(t)
	p := flatProfile(t, 5)
	require.NoError(t, profile.Save(cfg.ProfilePath, p))
	data, err := profile.Marshal(p)
	require.NoError(t, err)

	o, err := New(cfg, audio.NewMemoryDevice(nil))
	require.NoError(t, err)
	got, err := o.LoadProfile(context.Background(), cfg.ProfilePath)
	require.NoError(t, err)
	assert.Equal(t, p.Bands, got.Bands)

	_, err = o.LoadProfile(context.Background(), "s3://profiles/x.json")
	assert.Error(t, err)

	store := new(MockProfileStorage)
	store.On("DownloadFile", mock.Anything, "profiles/x.json").Return(data, nil)
	store.On("DownloadFile", mock.Anything, "profiles/missing.json").Return(nil, models.ErrNotFound)
	o, err = New(cfg, audio.NewMemoryDevice(nil), WithStorage(store))
	require.NoError(t, err)

	got, err = o.LoadProfile(context.Background(), "s3://profiles/x.json")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	_, err = o.LoadProfile(context.Background(), "s3://profiles/missing.json")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, err, models.ErrInvalidProfile)

	_, err = o.LoadProfile(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, err, models.ErrInvalidProfile)
	assert.Contains(t, err.Error(), "calibrate first")
}

func TestProfileURL(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, audio.NewMemoryDevice(nil))
	require.NoError(t, err)
	_, err = o.ProfileURL(context.Background(), "s3://profiles/x.json")
	assert.Error(t, err)

	store := new(MockProfileStorage)
	store.On("GenerateDownloadURL", mock.Anything, "profiles/x.json").Return("https://bucket.example/profiles/x.json?sig=1", nil)
	o, err = New(cfg, audio.NewMemoryDevice(nil), WithStorage(store))
	require.NoError(t, err)

	url, err := o.ProfileURL(context.Background(), "s3://profiles/x.json")
	require.NoError(t, err)
	assert.Contains(t, url, "profiles/x.json")

	_, err = o.ProfileURL(context.Background(), cfg.ProfilePath)
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
	store.AssertExpectations(t)
}

func TestDeleteProfile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, profile.Save(cfg.ProfilePath, flatProfile(t, 5)))

	store := new(MockProfileStorage)
	store.On("DeleteFile", mock.Anything, "profiles/x.json").Return(nil).Once()
	o, err := New(cfg, audio.NewMemoryDevice(nil), WithStorage(store))
	require.NoError(t, err)

	require.NoError(t, o.DeleteProfile(context.Background(), cfg.ProfilePath))
	assert.NoFileExists(t, cfg.ProfilePath)
	assert.ErrorIs(t, o.DeleteProfile(context.Background(), cfg.ProfilePath), models.ErrNotFound)

	require.NoError(t, o.DeleteProfile(context.Background(), "s3://profiles/x.json"))
	store.AssertExpectations(t)
}

func TestNewValidates(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, models.ErrInvalidParameter)

	cfg.Format.Channels = 2
	_, err = New(cfg, audio.NewMemoryDevice(nil))
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func flatProfile(t *testing.T, gainDB float64) *models.AudioProfile {
	t.Helper()
	bands, err := profile.Partition(testCenters)
	require.NoError(t, err)
	p := &models.AudioProfile{
		ID:      "flat",
		Version: models.ProfileVersion,
		Rule:    profile.RuleHalfGain,
		Safety:  models.DefaultSafetyRange,
	}
	for _, b := range bands {
		p.Bands = append(p.Bands, models.BandGain{Band: b, GainDB: gainDB})
	}
	return p
}
