// Package level turns smoothed accelerometer state into calibrated roll/pitch
// and an edge-triggered "level" signal, published at a fixed cadence.
package level

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"tiltlevel/internal/filter"
	"tiltlevel/internal/report"
	"tiltlevel/internal/settings"
)

// DefaultInterval is the publish cadence (30 Hz).
const DefaultInterval = time.Second / 30

// Feedback receives the one-shot "became level" request. Implementations
// must not block.
type Feedback interface {
	Trigger()
}

type Config struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Snapshot is what a tick publishes.
type Snapshot struct {
	RollDeg           float64   `json:"roll_deg"`
	PitchDeg          float64   `json:"pitch_deg"`
	IsLevel           bool      `json:"is_level"`
	FeedbackRequested bool      `json:"feedback_requested"`
	Seq               uint64    `json:"seq"`
	At                time.Time `json:"at"`
}

// MaxTiltDeg is the larger of |roll| and |pitch|.
func (s Snapshot) MaxTiltDeg() float64 {
	return math.Max(math.Abs(s.RollDeg), math.Abs(s.PitchDeg))
}

// Label is the compact status-bar rendering of MaxTiltDeg.
func (s Snapshot) Label() string {
	return fmt.Sprintf("%.1f°", s.MaxTiltDeg())
}

type Stats struct {
	Reports        uint64 `json:"reports"`
	DroppedReports uint64 `json:"dropped_reports"`
	Ticks          uint64 `json:"ticks"`
	SkippedTicks   uint64 `json:"skipped_ticks"`
	Feedback       uint64 `json:"feedback"`
}

type Service struct {
	cfg      Config
	log      *slog.Logger
	clk      clock.Clock
	filter   *filter.Filter
	store    settings.Store
	feedback Feedback
	out      *Observable

	visible atomic.Bool

	reports   atomic.Uint64
	dropped   atomic.Uint64
	ticks     atomic.Uint64
	skipped   atomic.Uint64
	feedbacks atomic.Uint64

	// mu guards everything the tick path and the calibration operations share.
	mu      sync.Mutex
	set     settings.Settings
	tracker Tracker
	lastRaw Orientation
	haveRaw bool
	snap    Snapshot
	seq     uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New builds a service whose settings are loaded from store (nil store means
// defaults, nothing persisted). fb may be nil.
func New(cfg Config, store settings.Store, fb Feedback) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		log:      cfg.Logger,
		clk:      cfg.Clock,
		filter:   filter.New(),
		store:    store,
		feedback: fb,
		out:      NewObservable(),
		set:      settings.Load(store, cfg.Logger),
		stopCh:   make(chan struct{}),
	}
}

func (s *Service) Observable() *Observable { return s.out }

// Filter exposes the smoothing filter, mainly for inspection.
func (s *Service) Filter() *filter.Filter { return s.filter }

// HandleReport decodes one raw report and folds it into the filter. Short
// reports are dropped silently.
func (s *Service) HandleReport(buf []byte) {
	sample, ok := report.Decode(buf)
	if !ok {
		s.dropped.Add(1)
		return
	}
	s.filter.Update(sample)
	s.reports.Add(1)
}

// Consume feeds reports into the filter until the channel closes or ctx is
// done. Report delivery is never gated.
func (s *Service) Consume(ctx context.Context, reports <-chan []byte) {
	if reports == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case buf, ok := <-reports:
			if !ok {
				s.log.Info("report stream ended", "reports", s.reports.Load(), "dropped", s.dropped.Load())
				return
			}
			s.HandleReport(buf)
		}
	}
}

// Start launches the fixed-rate tick loop.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("level: service is nil")
	}
	if ctx == nil {
		return errors.New("level: ctx is nil")
	}
	started := false
	s.startOnce.Do(func() {
		started = true
		s.wg.Add(1)
		go s.run(ctx)
	})
	if !started {
		return errors.New("level: already started")
	}
	s.log.Info("level scheduler started", "interval", s.cfg.Interval)
	return nil
}

// Close stops future ticks and waits for an in-flight tick to finish.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.out.CloseAll()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	t := s.clk.Ticker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-t.C:
			s.Tick()
		}
	}
}

// Tick runs one compute-and-publish cycle. It returns ok=false when the
// power gate skipped the tick: background updates disabled and nobody is
// looking. A skipped tick leaves the previous level state untouched.
func (s *Service) Tick() (Snapshot, bool) {
	s.mu.Lock()
	if !s.set.BackgroundUpdateEnabled && !s.visible.Load() {
		s.mu.Unlock()
		s.skipped.Add(1)
		return Snapshot{}, false
	}

	raw := Compute(s.filter.State())
	o := raw.Sub(s.set.OffsetRoll, s.set.OffsetPitch)
	isLevel := o.IsLevel()
	became := s.tracker.Update(isLevel)
	s.lastRaw = raw
	s.haveRaw = true
	s.seq++
	snap := Snapshot{
		RollDeg:           o.RollDeg,
		PitchDeg:          o.PitchDeg,
		IsLevel:           isLevel,
		FeedbackRequested: became && s.set.HapticEnabled,
		Seq:               s.seq,
		At:                s.clk.Now().UTC(),
	}
	s.snap = snap
	s.mu.Unlock()

	s.ticks.Add(1)
	if snap.FeedbackRequested {
		s.feedbacks.Add(1)
		if s.feedback != nil {
			s.feedback.Trigger()
		}
	}
	s.out.Publish(snap)
	return snap, true
}

// Snapshot returns the last published values. Before the first tick this is
// the zero snapshot (0°, 0°, not level).
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Calibrate folds the currently displayed angles into the offsets so the
// present pose reads 0°/0°. The displayed angle is taken from the last
// computed raw angles under the current offsets, so calling it twice
// without a pose change is a no-op. Before any tick it changes nothing.
// The in-memory offsets change even when persisting fails.
func (s *Service) Calibrate() (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveRaw {
		displayed := s.lastRaw.Sub(s.set.OffsetRoll, s.set.OffsetPitch)
		s.set.OffsetRoll = displayed.RollDeg + s.set.OffsetRoll
		s.set.OffsetPitch = displayed.PitchDeg + s.set.OffsetPitch
	}
	s.log.Info("calibrated", "offset_roll", s.set.OffsetRoll, "offset_pitch", s.set.OffsetPitch)
	return s.set, settings.SaveOffsets(s.store, s.set.OffsetRoll, s.set.OffsetPitch)
}

// ResetCalibration reverts to raw sensor-relative readings.
func (s *Service) ResetCalibration() (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set.OffsetRoll = 0
	s.set.OffsetPitch = 0
	s.log.Info("calibration reset")
	return s.set, settings.SaveOffsets(s.store, 0, 0)
}

func (s *Service) SetHapticEnabled(v bool) (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set.HapticEnabled = v
	return s.set, settings.SaveBool(s.store, settings.KeyHapticEnabled, v)
}

func (s *Service) SetBackgroundUpdateEnabled(v bool) (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set.BackgroundUpdateEnabled = v
	return s.set, settings.SaveBool(s.store, settings.KeyBackgroundUpdate, v)
}

func (s *Service) Settings() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// ReloadSettings re-reads the store, e.g. after an external edit.
func (s *Service) ReloadSettings() settings.Settings {
	next := settings.Load(s.store, s.log)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = next
	s.log.Info("settings reloaded", "offset_roll", next.OffsetRoll, "offset_pitch", next.OffsetPitch,
		"haptic", next.HapticEnabled, "background", next.BackgroundUpdateEnabled)
	return next
}

// SetVisible is called by the presentation layer when it is shown or hidden.
func (s *Service) SetVisible(v bool) {
	if old := s.visible.Swap(v); old != v {
		s.log.Debug("visibility changed", "visible", v)
	}
}

func (s *Service) Visible() bool { return s.visible.Load() }

func (s *Service) Stats() Stats {
	return Stats{
		Reports:        s.reports.Load(),
		DroppedReports: s.dropped.Load(),
		Ticks:          s.ticks.Load(),
		SkippedTicks:   s.skipped.Load(),
		Feedback:       s.feedbacks.Load(),
	}
}
