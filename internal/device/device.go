// Package device owns the connection to the accelerometer and turns it into
// a stream of raw input reports.
//
// A Session runs one backend in its own goroutine. Reports are copied out of
// the backend's read buffer before they are delivered, and the channel
// returned by Reports is closed when the backend stops for any reason.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"tiltlevel/internal/replay"
)

const (
	BackendHIDRaw = "hidraw"
	BackendSerial = "serial"
	BackendReplay = "replay"
)

const (
	DefaultUsagePage   = 0xFF00
	DefaultUsage       = 3
	DefaultBaud        = 115200
	DefaultReportLen   = 22
	DefaultReadTimeout = 100 * time.Millisecond
)

type HIDRawConfig struct {
	// Path pins a node such as /dev/hidraw3. Empty means match by usage.
	Path      string
	SysRoot   string
	UsagePage uint32
	Usage     uint32
}

type SerialConfig struct {
	Port      string
	Baud      int
	ReportLen int
}

type ReplayConfig struct {
	Path  string
	Speed float64
	Loop  bool
}

type Config struct {
	Backend string
	HIDRaw  HIDRawConfig
	Serial  SerialConfig
	Replay  ReplayConfig

	// RecordPath, when set, receives every delivered report as a replay log.
	RecordPath string

	// ReadTimeout bounds how long a blocked read can delay shutdown.
	ReadTimeout time.Duration
}

// backend produces reports until ctx ends or the source fails. emit returns
// false once the session is shutting down.
type backend interface {
	run(ctx context.Context, emit func([]byte) bool) error
	close() error
	describe() []any
}

type Session struct {
	log *slog.Logger
	be  backend
	rec *replay.Writer

	out    chan []byte
	cancel context.CancelFunc
	done   chan struct{}

	delivered atomic.Uint64
	recErrs   atomic.Uint64

	mu     sync.Mutex
	runErr error

	closeOnce sync.Once
	closeErr  error
}

// Open connects the configured backend and starts delivering reports. The
// session ends when ctx is done, when Close is called, or when the source
// fails.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	if ctx == nil {
		return nil, errors.New("device: ctx is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	var (
		be  backend
		err error
	)
	switch cfg.Backend {
	case BackendHIDRaw, "":
		be, err = openHIDRaw(cfg.HIDRaw, cfg.ReadTimeout)
	case BackendSerial:
		be, err = openSerialBackend(cfg.Serial, cfg.ReadTimeout, logger)
	case BackendReplay:
		be, err = openReplay(cfg.Replay)
	default:
		err = fmt.Errorf("device: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	var rec *replay.Writer
	if cfg.RecordPath != "" {
		rec, err = replay.CreateWriter(cfg.RecordPath)
		if err != nil {
			_ = be.close()
			return nil, fmt.Errorf("device: create record log: %w", err)
		}
		logger.Info("recording reports", "path", cfg.RecordPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		log:    logger,
		be:     be,
		rec:    rec,
		out:    make(chan []byte, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	logger.Info("device session opened", be.describe()...)
	go s.run(runCtx)
	return s, nil
}

// Reports is closed when the session ends.
func (s *Session) Reports() <-chan []byte { return s.out }

// Done is closed once the backend goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the backend stopped, nil for a clean shutdown.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

func (s *Session) Delivered() uint64 { return s.delivered.Load() }

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)

	emit := func(buf []byte) bool {
		cp := append([]byte(nil), buf...)
		select {
		case <-ctx.Done():
			return false
		case s.out <- cp:
		}
		s.delivered.Add(1)
		if s.rec != nil {
			if err := s.rec.WriteReport(time.Now(), cp); err != nil && s.recErrs.Add(1) == 1 {
				s.log.Warn("record write failed", "error", err)
			}
		}
		return true
	}

	err := s.be.run(ctx, emit)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	s.mu.Lock()
	s.runErr = err
	s.mu.Unlock()
	if err != nil {
		s.log.Error("device session ended", "error", err, "delivered", s.delivered.Load())
		return
	}
	s.log.Info("device session ended", "delivered", s.delivered.Load())
}

// Close stops the backend, waits for its goroutine and releases the device
// and the record log. Safe to call more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err := s.be.close()
		if s.rec != nil {
			err = multierr.Append(err, s.rec.Close())
		}
		s.closeErr = err
	})
	return s.closeErr
}
