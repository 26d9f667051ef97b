// Package haptic delivers the short "became level" pulse.
//
// Trigger never blocks: requests go into a single-slot queue drained by one
// worker, so a burst of triggers while a pulse is in flight collapses into at
// most one further pulse.
package haptic

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	BackendLog  = "log"
	BackendGPIO = "gpio"
	BackendNone = "none"

	DefaultPulse = 30 * time.Millisecond
)

type GPIOConfig struct {
	// Chip is a /dev/gpiochipN path. Empty means search every chip.
	Chip string
	// Line is the line name as the kernel exposes it, e.g. "GPIO17".
	Line string
}

type Config struct {
	Backend string
	Pulse   time.Duration
	GPIO    GPIOConfig
	Logger  *slog.Logger
}

// driver performs one blocking pulse.
type driver interface {
	Pulse(d time.Duration) error
	Close() error
}

type Actuator struct {
	log   *slog.Logger
	pulse time.Duration
	drv   driver
	name  string

	queue  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once
	closeErr error

	requested atomic.Uint64
	delivered atomic.Uint64
	coalesced atomic.Uint64
	failed    atomic.Uint64
}

// New opens the configured backend and starts the worker.
func New(cfg Config) (*Actuator, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pulse <= 0 {
		cfg.Pulse = DefaultPulse
	}

	var (
		drv driver
		err error
	)
	switch cfg.Backend {
	case BackendLog, "":
		cfg.Backend = BackendLog
		drv = logDriver{log: cfg.Logger}
	case BackendGPIO:
		drv, err = openGPIOFn(cfg.GPIO)
	case BackendNone:
		drv = noneDriver{}
	default:
		err = fmt.Errorf("haptic: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return newActuator(cfg.Backend, drv, cfg.Pulse, cfg.Logger), nil
}

func newActuator(name string, drv driver, pulse time.Duration, logger *slog.Logger) *Actuator {
	a := &Actuator{
		log:    logger,
		pulse:  pulse,
		drv:    drv,
		name:   name,
		queue:  make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	logger.Info("haptic actuator ready", "backend", name, "pulse", pulse)
	return a
}

// Trigger requests one pulse and returns immediately.
func (a *Actuator) Trigger() {
	if a == nil {
		return
	}
	a.requested.Add(1)
	select {
	case <-a.stopCh:
		return
	default:
	}
	select {
	case a.queue <- struct{}{}:
	default:
		a.coalesced.Add(1)
	}
}

func (a *Actuator) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		case <-a.queue:
			if err := a.drv.Pulse(a.pulse); err != nil {
				if a.failed.Add(1) == 1 {
					a.log.Warn("haptic pulse failed", "backend", a.name, "error", err)
				}
				continue
			}
			a.delivered.Add(1)
		}
	}
}

type Stats struct {
	Requested uint64 `json:"requested"`
	Delivered uint64 `json:"delivered"`
	Coalesced uint64 `json:"coalesced"`
	Failed    uint64 `json:"failed"`
}

func (a *Actuator) Stats() Stats {
	return Stats{
		Requested: a.requested.Load(),
		Delivered: a.delivered.Load(),
		Coalesced: a.coalesced.Load(),
		Failed:    a.failed.Load(),
	}
}

func (a *Actuator) Backend() string { return a.name }

// Close stops the worker after any in-flight pulse and releases the driver.
func (a *Actuator) Close() error {
	if a == nil {
		return nil
	}
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.wg.Wait()
		a.closeErr = a.drv.Close()
	})
	return a.closeErr
}

type logDriver struct {
	log *slog.Logger
}

func (d logDriver) Pulse(dur time.Duration) error {
	d.log.Info("haptic pulse", "duration", dur)
	return nil
}

func (logDriver) Close() error { return nil }

type noneDriver struct{}

func (noneDriver) Pulse(time.Duration) error { return nil }
func (noneDriver) Close() error              { return nil }

var errGPIOUnsupported = errors.New("haptic: gpio unsupported on this platform")
