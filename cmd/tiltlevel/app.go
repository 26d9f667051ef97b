package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"tiltlevel/internal/config"
	"tiltlevel/internal/device"
	"tiltlevel/internal/haptic"
	"tiltlevel/internal/level"
	"tiltlevel/internal/settings"
	"tiltlevel/internal/udp"
	"tiltlevel/internal/web"
)

// app owns every long-running piece of the process.
type app struct {
	log *slog.Logger
	cfg config.Config

	store   settings.Store
	haptic  *haptic.Actuator
	svc     *level.Service
	session *device.Session
	sink    *udp.Sink
	web     *web.Server

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// newApp brings the pipeline up. Only a scheduler start failure is fatal;
// every other component degrades to a logged warning and the pipeline keeps
// running without it.
func newApp(parent context.Context, cfg config.Config, logger *slog.Logger, logs *web.LogBuffer) (*app, error) {
	ctx, cancel := context.WithCancel(parent)
	a := &app{log: logger, cfg: cfg, cancel: cancel}

	store, err := settings.Open(cfg.Settings.Backend, cfg.Settings.Path)
	if err != nil {
		logger.Warn("settings store unavailable, using in-memory defaults", "backend", cfg.Settings.Backend, "path", cfg.Settings.Path, "error", err)
		store = settings.NewMemoryStore()
	}
	a.store = store

	act, err := haptic.New(haptic.Config{
		Backend: cfg.Haptic.Backend,
		Pulse:   cfg.Haptic.Pulse,
		GPIO:    haptic.GPIOConfig{Chip: cfg.Haptic.GPIO.Chip, Line: cfg.Haptic.GPIO.Line},
		Logger:  logger,
	})
	if err != nil {
		logger.Warn("haptic init failed, falling back to log backend", "backend", cfg.Haptic.Backend, "error", err)
		act, _ = haptic.New(haptic.Config{Backend: haptic.BackendLog, Pulse: cfg.Haptic.Pulse, Logger: logger})
	}
	a.haptic = act

	a.svc = level.New(level.Config{Interval: cfg.Scheduler.Interval, Logger: logger}, store, act)
	if err := a.svc.Start(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if fs, ok := store.(*settings.FileStore); ok && cfg.Settings.Watch {
		if err := fs.Watch(ctx, func() { a.svc.ReloadSettings() }); err != nil {
			logger.Warn("settings watch failed", "path", fs.Path(), "error", err)
		}
	}

	a.openDevice(ctx)

	if cfg.Wake.Enable {
		a.goRun(func() {
			n := device.Wake(ctx, device.WakeConfig{
				SysRoot:    cfg.Wake.SysRoot,
				Driver:     cfg.Wake.Driver,
				IntervalUS: cfg.Wake.IntervalUS,
			}, logger)
			logger.Debug("sensor wake finished", "devices", n)
		})
	}

	if cfg.UDP.Enable {
		sink, err := udp.NewSink(cfg.UDP.Dest, logger)
		if err != nil {
			logger.Warn("udp sink init failed", "dest", cfg.UDP.Dest, "error", err)
		} else {
			a.sink = sink
			a.goRun(func() { sink.Run(ctx, a.svc.Observable()) })
		}
	}

	if cfg.Web.Enabled() {
		a.web = web.NewServer(a.svc, web.Options{Logger: logger, Logs: logs, Extra: a.statusExtra})
		a.goRun(func() {
			if err := web.Serve(ctx, cfg.Web.Listen, a.web); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("web server stopped", "addr", cfg.Web.Listen, "error", err)
			}
		})
	}

	return a, nil
}

// openDevice starts the report session. A failure leaves the pipeline inert:
// the scheduler keeps publishing the resting orientation.
func (a *app) openDevice(ctx context.Context) {
	d := a.cfg.Device
	devCfg := device.Config{
		Backend: d.Backend,
		HIDRaw: device.HIDRawConfig{
			Path:      d.HIDRaw.Path,
			SysRoot:   d.HIDRaw.SysRoot,
			UsagePage: d.HIDRaw.UsagePage,
			Usage:     d.HIDRaw.Usage,
		},
		Serial:      device.SerialConfig{Port: d.Serial.Port, Baud: d.Serial.Baud, ReportLen: d.Serial.ReportLen},
		Replay:      device.ReplayConfig{Path: d.Replay.Path, Speed: d.Replay.Speed, Loop: d.Replay.Loop},
		ReadTimeout: d.ReadTimeout,
	}
	if a.cfg.Record.Enable {
		devCfg.RecordPath = a.cfg.Record.Path
	}

	sess, err := device.Open(ctx, devCfg, a.log)
	if err != nil {
		a.log.Error("device open failed, running without sensor data", "backend", d.Backend, "error", err)
		return
	}
	a.session = sess
	a.goRun(func() { a.svc.Consume(ctx, sess.Reports()) })
}

func (a *app) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *app) statusExtra() map[string]any {
	out := map[string]any{
		"device_backend": a.cfg.Device.Backend,
		"device_open":    a.session != nil,
		"haptic":         a.haptic.Stats(),
		"settings":       a.cfg.Settings.Backend,
	}
	if a.session != nil {
		out["reports_delivered"] = a.session.Delivered()
		if err := a.session.Err(); err != nil {
			out["device_error"] = err.Error()
		}
	}
	if a.sink != nil {
		out["udp_sent"] = a.sink.Sent()
		out["udp_failed"] = a.sink.Failed()
	}
	return out
}

// Close tears down in reverse start order and reports every failure.
func (a *app) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		var err error
		if a.session != nil {
			err = multierr.Append(err, a.session.Close())
		}
		if a.svc != nil {
			a.svc.Close()
		}
		a.wg.Wait()
		if a.sink != nil {
			err = multierr.Append(err, a.sink.Close())
		}
		if a.haptic != nil {
			err = multierr.Append(err, a.haptic.Close())
		}
		if a.store != nil {
			err = multierr.Append(err, a.store.Close())
		}
		a.closeErr = err
	})
	return a.closeErr
}
