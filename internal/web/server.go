// Package web is the presentation boundary: a small JSON API to read the
// published orientation and drive calibration and settings, plus a
// WebSocket stream of every published snapshot.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tiltlevel/internal/level"
	"tiltlevel/internal/settings"
)

// Controller is the slice of the level service the API drives.
// Implementations must be safe for concurrent use.
type Controller interface {
	Snapshot() level.Snapshot
	Stats() level.Stats
	Observable() *level.Observable

	Calibrate() (settings.Settings, error)
	ResetCalibration() (settings.Settings, error)
	Settings() settings.Settings
	SetHapticEnabled(v bool) (settings.Settings, error)
	SetBackgroundUpdateEnabled(v bool) (settings.Settings, error)
	SetVisible(v bool)
}

type Options struct {
	Logger *slog.Logger
	Logs   *LogBuffer
	// Extra is merged into /api/status, e.g. device and haptic counters.
	Extra func() map[string]any
	Hub   HubConfig
}

type Server struct {
	ctrl  Controller
	opts  Options
	log   *slog.Logger
	hub   *Hub
	vis   *Visibility
	start time.Time
}

func NewServer(ctrl Controller, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	vis := NewVisibility(ctrl.SetVisible)
	return &Server{
		ctrl:  ctrl,
		opts:  opts,
		log:   opts.Logger,
		hub:   NewHub(opts.Logger, opts.Hub, vis.SetClients),
		vis:   vis,
		start: time.Now().UTC(),
	}
}

func (s *Server) Hub() *Hub               { return s.hub }
func (s *Server) Visibility() *Visibility { return s.vis }

// Run drives the WebSocket hub and the snapshot broadcaster until ctx ends.
func (s *Server) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.hub.Run(ctx)
	}()
	RunBroadcaster(ctx, s.hub, s.ctrl.Observable(), s.log)
	<-done
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
	})

	mux.HandleFunc("/api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		set, err := s.ctrl.Calibrate()
		writeJSON(w, http.StatusOK, newSettingsResponse(set, err))
	})

	mux.HandleFunc("/api/calibration/reset", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		set, err := s.ctrl.ResetCalibration()
		writeJSON(w, http.StatusOK, newSettingsResponse(set, err))
	})

	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/visibility", s.handleVisibility)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/ws", s.handleWS)

	if s.opts.Logs != nil {
		mux.Handle("/api/logs", s.opts.Logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := s.ctrl.Snapshot()
		state := "not level"
		if snap.IsLevel {
			state = "level"
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>tiltlevel</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>%s</h1>", snap.Label())
		_, _ = fmt.Fprintf(w, "<pre>roll=%.2f\npitch=%.2f\nstate=%s\nseq=%d</pre>", snap.RollDeg, snap.PitchDeg, state, snap.Seq)
		_, _ = fmt.Fprintf(w, "<p>Live data: <a href=\"/api/orientation\">/api/orientation</a>, stream at /api/ws.</p>")
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Serve runs the HTTP server and the WebSocket hub until ctx is done.
func Serve(ctx context.Context, listenAddr string, s *Server) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		s.Run(runCtx)
	}()
	defer func() { <-hubDone }()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("web listening", "addr", listenAddr)

	select {
	case <-ctx.Done():
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		cancel()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
