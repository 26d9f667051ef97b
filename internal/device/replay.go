package device

import (
	"context"
	"errors"
	"fmt"

	"tiltlevel/internal/replay"
)

type replayBackend struct {
	path string
	recs []replay.Record
	opts replay.PlayOptions
}

func openReplay(cfg ReplayConfig) (*replayBackend, error) {
	if cfg.Path == "" {
		return nil, errors.New("device: replay path is required")
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	recs, err := replay.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("device: load replay %s: %w", cfg.Path, err)
	}
	return &replayBackend{
		path: cfg.Path,
		recs: recs,
		opts: replay.PlayOptions{Speed: cfg.Speed, Loop: cfg.Loop},
	}, nil
}

func (b *replayBackend) run(ctx context.Context, emit func([]byte) bool) error {
	return replay.Play(ctx, b.recs, b.opts, func(r []byte) error {
		if !emit(r) {
			return ctx.Err()
		}
		return nil
	})
}

func (b *replayBackend) close() error { return nil }

func (b *replayBackend) describe() []any {
	return []any{"backend", BackendReplay, "path", b.path, "records", len(b.recs),
		"speed", b.opts.Speed, "loop", b.opts.Loop}
}
