package device

import (
	"context"
	"fmt"
	"time"

	"tiltlevel/internal/hidraw"
)

// hidrawMaxReport covers any report the kernel will hand back in one read.
const hidrawMaxReport = 4096

type hidrawBackend struct {
	dev     *hidraw.Device
	timeout time.Duration
	page    uint32
	usage   uint32
}

func openHIDRaw(cfg HIDRawConfig, timeout time.Duration) (*hidrawBackend, error) {
	if cfg.UsagePage == 0 {
		cfg.UsagePage = DefaultUsagePage
	}
	if cfg.Usage == 0 {
		cfg.Usage = DefaultUsage
	}
	path := cfg.Path
	if path == "" {
		p, err := hidraw.Find(cfg.SysRoot, cfg.UsagePage, cfg.Usage)
		if err != nil {
			return nil, fmt.Errorf("device: %w", err)
		}
		path = p
	}
	dev, err := hidraw.Open(path)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	return &hidrawBackend{dev: dev, timeout: timeout, page: cfg.UsagePage, usage: cfg.Usage}, nil
}

func (b *hidrawBackend) run(ctx context.Context, emit func([]byte) bool) error {
	buf := make([]byte, hidrawMaxReport)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := b.dev.Read(buf, b.timeout)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if !emit(buf[:n]) {
			return ctx.Err()
		}
	}
}

func (b *hidrawBackend) close() error { return b.dev.Close() }

func (b *hidrawBackend) describe() []any {
	return []any{"backend", BackendHIDRaw, "path", b.dev.Path(),
		"usage_page", fmt.Sprintf("0x%04X", b.page), "usage", b.usage}
}
