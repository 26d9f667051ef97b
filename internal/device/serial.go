package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

// serialPort is the subset of serial.Port the backend needs.
type serialPort interface {
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

var openSerialPort = func(path string, baud int) (serialPort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(path, mode)
}

type serialBackend struct {
	port      serialPort
	path      string
	baud      int
	reportLen int
	log       *slog.Logger
}

func openSerialBackend(cfg SerialConfig, timeout time.Duration, logger *slog.Logger) (*serialBackend, error) {
	if cfg.Port == "" {
		return nil, errors.New("device: serial port is required")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReportLen <= 0 {
		cfg.ReportLen = DefaultReportLen
	}
	port, err := openSerialPort(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, fmt.Errorf("device: open serial %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("device: serial read timeout: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &serialBackend{port: port, path: cfg.Port, baud: cfg.Baud, reportLen: cfg.ReportLen, log: logger}, nil
}

// run reassembles fixed-length reports. Frames carry no delimiter, so the
// stream is assumed to start on a frame boundary; a read that times out with
// a partial frame buffered discards it, which realigns on the next frame
// after any pause of at least one read timeout. A timed-out read returns
// (0, nil), which is also where cancellation is noticed.
func (b *serialBackend) run(ctx context.Context, emit func([]byte) bool) error {
	buf := make([]byte, b.reportLen)
	filled := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := b.port.Read(buf[filled:])
		if err != nil {
			return fmt.Errorf("device: serial read %s: %w", b.path, err)
		}
		if n == 0 {
			if filled > 0 {
				b.log.Debug("serial partial frame dropped", "port", b.path, "bytes", filled)
				filled = 0
			}
			continue
		}
		filled += n
		if filled < len(buf) {
			continue
		}
		filled = 0
		if !emit(buf) {
			return ctx.Err()
		}
	}
}

func (b *serialBackend) close() error { return b.port.Close() }

func (b *serialBackend) describe() []any {
	return []any{"backend", BackendSerial, "port", b.path, "baud", b.baud, "report_len", b.reportLen}
}
