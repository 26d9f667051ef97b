//go:build linux

package haptic

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// openGPIO requests the named line as an output held low.
func openGPIO(cfg GPIOConfig) (driver, error) {
	if cfg.Line == "" {
		return nil, fmt.Errorf("haptic: gpio line name is required")
	}

	var chips []string
	if cfg.Chip != "" {
		chips = []string{cfg.Chip}
	} else {
		entries, _ := os.ReadDir("/dev")
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "gpiochip") {
				chips = append(chips, filepath.Join("/dev", e.Name()))
			}
		}
	}

	for _, chipPath := range chips {
		chip, err := gpiocdev.NewChip(chipPath, gpiocdev.WithConsumer("tiltlevel-haptic"))
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(cfg.Line)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpioDriver{chip: chip, line: line}, nil
	}
	return nil, fmt.Errorf("haptic: gpio line %q not found (or busy)", cfg.Line)
}

var openGPIOFn = openGPIO

type gpioDriver struct {
	mu   sync.Mutex
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpioDriver) Pulse(d time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return fmt.Errorf("haptic: gpio line closed")
	}
	if err := g.line.SetValue(1); err != nil {
		return err
	}
	time.Sleep(d)
	return g.line.SetValue(0)
}

func (g *gpioDriver) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
