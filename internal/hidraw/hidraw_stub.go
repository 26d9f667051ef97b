//go:build !linux

package hidraw

import (
	"fmt"
	"time"
)

type Device struct{}

func Open(path string) (*Device, error) {
	return nil, fmt.Errorf("hidraw: unsupported OS (need linux)")
}

func (d *Device) Path() string { return "" }

func (d *Device) Read(p []byte, timeout time.Duration) (int, error) {
	return 0, fmt.Errorf("hidraw: unsupported OS")
}

func (d *Device) Close() error { return nil }
