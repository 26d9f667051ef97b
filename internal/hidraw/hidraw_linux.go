//go:build linux

package hidraw

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Minimal Linux hidraw implementation backed by /dev/hidraw*.
//
// Every read(2) on a hidraw node returns exactly one input report. Reads are
// preceded by poll(2) with a timeout so the caller can notice cancellation
// without closing the fd under a blocked reader.

// Device is an opened hidraw node.
//
// Read and Close may be called from different goroutines; Read itself is not
// safe for concurrent use.
type Device struct {
	mu   sync.Mutex
	fd   int
	path string
}

func Open(path string) (*Device, error) {
	path = filepath.Clean(path)
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("hidraw: open %s: %w", path, err)
	}
	return &Device{fd: fd, path: path}, nil
}

func (d *Device) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// Read waits up to timeout for one report and copies it into p. A timeout
// returns (0, nil).
func (d *Device) Read(p []byte, timeout time.Duration) (int, error) {
	if d == nil {
		return 0, errors.New("hidraw device is nil")
	}
	d.mu.Lock()
	fd := d.fd
	d.mu.Unlock()
	if fd < 0 {
		return 0, ErrClosed
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("hidraw: poll %s: %w", d.path, err)
	}
	if n == 0 {
		return 0, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, fmt.Errorf("hidraw: device error/hangup: %s", d.path)
	}

	n, err = unix.Read(fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("hidraw: read %s: %w", d.path, err)
	}
	return n, nil
}

func (d *Device) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
