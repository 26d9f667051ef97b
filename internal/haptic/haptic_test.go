package haptic

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateDriver blocks each pulse until released, so tests control when the
// worker is busy.
type gateDriver struct {
	mu      sync.Mutex
	started chan time.Duration
	release chan struct{}
	err     error
	closed  bool
}

func newGateDriver() *gateDriver {
	return &gateDriver{started: make(chan time.Duration, 16), release: make(chan struct{})}
}

func (g *gateDriver) Pulse(d time.Duration) error {
	g.started <- d
	<-g.release
	return g.err
}

func (g *gateDriver) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func TestTrigger_CoalescesWhileBusy(t *testing.T) {
	drv := newGateDriver()
	a := newActuator("test", drv, 5*time.Millisecond, slog.Default())
	defer a.Close()

	a.Trigger()
	assert.Equal(t, 5*time.Millisecond, <-drv.started)

	// Worker is mid-pulse: one request fills the slot, the rest coalesce.
	for i := 0; i < 5; i++ {
		a.Trigger()
	}
	drv.release <- struct{}{}
	<-drv.started
	drv.release <- struct{}{}

	require.Eventually(t, func() bool { return a.Stats().Delivered == 2 }, time.Second, time.Millisecond)
	st := a.Stats()
	assert.Equal(t, uint64(6), st.Requested)
	assert.Equal(t, uint64(4), st.Coalesced)
	assert.Zero(t, st.Failed)
	assert.Empty(t, drv.started)
}

func TestTrigger_NeverBlocks(t *testing.T) {
	drv := newGateDriver()
	a := newActuator("test", drv, time.Millisecond, slog.Default())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			a.Trigger()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger blocked")
	}

	<-drv.started
	close(drv.release)
	require.NoError(t, a.Close())
	assert.True(t, drv.closed)

	// After Close triggers are accepted and ignored.
	a.Trigger()
}

func TestPulseFailuresAreCounted(t *testing.T) {
	drv := newGateDriver()
	drv.err = errors.New("line busy")
	close(drv.release)
	a := newActuator("test", drv, time.Millisecond, slog.Default())
	defer a.Close()

	a.Trigger()
	require.Eventually(t, func() bool { return a.Stats().Failed == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, a.Stats().Delivered)
}

func TestNew_Backends(t *testing.T) {
	a, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, BackendLog, a.Backend())
	a.Trigger()
	require.Eventually(t, func() bool { return a.Stats().Delivered == 1 }, time.Second, time.Millisecond)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	a, err = New(Config{Backend: BackendNone})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = New(Config{Backend: "buzzer"})
	assert.Error(t, err)
}

func TestNew_GPIOUsesOpener(t *testing.T) {
	orig := openGPIOFn
	t.Cleanup(func() { openGPIOFn = orig })

	var gotCfg GPIOConfig
	drv := newGateDriver()
	close(drv.release)
	openGPIOFn = func(cfg GPIOConfig) (driver, error) {
		gotCfg = cfg
		return drv, nil
	}
	a, err := New(Config{Backend: BackendGPIO, GPIO: GPIOConfig{Chip: "/dev/gpiochip0", Line: "GPIO17"}})
	require.NoError(t, err)
	assert.Equal(t, "GPIO17", gotCfg.Line)
	a.Trigger()
	assert.Equal(t, DefaultPulse, <-drv.started)
	require.NoError(t, a.Close())

	openGPIOFn = func(GPIOConfig) (driver, error) { return nil, errors.New("no chip") }
	_, err = New(Config{Backend: BackendGPIO})
	assert.Error(t, err)
}

func TestNilActuatorIsSafe(t *testing.T) {
	var a *Actuator
	a.Trigger()
	assert.NoError(t, a.Close())
}
