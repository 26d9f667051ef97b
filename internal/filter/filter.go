package filter

import (
	"sync"

	"tiltlevel/internal/report"
)

// Alpha is the weight given to each new sample.
const Alpha = 0.2

// State is the smoothed acceleration per axis.
type State struct {
	X float64
	Y float64
	Z float64
}

// Resting is the face-up gravity vector the filter starts from.
var Resting = State{X: 0, Y: 0, Z: 1}

// Filter is a first-order IIR low-pass filter over accelerometer samples.
// Update is called from the report path; State may be read concurrently
// from any goroutine and always returns a consistent triple.
type Filter struct {
	mu sync.Mutex
	s  State
	n  uint64
}

func New() *Filter {
	return &Filter{s: Resting}
}

func (f *Filter) Update(sample report.Sample) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s.X = sample.X*Alpha + f.s.X*(1-Alpha)
	f.s.Y = sample.Y*Alpha + f.s.Y*(1-Alpha)
	f.s.Z = sample.Z*Alpha + f.s.Z*(1-Alpha)
	f.n++
	return f.s
}

func (f *Filter) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

// Updates reports how many samples have been folded in since New or Reset.
func (f *Filter) Updates() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s = Resting
	f.n = 0
}
