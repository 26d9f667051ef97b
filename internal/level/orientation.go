package level

import (
	"math"

	"tiltlevel/internal/filter"
)

// Threshold is the largest absolute angle, in degrees, still considered level.
const Threshold = 0.5

// Orientation is a roll/pitch pair in degrees.
type Orientation struct {
	RollDeg  float64
	PitchDeg float64
}

// Compute derives roll and pitch from a smoothed gravity vector, treating Z
// as the dominant axis. Accuracy degrades far from the face-up pose.
func Compute(s filter.State) Orientation {
	return Orientation{
		RollDeg:  math.Atan2(s.X, math.Sqrt(s.Y*s.Y+s.Z*s.Z)) * 180 / math.Pi,
		PitchDeg: math.Atan2(s.Y, math.Sqrt(s.X*s.X+s.Z*s.Z)) * 180 / math.Pi,
	}
}

// Sub applies calibration offsets.
func (o Orientation) Sub(offRoll, offPitch float64) Orientation {
	return Orientation{RollDeg: o.RollDeg - offRoll, PitchDeg: o.PitchDeg - offPitch}
}

// IsLevel uses strict inequality: exactly Threshold is not level.
func (o Orientation) IsLevel() bool {
	return math.Abs(o.RollDeg) < Threshold && math.Abs(o.PitchDeg) < Threshold
}

// Tracker remembers the previous level state to detect the not-level to
// level edge. The zero value starts not level.
type Tracker struct {
	level bool
}

// Update records the new state and reports whether it is a fresh
// not-level to level transition.
func (t *Tracker) Update(isLevel bool) (becameLevel bool) {
	becameLevel = isLevel && !t.level
	t.level = isLevel
	return becameLevel
}

func (t *Tracker) Level() bool { return t.level }
