// Package ahrs contains a small complementary-filter attitude estimator.
// It integrates the rate gyros, pulls pitch and roll toward the
// accelerometer gravity vector and yaw toward the compass heading. The
// flight core treats the output as an opaque, continuously refreshed
// signal; only the fixed-point scales of the snapshot are contractual.
package ahrs

import "sync"

// Filter gains, expressed as right-shifts per update.
const (
	// angleIntegrationShift converts a zero-centered gyro count into the
	// 16.16 angle increment applied per update.
	angleIntegrationShift = 8
	// accelAngleShift converts a raw lateral accelerometer count into a
	// small-angle 16.16 estimate of the corresponding tilt.
	accelAngleShift = 2
	// tiltBlendShift controls how fast the integrated angle is pulled
	// toward the accelerometer estimate (1/32 per update).
	tiltBlendShift = 5
	// headingBlendShift controls how fast yaw is pulled toward the
	// compass heading (1/8 per update).
	headingBlendShift = 3
)

// Sample is one joint reading of the inertial and magnetic sensors.
type Sample struct {
	// Gyro holds zero-centered rate counts for pitch, roll and yaw.
	Gyro [3]int16
	// Accel holds raw accelerometer counts; 1g at rest reads near 0x4050
	// on the vertical axis.
	Accel [3]int16
	// Heading is the compass heading, half-turn = 32768.
	Heading int16
}

// Attitude is a torn-free copy of the estimator state. Pitch and roll
// are 16.16 fixed-point angles; the integer part is the unit consumed by
// the control mixer. Yaw is a plain 16-bit angle that wraps once per
// turn. Rates are in the estimator's per-update units.
type Attitude struct {
	Pitch     int32
	Roll      int32
	PitchRate int16
	RollRate  int16
	Yaw       int16
	YawRate   int16
}

// Estimator maintains the attitude state. Update runs in the sensor
// context, Snapshot in the control context; the mutex stands in for the
// interrupt-suppressed copy on the original hardware.
type Estimator struct {
	mu sync.Mutex

	pitch     int32
	roll      int32
	pitchRate int16
	rollRate  int16
	yaw       int16
	yawRate   int16

	primed bool
}

func New() *Estimator {
	return &Estimator{}
}

// Prime zeroes the integrators and adopts the current heading as the yaw
// reference. Called once by the boot sequence before updates begin.
func (e *Estimator) Prime(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Start at the accelerometer estimate so the blend has nothing to
	// correct on a level bench.
	e.pitch = int32(s.Accel[0]) << accelAngleShift
	e.roll = int32(s.Accel[1]) << accelAngleShift
	e.pitchRate = 0
	e.rollRate = 0
	e.yaw = s.Heading
	e.yawRate = 0
	e.primed = true
}

// Primed reports whether Prime has been called.
func (e *Estimator) Primed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.primed
}

// Update folds one sensor sample into the attitude state.
func (e *Estimator) Update(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.primed {
		return
	}

	e.pitchRate = s.Gyro[0]
	e.rollRate = s.Gyro[1]
	e.yawRate = s.Gyro[2]

	// Integrate the gyros, then lean on the accelerometer so the
	// integrators cannot walk away.
	e.pitch += int32(s.Gyro[0]) << angleIntegrationShift
	e.roll += int32(s.Gyro[1]) << angleIntegrationShift
	pitchAcc := int32(s.Accel[0]) << accelAngleShift
	rollAcc := int32(s.Accel[1]) << accelAngleShift
	e.pitch += (pitchAcc - e.pitch) >> tiltBlendShift
	e.roll += (rollAcc - e.roll) >> tiltBlendShift

	// Yaw integrates the rate gyro and is pulled toward the compass
	// heading. The int16 difference wraps, so the correction always
	// takes the short way around.
	e.yaw += s.Gyro[2]
	e.yaw += (s.Heading - e.yaw) >> headingBlendShift
}

// Snapshot returns a torn-free copy of the attitude state.
func (e *Estimator) Snapshot() Attitude {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Attitude{
		Pitch:     e.pitch,
		Roll:      e.roll,
		PitchRate: e.pitchRate,
		RollRate:  e.rollRate,
		Yaw:       e.yaw,
		YawRate:   e.yawRate,
	}
}
