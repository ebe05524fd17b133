package hal

import (
	"github.com/openquad/quadpilot/pkg/ahrs"
)

// AnalogChannel indexes the raw analog inputs sampled by the sensor
// gateway.
type AnalogChannel int

const (
	// Rate gyro axes, one per attitude axis. Readings are in the 10-bit
	// converter domain; the zero-rate level sits near 0x17d.
	AnalogGyroPitch AnalogChannel = iota
	AnalogGyroRoll
	AnalogGyroYaw
	// Battery voltage behind a ~1:5 resistor divider.
	AnalogBattery
	// Die temperature sensor.
	AnalogTemperature

	AnalogChannelCount
)

// ChannelSnapshot is one consistent view of the receiver outputs. The
// receiver decoder is the only writer (interrupt context); readers obtain
// the whole struct in one call so multi-field reads cannot tear.
type ChannelSnapshot struct {
	// Stick channels, 8-bit magnitude, 0x80 neutral for the cyclic and
	// yaw sticks, 0 = idle for the throttle.
	Throttle   uint8
	YawStick   uint8
	RollStick  uint8
	PitchStick uint8

	// GyroSwitch is the multi-position mode switch, reduced to on/off.
	GyroSwitch bool
	// ModeSelector is the continuous selector potentiometer.
	ModeSelector uint8

	// NoSignal counts down with every decoded frame; zero means a live
	// signal. It is consulted only by the boot gate.
	NoSignal uint8
}

// GyroZeroRateLevel is the converter reading of a rate gyro at rest.
// Readings are doubled before use, placing the zero-rate level near 0x2fb
// in the doubled domain.
const GyroZeroRateLevel = 0x17d

// YawHalfTurn is the yaw angle scale: a half-turn of heading equals this
// many yaw units, so the 16-bit yaw angle wraps exactly once per turn.
const YawHalfTurn = 32768

// AttitudeSnapshot is the estimator's attitude copy as the hardware
// surface hands it to the control core. Pitch and roll are 16.16
// fixed-point angles; yaw is a plain 16-bit angle scaled by YawHalfTurn.
type AttitudeSnapshot = ahrs.Attitude

// MotorCount is the number of drive motors on the airframe.
const MotorCount = 4
