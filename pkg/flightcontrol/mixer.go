package flightcontrol

import (
	"errors"

	"github.com/openquad/quadpilot/pkg/hal"
)

// Control-law constants. These encode the tuned response of the airframe;
// every shift and threshold is load-bearing.
const (
	// stickNeutral is the mid-travel value of an 8-bit stick channel.
	stickNeutral = 128

	// angleShift extracts the integer angle from the 16.16 pitch/roll
	// estimate.
	angleShift = 16
	// tiltRateShift scales the pitch/roll rate into the damping term.
	tiltRateShift = 2
	// yawRateShift scales the yaw rate into the yaw damping term.
	yawRateShift = 1

	// tiltStickShift scales a stick deflection into an angle target.
	tiltStickShift = 5
	// yawStickShift scales the yaw stick into the per-tick setpoint
	// increment.
	yawStickShift = 2
	// throttleShift scales the 8-bit throttle into the motor command
	// domain.
	throttleShift = 7

	// The easing law: errors inside easingThreshold are attenuated by
	// easingShift, errors beyond it are reduced by easingBias. The two
	// regions meet without a jump at the threshold.
	easingThreshold = 0x400
	easingShift     = 2
	easingBias      = 0x300

	// yawErrorClamp bounds the heading-hold yaw correction.
	yawErrorClamp = 0x800

	// MotorCommandMax is the upper clamp of a motor command; the lower
	// clamp is zero.
	MotorCommandMax = 32000
)

// Actuators is the slice of the hardware surface the mixer drives.
type Actuators interface {
	ActuatorSet(motor int, value uint16) error
}

// Mixer turns one attitude/receiver snapshot pair into four motor
// commands using a fixed X layout:
//
//	(A)_   .    _(B)
//	   '#_ .  _#'
//	     '#__#'
//	- - - _##_ - - - - pitch axis
//	    _#'. '#_
//	  _#'  .   '#_
//	(C)    .     (D)
//	       |
//	       '--- roll axis
//
// The yaw setpoint integrator lives here and persists across ticks.
type Mixer struct {
	actuators Actuators

	// yawSetpoint accumulates stick-derived yaw deltas while
	// heading-hold is active and snaps back to the current yaw estimate
	// otherwise, so it cannot wind up in the background.
	yawSetpoint int16
}

func NewMixer(actuators Actuators) *Mixer {
	return &Mixer{actuators: actuators}
}

// YawSetpoint returns the current integrated yaw target.
func (m *Mixer) YawSetpoint() int16 {
	return m.yawSetpoint
}

// Update computes and latches the four motor commands for one tick. The
// returned vector is the clamped command set, also handed to the
// actuators.
func (m *Mixer) Update(att hal.AttitudeSnapshot, ch hal.ChannelSnapshot, flags ModeFlags) ([4]uint16, error) {
	// Current state per axis: angle term plus rate damping term.
	curPitch := int16(att.Pitch>>angleShift) + att.PitchRate>>tiltRateShift
	curRoll := int16(att.Roll>>angleShift) + att.RollRate>>tiltRateShift
	curYaw := att.Yaw + att.YawRate<<yawRateShift

	yawStick := ch.YawStick
	rollStick := ch.RollStick
	pitchStick := ch.PitchStick
	if flags.Has(ModePanTilt) {
		// Cyclic stick drives the pan/tilt mechanism instead; attitude
		// control sees neutral input.
		yawStick = stickNeutral
		rollStick = stickNeutral
		pitchStick = stickNeutral
	}

	destPitch := int16(pitchStick)<<tiltStickShift - stickNeutral<<tiltStickShift
	destRoll := int16(rollStick)<<tiltStickShift - stickNeutral<<tiltStickShift
	m.yawSetpoint += int16(yawStick)<<yawStickShift - stickNeutral<<yawStickShift
	destYaw := m.yawSetpoint

	baseThrottle := int16(ch.Throttle) << throttleShift

	// Stick target folds into the state estimate; the negation turns the
	// sum into a correction term.
	destPitch = -(curPitch + destPitch)
	destRoll = -(curRoll + destRoll)
	destYaw = curYaw - destYaw

	destPitch = ease(destPitch)
	destRoll = ease(destRoll)

	if flags.Has(ModeHeadingHold) {
		destYaw = clamp16(destYaw, -yawErrorClamp, yawErrorClamp)
	} else {
		// Direct yaw-rate control: recompute the term from the stick and
		// pin the setpoint to the current heading so it cannot drift.
		destYaw = stickNeutral<<tiltStickShift - int16(yawStick)<<tiltStickShift
		m.yawSetpoint = curYaw
	}

	a := clamp32(int32(baseThrottle)+int32(destPitch)+int32(destRoll)+int32(destYaw), 0, MotorCommandMax)
	b := clamp32(int32(baseThrottle)-int32(destPitch)+int32(destRoll)-int32(destYaw), 0, MotorCommandMax)
	c := clamp32(int32(baseThrottle)+int32(destPitch)-int32(destRoll)-int32(destYaw), 0, MotorCommandMax)
	d := clamp32(int32(baseThrottle)-int32(destPitch)-int32(destRoll)+int32(destYaw), 0, MotorCommandMax)

	commands := [4]uint16{uint16(a), uint16(b), uint16(c), uint16(d)}
	var errs []error
	for motor, value := range commands {
		if err := m.actuators.ActuatorSet(motor, value); err != nil {
			errs = append(errs, err)
		}
	}
	return commands, errors.Join(errs...)
}

// ease applies the piecewise shaping law: a soft deadband near zero, a
// fixed bias beyond it.
func ease(v int16) int16 {
	if v < easingThreshold && v > -easingThreshold {
		return v >> easingShift
	}
	if v > 0 {
		return v - easingBias
	}
	return v + easingBias
}

func clamp16(v, min, max int16) int16 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clamp32(v, min, max int32) int32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
