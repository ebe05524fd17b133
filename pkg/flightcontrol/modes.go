// Package flightcontrol holds the per-tick flight core: the mode switch
// state machine and the control mixer. Everything here runs in the main
// loop context only and is deliberately free of logging and allocation.
package flightcontrol

import "github.com/openquad/quadpilot/pkg/hal"

// ModeFlags is the bit-set of operating modes toggled from the
// transmitter.
type ModeFlags uint8

const (
	// ModeArmed gates motor output.
	ModeArmed ModeFlags = 1 << iota
	// ModeHeadingHold holds yaw at an integrated setpoint instead of
	// driving it from the stick.
	ModeHeadingHold
	// ModePanTilt routes the cyclic stick to the pan/tilt mechanism and
	// neutralizes attitude stick input.
	ModePanTilt
)

// Has reports whether all bits in flag are set.
func (f ModeFlags) Has(flag ModeFlags) bool {
	return f&flag == flag
}

// Selector bucketing: the continuous selector potentiometer picks which
// mode bit a switch flip toggles.
const (
	selectorBias    = 36
	selectorDivisor = 49
)

// ModeSwitch tracks the mode flags against the transmitter's mode switch.
// Every flip of the switch toggles the mode currently pointed at by the
// selector potentiometer; all other mode bits are cleared on the same
// edge. The cross-mode clearing is inherited behavior, kept as-is.
type ModeSwitch struct {
	flags      ModeFlags
	prevSwitch bool
}

func NewModeSwitch() *ModeSwitch {
	return &ModeSwitch{}
}

// Update is invoked once per tick. An unchanged switch reading is a
// no-op; on an edge the selected mode bit is assigned the new switch
// state and every other bit is cleared.
func (m *ModeSwitch) Update(ch hal.ChannelSnapshot) {
	if ch.GyroSwitch == m.prevSwitch {
		return
	}
	m.prevSwitch = ch.GyroSwitch

	bucket := (uint16(ch.ModeSelector) + selectorBias) / selectorDivisor
	bit := ModeFlags(1) << bucket
	m.flags &= bit
	if ch.GyroSwitch {
		m.flags |= bit
	} else {
		m.flags &^= bit
	}
}

// Flags returns the current mode bit-set.
func (m *ModeSwitch) Flags() ModeFlags {
	return m.flags
}
