package hal

import "time"

// PPM frame timing: pulses of 1..2ms per channel, a gap longer than
// ppmSyncGap starts a new frame.
const (
	ppmSyncGap       = 2500 * time.Microsecond
	ppmPulseMin      = 1000 // microseconds
	ppmPulseRange    = 1000
	ppmFrameChannels = 8
)

// PPM channel assignment on the receiver.
const (
	ppmChThrottle = iota
	ppmChYaw
	ppmChRoll
	ppmChPitch
	ppmChGyroSwitch
	ppmChSelector
)

// pulseToByte maps a 1000..2000us pulse onto the 8-bit channel domain.
func pulseToByte(us uint16) uint8 {
	if us <= ppmPulseMin {
		return 0
	}
	v := (uint32(us) - ppmPulseMin) * 255 / ppmPulseRange
	if v > 255 {
		v = 255
	}
	return uint8(v)
}
