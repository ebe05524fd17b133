//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openquad/quadpilot/pkg/ahrs"
	"github.com/openquad/quadpilot/pkg/log"
)

// Simulated sensor levels for an aircraft at rest on a level bench. The
// values are chosen so every boot sanity check passes.
const (
	simBatteryRaw     = 0x2bc  // ~11.3V behind the divider
	simTemperatureRaw = 0x130  // ~32 degrees
	simAccelRestZ     = 0x4050 // 1g vertical
	simMagFieldX      = 400    // in-range field magnitude, calibration zeroed

	simAttitudePeriod = 10 * time.Millisecond
	simReceiverPeriod = 20 * time.Millisecond
)

// SimulatedHardware is a software rig implementing the full hardware
// surface. The attitude and receiver update goroutines stand in for the
// interrupt contexts of the real board and run at their own cadences.
type SimulatedHardware struct {
	mu sync.Mutex

	analog    [AnalogChannelCount]uint16
	compass   [64]byte
	magCalib  [3]int16
	receiver  ChannelSnapshot
	actuators [MotorCount]uint16

	estimator *ahrs.Estimator
	started   bool
	halted    bool
}

var _ FlightHardware = &SimulatedHardware{}

func NewSimulatedHardware(opts FlightHardwareOpts) *SimulatedHardware {
	h := &SimulatedHardware{
		estimator: ahrs.New(),
		magCalib:  opts.MagCalibration,
	}
	h.analog[AnalogGyroPitch] = GyroZeroRateLevel
	h.analog[AnalogGyroRoll] = GyroZeroRateLevel
	h.analog[AnalogGyroYaw] = GyroZeroRateLevel
	h.analog[AnalogBattery] = simBatteryRaw
	h.analog[AnalogTemperature] = simTemperatureRaw

	// Compass/accelerometer register file: identity byte, magnetic field
	// axes at 10..15, accelerometer axes at 16..21, big-endian.
	h.compass[0] = 0x02
	h.compass[10] = byte(simMagFieldX >> 8)
	h.compass[11] = byte(simMagFieldX & 0xff)
	h.compass[20] = byte(simAccelRestZ >> 8)
	h.compass[21] = byte(simAccelRestZ & 0xff)

	// Receiver idle: throttle down, sticks neutral, live signal.
	h.receiver = ChannelSnapshot{
		Throttle:   0,
		YawStick:   0x80,
		RollStick:  0x80,
		PitchStick: 0x80,
	}
	return h
}

// Run refreshes the simulated attitude and receiver state until the
// context is canceled. A halt stops the updates but Run keeps blocking,
// matching a board whose interrupt sources are dead.
func (h *SimulatedHardware) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).Named("hal-sim")
	logger.Info("Starting simulated hardware")

	attitudeTicker := time.NewTicker(simAttitudePeriod)
	defer attitudeTicker.Stop()
	receiverTicker := time.NewTicker(simReceiverPeriod)
	defer receiverTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping simulated hardware")
			return ctx.Err()
		case <-attitudeTicker.C:
			h.stepAttitude()
		case <-receiverTicker.C:
			h.stepReceiver()
		}
	}
}

func (h *SimulatedHardware) stepAttitude() {
	h.mu.Lock()
	if h.halted {
		h.mu.Unlock()
		return
	}
	sample := ahrs.Sample{
		Gyro: [3]int16{
			int16(2*h.analog[AnalogGyroPitch]) - 2*GyroZeroRateLevel,
			int16(2*h.analog[AnalogGyroRoll]) - 2*GyroZeroRateLevel,
			int16(2*h.analog[AnalogGyroYaw]) - 2*GyroZeroRateLevel,
		},
		Accel: [3]int16{
			h.compassAxis(16),
			h.compassAxis(18),
			h.compassAxis(20),
		},
		Heading: 0,
	}
	h.mu.Unlock()
	h.estimator.Update(sample)
}

func (h *SimulatedHardware) stepReceiver() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return
	}
	// A decoded frame refreshes the no-signal countdown.
	if h.receiver.NoSignal > 0 {
		h.receiver.NoSignal--
	}
	receiverNoSignal.Set(float64(h.receiver.NoSignal))
}

func (h *SimulatedHardware) compassAxis(offset int) int16 {
	return int16(uint16(h.compass[offset])<<8 | uint16(h.compass[offset+1]))
}

func (h *SimulatedHardware) Close() error {
	return nil
}

func (h *SimulatedHardware) ConfigRegisters() (uint16, uint16) {
	return 0x0080, 0x0000
}

func (h *SimulatedHardware) AnalogRead(ch AnalogChannel) (uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return 0, ErrHalted
	}
	if ch < 0 || ch >= AnalogChannelCount {
		return 0, fmt.Errorf("analog channel %d out of range", ch)
	}
	return h.analog[ch], nil
}

func (h *SimulatedHardware) CompassRead(offset uint8, buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return ErrHalted
	}
	if int(offset)+len(buf) > len(h.compass) {
		return fmt.Errorf("compass read out of range: offset %d len %d", offset, len(buf))
	}
	copy(buf, h.compass[offset:int(offset)+len(buf)])
	return nil
}

func (h *SimulatedHardware) MagCalibration() [3]int16 {
	return h.magCalib
}

func (h *SimulatedHardware) Receiver() ChannelSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.receiver
}

// SetReceiver overrides the simulated receiver state. Test hook.
func (h *SimulatedHardware) SetReceiver(ch ChannelSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.receiver = ch
}

func (h *SimulatedHardware) Attitude() AttitudeSnapshot {
	return h.estimator.Snapshot()
}

func (h *SimulatedHardware) InitAttitude() error {
	h.mu.Lock()
	if h.halted {
		h.mu.Unlock()
		return ErrHalted
	}
	sample := ahrs.Sample{
		Accel: [3]int16{h.compassAxis(16), h.compassAxis(18), h.compassAxis(20)},
	}
	h.mu.Unlock()
	h.estimator.Prime(sample)
	return nil
}

func (h *SimulatedHardware) ActuatorSet(motor int, value uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return ErrHalted
	}
	if motor < 0 || motor >= MotorCount {
		return fmt.Errorf("motor %d out of range", motor)
	}
	h.actuators[motor] = value
	observeMotorCommand(motor, value)
	return nil
}

func (h *SimulatedHardware) ActuatorsStart() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return ErrHalted
	}
	h.started = true
	return nil
}

// ActuatorsStarted reports whether drive signal generation was enabled.
// Test hook.
func (h *SimulatedHardware) ActuatorsStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// Actuators returns the latched motor commands. Test hook.
func (h *SimulatedHardware) Actuators() [MotorCount]uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.actuators
}

func (h *SimulatedHardware) Halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.halted = true
	hardwareHalted.Set(1)
}

func (h *SimulatedHardware) Halted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}
