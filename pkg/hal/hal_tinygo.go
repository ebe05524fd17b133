//go:build tinygo

package hal

import (
	"context"
	"fmt"
	"machine"
	"math"
	"sync"
	"time"

	"tinygo.org/x/drivers/lis2mdl"
	"tinygo.org/x/drivers/lsm6ds3tr"

	"github.com/openquad/quadpilot/pkg/ahrs"
)

// Onboard pin assignment.
const (
	onboardReceiverPin = machine.D9
	onboardESC1        = machine.D10
	onboardESC2        = machine.D11
	onboardESC3        = machine.D12
	onboardESC4        = machine.D13

	onboardBatteryPin     = machine.A0
	onboardGyroPitchPin   = machine.A1
	onboardGyroRollPin    = machine.A2
	onboardGyroYawPin     = machine.A3
	onboardTemperaturePin = machine.A4
)

const (
	onboardAttitudePeriod = 10 * time.Millisecond

	// Driver readings mapped into the register domain the boot checks
	// expect: 1g of acceleration lands on 0x4050, a healthy field
	// magnitude lands in the hundreds.
	accelOneGRegister = 0x4050
	microGPerG        = 1_000_000
	magDriverDivisor  = 100
)

var onboardPwm = machine.TCC0

// onboard is the interrupt handler target; the MCU carries exactly one
// hardware instance.
var onboard *OnboardHardware

// OnboardHardware drives the MCU flight stack: analog gyro, battery and
// temperature channels via the ADC, accelerometer and compass over I2C,
// receiver PPM capture via a pin interrupt and ESC output via PWM. The
// I2C readings are refreshed into a register image so the boot checks
// and the estimator see the same register layout on every platform.
type OnboardHardware struct {
	opts FlightHardwareOpts

	mu        sync.Mutex
	receiver  ChannelSnapshot
	compass   [64]byte
	halted    bool
	started   bool
	estimator *ahrs.Estimator

	adc     [AnalogChannelCount]machine.ADC
	imu     lsm6ds3tr.Device
	mag     lis2mdl.Device
	pwmChan [MotorCount]uint8

	// PPM decode state, touched only from the pin interrupt.
	epoch    time.Time
	lastEdge int64
	frame    [ppmFrameChannels]uint16
	frameIdx int
}

var _ FlightHardware = &OnboardHardware{}

func NewOnboardHardware(opts FlightHardwareOpts) (*OnboardHardware, error) {
	h := &OnboardHardware{
		opts:      opts,
		estimator: ahrs.New(),
		epoch:     time.Now(),
	}
	h.receiver.NoSignal = 10
	h.compass[0] = 0x02

	machine.InitADC()
	pins := [AnalogChannelCount]machine.Pin{
		AnalogGyroPitch:   onboardGyroPitchPin,
		AnalogGyroRoll:    onboardGyroRollPin,
		AnalogGyroYaw:     onboardGyroYawPin,
		AnalogBattery:     onboardBatteryPin,
		AnalogTemperature: onboardTemperaturePin,
	}
	for ch, pin := range pins {
		pin.Configure(machine.PinConfig{Mode: machine.PinAnalog})
		h.adc[ch] = machine.ADC{Pin: pin}
		h.adc[ch].Configure(machine.ADCConfig{})
	}

	if err := machine.I2C0.Configure(machine.I2CConfig{Frequency: 400 * machine.KHz}); err != nil {
		return nil, fmt.Errorf("failed to configure i2c: %w", err)
	}
	h.imu = lsm6ds3tr.New(machine.I2C0)
	if err := h.imu.Configure(lsm6ds3tr.Configuration{}); err != nil {
		return nil, fmt.Errorf("failed to configure accelerometer: %w", err)
	}
	h.mag = lis2mdl.New(machine.I2C0)
	h.mag.Configure(lis2mdl.Configuration{})

	onboard = h
	onboardReceiverPin.Configure(machine.PinConfig{Mode: machine.PinInput})
	if err := onboardReceiverPin.SetInterrupt(machine.PinRising, handleReceiverEdge); err != nil {
		return nil, fmt.Errorf("failed to attach receiver interrupt: %w", err)
	}

	return h, nil
}

// handleReceiverEdge decodes the PPM stream edge by edge. It runs in
// interrupt context, the single writer of the receiver snapshot.
func handleReceiverEdge(machine.Pin) {
	h := onboard
	now := int64(time.Since(h.epoch))
	gap := now - h.lastEdge
	h.lastEdge = now

	if gap > int64(ppmSyncGap) {
		if h.frameIdx > ppmChSelector {
			h.latchFrame()
		}
		h.frameIdx = 0
		return
	}
	if h.frameIdx < ppmFrameChannels {
		h.frame[h.frameIdx] = uint16(gap / int64(time.Microsecond))
		h.frameIdx++
	}
}

func (h *OnboardHardware) latchFrame() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return
	}
	h.receiver.Throttle = pulseToByte(h.frame[ppmChThrottle])
	h.receiver.YawStick = pulseToByte(h.frame[ppmChYaw])
	h.receiver.RollStick = pulseToByte(h.frame[ppmChRoll])
	h.receiver.PitchStick = pulseToByte(h.frame[ppmChPitch])
	h.receiver.GyroSwitch = h.frame[ppmChGyroSwitch] > ppmPulseMin+ppmPulseRange/2
	h.receiver.ModeSelector = pulseToByte(h.frame[ppmChSelector])
	if h.receiver.NoSignal > 0 {
		h.receiver.NoSignal--
	}
}

// Run refreshes the register image and the attitude estimator until the
// context is canceled. A halt stops the updates but Run keeps blocking,
// matching the dead interrupt sources.
func (h *OnboardHardware) Run(ctx context.Context) error {
	ticker := time.NewTicker(onboardAttitudePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if h.Halted() {
				continue
			}
			if err := h.refreshCompass(); err != nil {
				continue
			}
			h.stepAttitude()
		}
	}
}

// refreshCompass reads the I2C sensors into the register image: field
// axes at 10..15, accelerometer axes at 16..21, big-endian.
func (h *OnboardHardware) refreshCompass() error {
	mx, my, mz := h.mag.ReadMagneticField()
	ax, ay, az, err := h.imu.ReadAcceleration()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, v := range [3]int32{mx, my, mz} {
		reg := int16(v / magDriverDivisor)
		h.compass[10+2*i] = byte(uint16(reg) >> 8)
		h.compass[11+2*i] = byte(uint16(reg))
	}
	for i, v := range [3]int32{ax, ay, az} {
		reg := int16(int64(v) * accelOneGRegister / microGPerG)
		h.compass[16+2*i] = byte(uint16(reg) >> 8)
		h.compass[17+2*i] = byte(uint16(reg))
	}
	return nil
}

func (h *OnboardHardware) stepAttitude() {
	var gyro [3]int16
	for axis := AnalogGyroPitch; axis <= AnalogGyroYaw; axis++ {
		raw, err := h.AnalogRead(axis)
		if err != nil {
			return
		}
		gyro[axis] = int16(2*raw) - 2*GyroZeroRateLevel
	}

	h.mu.Lock()
	calib := h.opts.MagCalibration
	var mag, accel [3]int16
	for i := 0; i < 3; i++ {
		mag[i] = h.compassAxis(10+2*i) - calib[i]
		accel[i] = h.compassAxis(16 + 2*i)
	}
	h.mu.Unlock()

	h.estimator.Update(ahrs.Sample{
		Gyro:    gyro,
		Accel:   accel,
		Heading: headingFromField(mag[0], mag[1]),
	})
}

// headingFromField maps the horizontal field components onto the 16-bit
// yaw domain (half-turn = 32768).
func headingFromField(x, y int16) int16 {
	return int16(math.Atan2(float64(y), float64(x)) / math.Pi * YawHalfTurn)
}

func (h *OnboardHardware) compassAxis(offset int) int16 {
	return int16(uint16(h.compass[offset])<<8 | uint16(h.compass[offset+1]))
}

func (h *OnboardHardware) Close() error {
	return nil
}

func (h *OnboardHardware) ConfigRegisters() (uint16, uint16) {
	return 0, 0
}

func (h *OnboardHardware) AnalogRead(ch AnalogChannel) (uint16, error) {
	if h.Halted() {
		return 0, ErrHalted
	}
	if ch < 0 || ch >= AnalogChannelCount {
		return 0, fmt.Errorf("analog channel %d out of range", ch)
	}
	// The converter reports 16-bit left-aligned samples; the checks work
	// in the 10-bit domain.
	return h.adc[ch].Get() >> 6, nil
}

func (h *OnboardHardware) CompassRead(offset uint8, buf []byte) error {
	if h.Halted() {
		return ErrHalted
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(offset)+len(buf) > len(h.compass) {
		return fmt.Errorf("compass read out of range: offset %d len %d", offset, len(buf))
	}
	copy(buf, h.compass[offset:int(offset)+len(buf)])
	return nil
}

func (h *OnboardHardware) MagCalibration() [3]int16 {
	return h.opts.MagCalibration
}

func (h *OnboardHardware) Receiver() ChannelSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.receiver
}

func (h *OnboardHardware) Attitude() AttitudeSnapshot {
	return h.estimator.Snapshot()
}

func (h *OnboardHardware) InitAttitude() error {
	if h.Halted() {
		return ErrHalted
	}
	if err := h.refreshCompass(); err != nil {
		return err
	}
	h.mu.Lock()
	accel := [3]int16{h.compassAxis(16), h.compassAxis(18), h.compassAxis(20)}
	h.mu.Unlock()
	h.estimator.Prime(ahrs.Sample{Accel: accel})
	return nil
}

func (h *OnboardHardware) ActuatorSet(motor int, value uint16) error {
	if h.Halted() {
		return ErrHalted
	}
	if motor < 0 || motor >= MotorCount {
		return fmt.Errorf("motor %d out of range", motor)
	}
	if value > 32000 {
		value = 32000
	}
	h.mu.Lock()
	started := h.started
	ch := h.pwmChan[motor]
	h.mu.Unlock()
	if started {
		onboardPwm.Set(ch, escDuty(value))
	}
	observeMotorCommand(motor, value)
	return nil
}

// escDuty maps a clamped motor command onto a 1..2ms pulse in PWM counts.
func escDuty(value uint16) uint32 {
	top := uint64(onboardPwm.Top())
	pulseNs := 1_000_000 + uint64(value)*1_000_000/32000
	return uint32(top * pulseNs / 20_000_000)
}

func (h *OnboardHardware) ActuatorsStart() error {
	if h.Halted() {
		return ErrHalted
	}
	if err := onboardPwm.Configure(machine.PWMConfig{Period: uint64(20 * time.Millisecond)}); err != nil {
		return fmt.Errorf("failed to configure esc pwm: %w", err)
	}
	pins := [MotorCount]machine.Pin{onboardESC1, onboardESC2, onboardESC3, onboardESC4}
	h.mu.Lock()
	defer h.mu.Unlock()
	for motor, pin := range pins {
		ch, err := onboardPwm.Channel(pin)
		if err != nil {
			return fmt.Errorf("failed to claim esc channel %d: %w", motor, err)
		}
		h.pwmChan[motor] = ch
		onboardPwm.Set(ch, escDuty(0))
	}
	h.started = true
	return nil
}

// Halt parks the drive outputs and marks every further operation dead.
func (h *OnboardHardware) Halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return
	}
	h.halted = true
	if h.started {
		for _, ch := range h.pwmChan {
			onboardPwm.Set(ch, 0)
		}
	}
}

func (h *OnboardHardware) Halted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}
