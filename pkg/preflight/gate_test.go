package preflight

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/openquad/quadpilot/pkg/console"
	"github.com/openquad/quadpilot/pkg/hal"
	"github.com/openquad/quadpilot/pkg/util"
)

// fixtureConfig parametrizes the mocked hardware. The zero-value-ish
// defaults describe a craft sitting level on the bench with everything
// healthy.
type fixtureConfig struct {
	magID      byte
	gyroRaw    uint16
	magRegs    []byte
	calib      [3]int16
	accelRegs  []byte
	receiver   hal.ChannelSnapshot
	batteryRaw uint16
	tempRaw    uint16
}

func healthyConfig() fixtureConfig {
	return fixtureConfig{
		magID:   0x02,
		gyroRaw: 0x17d,
		// Field of 500 raw on X with a calibration offset of 100 leaves
		// a calibrated magnitude of 400.
		magRegs: []byte{0x01, 0xf4, 0x00, 0x00, 0x00, 0x00},
		calib:   [3]int16{100, 0, 0},
		// 1g on Z only.
		accelRegs:  []byte{0x00, 0x00, 0x00, 0x00, 0x40, 0x50},
		receiver:   hal.ChannelSnapshot{Throttle: 2},
		batteryRaw: 0x2bc,
		tempRaw:    0x130,
	}
}

type fixture struct {
	hw    *hal.FlightHardwareMock
	clock *util.MockClock
	out   *bytes.Buffer
	gate  *Gate
}

func newFixture(cfg fixtureConfig) *fixture {
	hw := &hal.FlightHardwareMock{}
	clock := &util.MockClock{}
	out := &bytes.Buffer{}

	hw.On("ConfigRegisters").Return(uint16(0x001c), uint16(0x0040))
	hw.On("AnalogRead", hal.AnalogBattery).Return(cfg.batteryRaw, nil)
	hw.On("AnalogRead", hal.AnalogTemperature).Return(cfg.tempRaw, nil)
	for _, ch := range []hal.AnalogChannel{hal.AnalogGyroPitch, hal.AnalogGyroRoll, hal.AnalogGyroYaw} {
		hw.On("AnalogRead", ch).Return(cfg.gyroRaw, nil)
	}
	hw.On("CompassRead", uint8(0), mock.Anything).Return(nil, []byte{cfg.magID})
	hw.On("CompassRead", uint8(magRegisterBase), mock.Anything).Return(nil, cfg.magRegs)
	hw.On("CompassRead", uint8(accelRegisterBase), mock.Anything).Return(nil, cfg.accelRegs)
	hw.On("MagCalibration").Return(cfg.calib)
	hw.On("Receiver").Return(cfg.receiver)
	hw.On("InitAttitude").Return(nil)
	hw.On("ActuatorsStart").Return(nil)

	clock.On("Sleep", mock.Anything, mock.Anything).Return(nil)

	return &fixture{
		hw:    hw,
		clock: clock,
		out:   out,
		gate:  &Gate{Hardware: hw, Console: console.NewWriter(out), Clock: clock},
	}
}

func TestGate_AllChecksPass(t *testing.T) {
	f := newFixture(healthyConfig())

	err := f.gate.Run(context.Background())
	assert.NoError(t, err)

	want := "Status:001c, Config:0040\r\n" +
		"Battery voltage:11.28V\r\n" +
		"CPU temperature:37.59\r\n" +
		"Magnetometer revision:0002\r\n" +
		"Checking if gyro readings in range.. yep\r\n" +
		"Checking magnetic field magnitude.. 0.40 T\r\n" +
		"Checking accelerometer readings.. 1.00 g\r\n" +
		"Receiver signal: yep\r\n" +
		"Calibrating sensors..\r\n" +
		"AHRS loop and actuator signals are running\r\n"
	assert.Equal(t, want, f.out.String())

	f.hw.AssertCalled(t, "InitAttitude")
	f.hw.AssertCalled(t, "ActuatorsStart")
	f.clock.AssertCalled(t, "Sleep", mock.Anything, consoleSettleDelay)
	f.clock.AssertNumberOfCalls(t, "Sleep", 1+accelSampleCount)
}

func TestGate_MagIdentityMismatch(t *testing.T) {
	cfg := healthyConfig()
	cfg.magID = 0x4e
	f := newFixture(cfg)

	err := f.gate.Run(context.Background())
	assert.ErrorIs(t, err, ErrMagIdentity)

	// The failure happens before any later check or any actuator output.
	f.hw.AssertNotCalled(t, "InitAttitude")
	f.hw.AssertNotCalled(t, "ActuatorsStart")
	assert.Contains(t, f.out.String(), "Magnetometer revision:004e\r\n")
	assert.NotContains(t, f.out.String(), "AHRS loop and actuator signals are running")
}

func TestGate_GyroStuckOutOfRange(t *testing.T) {
	cfg := healthyConfig()
	cfg.gyroRaw = 0x100
	f := newFixture(cfg)

	err := f.gate.Run(context.Background())
	assert.ErrorIs(t, err, ErrGyroZeroRate)

	// Battery and temperature plus every poll of the retry budget.
	f.hw.AssertNumberOfCalls(t, "AnalogRead", 2+3*gyroPollBudget)
	f.hw.AssertNotCalled(t, "ActuatorsStart")
}

func TestGate_GyroTransientConsumesOneAttempt(t *testing.T) {
	f := newFixture(healthyConfig())
	// One bad pitch sample on the first poll, healthy afterwards.
	f.hw.ExpectedCalls = nil
	cfg := healthyConfig()
	f.hw.On("ConfigRegisters").Return(uint16(0x001c), uint16(0x0040))
	f.hw.On("AnalogRead", hal.AnalogBattery).Return(cfg.batteryRaw, nil)
	f.hw.On("AnalogRead", hal.AnalogTemperature).Return(cfg.tempRaw, nil)
	f.hw.On("AnalogRead", hal.AnalogGyroPitch).Return(uint16(0x100), nil).Once()
	for _, ch := range []hal.AnalogChannel{hal.AnalogGyroPitch, hal.AnalogGyroRoll, hal.AnalogGyroYaw} {
		f.hw.On("AnalogRead", ch).Return(cfg.gyroRaw, nil)
	}
	f.hw.On("CompassRead", uint8(0), mock.Anything).Return(nil, []byte{cfg.magID})
	f.hw.On("CompassRead", uint8(magRegisterBase), mock.Anything).Return(nil, cfg.magRegs)
	f.hw.On("CompassRead", uint8(accelRegisterBase), mock.Anything).Return(nil, cfg.accelRegs)
	f.hw.On("MagCalibration").Return(cfg.calib)
	f.hw.On("Receiver").Return(cfg.receiver)
	f.hw.On("InitAttitude").Return(nil)
	f.hw.On("ActuatorsStart").Return(nil)

	err := f.gate.Run(context.Background())
	assert.NoError(t, err)
	assert.Contains(t, f.out.String(), "Checking if gyro readings in range.. yep\r\n")
}

func TestGate_GyroBandBoundariesExclusive(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  uint16
		pass bool
	}{
		{"low boundary", 0x150, false},   // doubled: 0x2a0
		{"just above low", 0x151, true},  // doubled: 0x2a2
		{"just below high", 0x1a7, true}, // doubled: 0x34e
		{"high boundary", 0x1a8, false},  // doubled: 0x350
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := healthyConfig()
			cfg.gyroRaw = tc.raw
			f := newFixture(cfg)
			err := f.gate.Run(context.Background())
			if tc.pass {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrGyroZeroRate)
			}
		})
	}
}

func TestGate_MagMagnitudeOutOfRange(t *testing.T) {
	for _, tc := range []struct {
		name string
		regs []byte
	}{
		// 701 raw on X with the 100 offset leaves 601, just over the cap.
		{"too strong", []byte{0x02, 0xbd, 0x00, 0x00, 0x00, 0x00}},
		// 250 raw leaves 150, under the floor.
		{"too weak", []byte{0x00, 0xfa, 0x00, 0x00, 0x00, 0x00}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := healthyConfig()
			cfg.magRegs = tc.regs
			f := newFixture(cfg)
			err := f.gate.Run(context.Background())
			assert.ErrorIs(t, err, ErrMagMagnitude)
			f.hw.AssertNotCalled(t, "ActuatorsStart")
		})
	}
}

func TestGate_AccelRestOutOfRange(t *testing.T) {
	cfg := healthyConfig()
	// Roughly half a g on Z.
	cfg.accelRegs = []byte{0x00, 0x00, 0x00, 0x00, 0x20, 0x00}
	f := newFixture(cfg)

	err := f.gate.Run(context.Background())
	assert.ErrorIs(t, err, ErrAccelRest)
	f.hw.AssertNotCalled(t, "InitAttitude")
}

func TestGate_ThrottleRaisedWithSignal(t *testing.T) {
	cfg := healthyConfig()
	cfg.receiver = hal.ChannelSnapshot{Throttle: 50}
	f := newFixture(cfg)

	err := f.gate.Run(context.Background())
	assert.ErrorIs(t, err, ErrThrottleRaised)
	assert.Contains(t, f.out.String(), "Receiver signal: yep\r\n")
	assert.Contains(t, f.out.String(), "Throttle stick is not in the bottom position\r\n")
	f.hw.AssertNotCalled(t, "ActuatorsStart")
}

func TestGate_NoSignalSkipsThrottleCheck(t *testing.T) {
	cfg := healthyConfig()
	cfg.receiver = hal.ChannelSnapshot{Throttle: 200, NoSignal: 10}
	f := newFixture(cfg)

	err := f.gate.Run(context.Background())
	assert.NoError(t, err)
	assert.Contains(t, f.out.String(), "Receiver signal: NOPE\r\n")
	f.hw.AssertCalled(t, "ActuatorsStart")
}

func TestGate_SensorReadErrorIsFatal(t *testing.T) {
	cfg := healthyConfig()
	f := newFixture(cfg)
	f.hw.ExpectedCalls = nil
	f.hw.On("ConfigRegisters").Return(uint16(0x001c), uint16(0x0040))
	f.hw.On("AnalogRead", hal.AnalogBattery).Return(uint16(0), errors.New("adc gone"))

	err := f.gate.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "sensor_io", CheckLabel(err))
	f.hw.AssertNotCalled(t, "ActuatorsStart")
}

func TestCheckLabel(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want string
	}{
		{ErrMagIdentity, "mag_identity"},
		{ErrGyroZeroRate, "gyro_zero_rate"},
		{ErrMagMagnitude, "mag_magnitude"},
		{ErrAccelRest, "accel_rest"},
		{ErrThrottleRaised, "throttle_raised"},
		{errors.New("bus fault"), "sensor_io"},
	} {
		assert.Equal(t, tc.want, CheckLabel(tc.err))
	}
}
