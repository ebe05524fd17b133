package hal

import (
	"context"
	"errors"
)

// ErrHalted is returned for any actuator or sensor operation attempted
// after Halt. The halt is absorbing; only a power cycle clears it.
var ErrHalted = errors.New("hardware halted")

// Platform selects the FlightHardware implementation.
type Platform string

const (
	// PlatformSimulated is a pure software rig; sensors report an
	// aircraft at rest and all checks pass.
	PlatformSimulated Platform = "sim"
	// PlatformLinux drives real hardware from a Linux SBC (gpiod
	// receiver capture, sysfs PWM, IIO ADC, /dev/i2c compass module).
	PlatformLinux Platform = "linux"
)

// FlightHardwareOpts configures a FlightHardware implementation.
type FlightHardwareOpts struct {
	Platform Platform `mapstructure:"platform"`

	// Linux platform wiring.
	GPIOChip      string `mapstructure:"gpio_chip"`
	ReceiverLine  int    `mapstructure:"receiver_line"`
	PWMChipPath   string `mapstructure:"pwm_chip_path"`
	IIODevicePath string `mapstructure:"iio_device_path"`
	I2CDevicePath string `mapstructure:"i2c_device_path"`
	CompassAddr   uint16 `mapstructure:"compass_addr"`

	// Per-axis magnetometer calibration offsets, subtracted from the raw
	// field readings before computing the magnitude.
	MagCalibration [3]int16 `mapstructure:"mag_calibration"`
}

// FlightHardware abstracts every collaborator the flight core talks to:
// the analog sensor gateway, the compass/accelerometer module, the
// receiver decoder, the attitude estimator and the actuator driver. The
// asynchronous update contexts behind it are owned by the implementation;
// Receiver and Attitude return consistent snapshots so the caller never
// observes a torn multi-field read.
type FlightHardware interface {
	// Run drives the implementation's update contexts until the context
	// is canceled or Halt is called.
	Run(ctx context.Context) error
	Close() error

	// ConfigRegisters reports the two boot-time configuration register
	// values printed in the startup transcript.
	ConfigRegisters() (status uint16, control uint16)

	// AnalogRead performs a fresh conversion on the given channel.
	AnalogRead(ch AnalogChannel) (uint16, error)
	// CompassRead copies len(buf) registers starting at offset from the
	// compass/accelerometer module.
	CompassRead(offset uint8, buf []byte) error
	// MagCalibration returns the stored per-axis field offsets.
	MagCalibration() [3]int16

	// Receiver returns the latest decoded channel snapshot.
	Receiver() ChannelSnapshot

	// Attitude returns a torn-free snapshot of the estimator state.
	Attitude() AttitudeSnapshot
	// InitAttitude primes the attitude estimator from the current sensor
	// readings and starts its update cadence.
	InitAttitude() error

	// ActuatorSet latches one 16-bit command for the given motor. The
	// actuator driver consumes the latest value at its own cadence.
	ActuatorSet(motor int, value uint16) error
	// ActuatorsStart enables drive signal generation.
	ActuatorsStart() error

	// Halt permanently disables every update context and all actuator
	// output. There is no way back.
	Halt()
	// Halted reports whether Halt has been called.
	Halted() bool
}
