// Package preflight implements the one-time boot safety gate. Every check
// either passes or is fatal: the caller responds to an error by halting
// the hardware for good. Nothing here runs again after boot.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openquad/quadpilot/pkg/console"
	"github.com/openquad/quadpilot/pkg/hal"
	"github.com/openquad/quadpilot/pkg/util"
)

const (
	// consoleSettleDelay gives whoever is attaching to the UART time to
	// catch the transcript from the start.
	consoleSettleDelay = 4 * time.Second

	// magIdentity is the identity byte the compass module reports in
	// register 0.
	magIdentity = 0x02

	// Gyro zero-rate band in the doubled converter domain. The expected
	// level is 1.23V: 2 * 0x400 * 1.23 / 3.3 == 0x2fb.
	gyroBandLow    = 0x2a0
	gyroBandHigh   = 0x350
	gyroPollBudget = 20

	// Magnetic field registers and acceptable magnitude, milli-units.
	magRegisterBase = 10
	magMagnitudeMin = 300
	magMagnitudeMax = 600

	// Accelerometer rest check: sampled at a fixed short interval, the
	// magnitude must sit near the 1g reading.
	accelRegisterBase = 16
	accelSampleCount  = 16
	accelSamplePeriod = 20 * time.Millisecond
	accelOneG         = 0x4050
	accelRestMin      = 0x3f00
	accelRestMax      = 0x4070

	// throttleIdleMax is the highest throttle reading accepted at boot
	// when a receiver signal is present.
	throttleIdleMax = 5

	// Battery voltage: 3.3V reference, resistors divide the pack voltage
	// by roughly five.
	batteryScaleNum = 323 * (991 + 241)
	batteryScaleDen = 0x400 * 100 * 241

	// Die temperature against the 1.1V reference.
	tempZeroOffset = 269
	tempScaleNum   = 1100
	tempScaleDen   = 0x400
)

var (
	ErrMagIdentity    = errors.New("magnetometer identity mismatch")
	ErrGyroZeroRate   = errors.New("gyro readings out of range")
	ErrMagMagnitude   = errors.New("magnetic field magnitude out of range")
	ErrAccelRest      = errors.New("accelerometer rest magnitude out of range")
	ErrThrottleRaised = errors.New("throttle stick not in the bottom position")
)

// CheckLabel classifies a gate error for metrics and diagnostics.
func CheckLabel(err error) string {
	switch {
	case errors.Is(err, ErrMagIdentity):
		return "mag_identity"
	case errors.Is(err, ErrGyroZeroRate):
		return "gyro_zero_rate"
	case errors.Is(err, ErrMagMagnitude):
		return "mag_magnitude"
	case errors.Is(err, ErrAccelRest):
		return "accel_rest"
	case errors.Is(err, ErrThrottleRaised):
		return "throttle_raised"
	default:
		return "sensor_io"
	}
}

// Gate runs the boot sanity sequence against the hardware, narrating each
// step on the console. On success it primes the attitude estimator and
// starts the actuator signals; any error is fatal to the whole system.
type Gate struct {
	Hardware hal.FlightHardware
	Console  *console.Writer
	Clock    util.Clock
}

func (g *Gate) Run(ctx context.Context) error {
	status, control := g.Hardware.ConfigRegisters()

	if err := g.Clock.Sleep(ctx, consoleSettleDelay); err != nil {
		return err
	}

	g.Console.WriteString("Status:")
	g.Console.WriteHex16(status)
	g.Console.WriteString(", Config:")
	g.Console.WriteHex16(control)
	g.Console.WriteEOL()

	if err := g.reportBatteryAndTemperature(); err != nil {
		return err
	}
	if err := g.checkMagIdentity(); err != nil {
		return err
	}
	if err := g.checkGyroZeroRate(); err != nil {
		return err
	}
	sum, err := g.checkMagMagnitude()
	if err != nil {
		return err
	}
	if err := g.checkAccelRest(ctx, sum); err != nil {
		return err
	}
	if err := g.checkReceiver(); err != nil {
		return err
	}

	g.Console.WriteLine("Calibrating sensors..")

	if err := g.Hardware.InitAttitude(); err != nil {
		return fmt.Errorf("failed to start attitude estimator: %w", err)
	}
	if err := g.Hardware.ActuatorsStart(); err != nil {
		return fmt.Errorf("failed to start actuators: %w", err)
	}

	g.Console.WriteLine("AHRS loop and actuator signals are running")
	return nil
}

func (g *Gate) reportBatteryAndTemperature() error {
	battery, err := g.Hardware.AnalogRead(hal.AnalogBattery)
	if err != nil {
		return fmt.Errorf("battery voltage read failed: %w", err)
	}
	g.Console.WriteString("Battery voltage:")
	g.Console.WriteFixed(int64(battery)*batteryScaleNum, batteryScaleDen)
	g.Console.WriteString("V")
	g.Console.WriteEOL()

	temp, err := g.Hardware.AnalogRead(hal.AnalogTemperature)
	if err != nil {
		return fmt.Errorf("temperature read failed: %w", err)
	}
	g.Console.WriteString("CPU temperature:")
	g.Console.WriteFixed((int64(temp)-tempZeroOffset)*tempScaleNum, tempScaleDen)
	g.Console.WriteEOL()
	return nil
}

func (g *Gate) checkMagIdentity() error {
	ver := []byte{0xff}
	if err := g.Hardware.CompassRead(0, ver); err != nil {
		return fmt.Errorf("magnetometer identity read failed: %w", err)
	}
	g.Console.WriteString("Magnetometer revision:")
	g.Console.WriteHex16(uint16(ver[0]))
	g.Console.WriteEOL()
	if ver[0] != magIdentity {
		return fmt.Errorf("%w: got %#02x", ErrMagIdentity, ver[0])
	}
	return nil
}

// checkGyroZeroRate polls the three gyro axes until one poll finds them
// all inside the zero-rate band. A transient excursion only consumes one
// attempt; running out of attempts is what kills the boot.
func (g *Gate) checkGyroZeroRate() error {
	g.Console.WriteString("Checking if gyro readings in range.. ")
	for attempt := 0; attempt < gyroPollBudget; attempt++ {
		inBand := true
		for axis := hal.AnalogGyroPitch; axis <= hal.AnalogGyroYaw; axis++ {
			raw, err := g.Hardware.AnalogRead(axis)
			if err != nil {
				return fmt.Errorf("gyro read failed: %w", err)
			}
			v := 2 * raw
			if v <= gyroBandLow || v >= gyroBandHigh {
				inBand = false
			}
		}
		if inBand {
			g.Console.WriteLine("yep")
			return nil
		}
	}
	return ErrGyroZeroRate
}

// checkMagMagnitude validates the calibrated field magnitude and returns
// the running accumulator for the accelerometer check.
func (g *Gate) checkMagMagnitude() (uint32, error) {
	g.Console.WriteString("Checking magnetic field magnitude.. ")
	var regs [6]byte
	if err := g.Hardware.CompassRead(magRegisterBase, regs[:]); err != nil {
		return 0, fmt.Errorf("magnetic field read failed: %w", err)
	}
	calib := g.Hardware.MagCalibration()

	var sum uint32
	for i := 0; i < 3; i++ {
		v := int16(uint16(regs[2*i])<<8|uint16(regs[2*i+1])) - calib[i]
		sum += uint32(int32(v) * int32(v))
	}
	field := util.Isqrt32(sum)
	g.Console.WriteFixed(int64(field), 1000)
	g.Console.WriteLine(" T")
	if field > magMagnitudeMax || field < magMagnitudeMin {
		return 0, fmt.Errorf("%w: %d", ErrMagMagnitude, field)
	}
	return field, nil
}

// checkAccelRest samples the accelerometer and validates the rest
// magnitude against the expected 1g reading. The accumulator starts at
// the value carried over from the field magnitude check.
func (g *Gate) checkAccelRest(ctx context.Context, sum uint32) error {
	g.Console.WriteString("Checking accelerometer readings.. ")
	var regs [6]byte
	for n := 0; n < accelSampleCount; n++ {
		if err := g.Hardware.CompassRead(accelRegisterBase, regs[:]); err != nil {
			return fmt.Errorf("accelerometer read failed: %w", err)
		}
		for i := 0; i < 3; i++ {
			v := (int16(uint16(regs[2*i])<<8|uint16(regs[2*i+1])) + 1) >> 1
			sum += uint32(int32(v) * int32(v))
		}
		if err := g.Clock.Sleep(ctx, accelSamplePeriod); err != nil {
			return err
		}
	}
	rest := (util.Isqrt32(sum) + 1) >> 1
	g.Console.WriteFixed(int64(rest), accelOneG)
	g.Console.WriteLine(" g")
	if rest > accelRestMax || rest < accelRestMin {
		return fmt.Errorf("%w: %#04x", ErrAccelRest, rest)
	}
	return nil
}

func (g *Gate) checkReceiver() error {
	snap := g.Hardware.Receiver()
	g.Console.WriteString("Receiver signal: ")
	if snap.NoSignal != 0 {
		g.Console.WriteLine("NOPE")
	} else {
		g.Console.WriteLine("yep")
	}
	if snap.NoSignal == 0 && snap.Throttle > throttleIdleMax {
		g.Console.WriteLine("Throttle stick is not in the bottom position")
		return ErrThrottleRaised
	}
	return nil
}
