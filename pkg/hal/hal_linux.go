//go:build linux && !tinygo

package hal

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openquad/quadpilot/pkg/ahrs"
	"github.com/openquad/quadpilot/pkg/log"
	"github.com/warthog618/gpiod"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// i2cSlaveIoctl selects the bus peer for subsequent reads/writes.
	i2cSlaveIoctl = 0x0703

	// ESC pulse widths for the sysfs PWM actuators, in nanoseconds.
	escPeriodNs   = 20_000_000 // 50 Hz frame
	escPulseMinNs = 1_000_000
	escPulseMaxNs = 2_000_000

	linuxAttitudePeriod = 10 * time.Millisecond
)

// linuxHardware drives a Linux SBC flight stack: receiver PPM capture via
// gpiod edge events, ESC output via sysfs PWM, gyro/battery/temperature
// via an IIO ADC and the compass/accelerometer module via /dev/i2c.
type linuxHardware struct {
	opts FlightHardwareOpts

	mu        sync.Mutex
	receiver  ChannelSnapshot
	halted    bool
	started   bool
	estimator *ahrs.Estimator

	i2cFile *os.File
	i2cMu   sync.Mutex

	chip         *gpiod.Chip
	receiverLine *gpiod.Line

	// PPM decode state, touched only from the gpiod event goroutine.
	lastEdge time.Duration
	frame    [ppmFrameChannels]uint16
	frameIdx int
}

var _ FlightHardware = &linuxHardware{}

func newLinuxHardware(opts FlightHardwareOpts) (*linuxHardware, error) {
	h := &linuxHardware{
		opts:      opts,
		estimator: ahrs.New(),
	}
	h.receiver.NoSignal = 10

	i2cFile, err := os.OpenFile(opts.I2CDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus: %w", err)
	}
	if err := unix.IoctlSetInt(int(i2cFile.Fd()), i2cSlaveIoctl, int(opts.CompassAddr)); err != nil {
		i2cFile.Close()
		return nil, fmt.Errorf("failed to select compass address: %w", err)
	}
	h.i2cFile = i2cFile

	chip, err := gpiod.NewChip(opts.GPIOChip)
	if err != nil {
		i2cFile.Close()
		return nil, fmt.Errorf("failed to open gpio chip: %w", err)
	}
	h.chip = chip

	line, err := chip.RequestLine(
		opts.ReceiverLine,
		gpiod.WithRisingEdge,
		gpiod.WithEventHandler(h.handleReceiverEdge),
	)
	if err != nil {
		chip.Close()
		i2cFile.Close()
		return nil, fmt.Errorf("failed to request receiver line: %w", err)
	}
	h.receiverLine = line

	return h, nil
}

// handleReceiverEdge decodes the PPM stream edge by edge. It runs on the
// gpiod event goroutine, the single writer of the receiver snapshot.
func (h *linuxHardware) handleReceiverEdge(evt gpiod.LineEvent) {
	gap := evt.Timestamp - h.lastEdge
	h.lastEdge = evt.Timestamp

	if gap > ppmSyncGap {
		if h.frameIdx > ppmChSelector {
			h.latchFrame()
		}
		h.frameIdx = 0
		return
	}
	if h.frameIdx < ppmFrameChannels {
		h.frame[h.frameIdx] = uint16(gap.Microseconds())
		h.frameIdx++
	}
}

func (h *linuxHardware) latchFrame() {
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
	receiverNoSignal.Set(float64(h.receiver.NoSignal))
}

// Run feeds the attitude estimator until the context is canceled. The
// receiver path is event-driven and needs no polling here.
func (h *linuxHardware) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).Named("hal-linux")
	logger.Info("Starting linux hardware",
		zap.String("gpio_chip", h.opts.GPIOChip),
		zap.Int("receiver_line", h.opts.ReceiverLine))

	ticker := time.NewTicker(linuxAttitudePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping linux hardware")
			return ctx.Err()
		case <-ticker.C:
			if h.Halted() {
				continue
			}
			if err := h.stepAttitude(); err != nil {
				logger.Warn("Attitude sensor read failed", zap.Error(err))
			}
		}
	}
}

func (h *linuxHardware) stepAttitude() error {
	var gyro [3]int16
	for axis := AnalogGyroPitch; axis <= AnalogGyroYaw; axis++ {
		raw, err := h.AnalogRead(axis)
		if err != nil {
			return err
		}
		gyro[axis] = int16(2*raw) - 2*GyroZeroRateLevel
	}

	var regs [12]byte
	if err := h.CompassRead(10, regs[:]); err != nil {
		return err
	}
	calib := h.opts.MagCalibration
	var mag, accel [3]int16
	for i := 0; i < 3; i++ {
		mag[i] = int16(uint16(regs[2*i])<<8|uint16(regs[2*i+1])) - calib[i]
		accel[i] = int16(uint16(regs[6+2*i])<<8 | uint16(regs[6+2*i+1]))
	}

	// Compass heading from the horizontal field components, mapped onto
	// the 16-bit yaw domain (half-turn = 32768).
	heading := int16(math.Atan2(float64(mag[1]), float64(mag[0])) / math.Pi * YawHalfTurn)

	h.estimator.Update(ahrs.Sample{Gyro: gyro, Accel: accel, Heading: heading})
	return nil
}

func (h *linuxHardware) Close() error {
	h.Halt()
	if h.receiverLine != nil {
		h.receiverLine.Close()
	}
	if h.chip != nil {
		h.chip.Close()
	}
	return h.i2cFile.Close()
}

func (h *linuxHardware) ConfigRegisters() (uint16, uint16) {
	return 0, 0
}

func (h *linuxHardware) AnalogRead(ch AnalogChannel) (uint16, error) {
	if h.Halted() {
		return 0, ErrHalted
	}
	if ch < 0 || ch >= AnalogChannelCount {
		return 0, fmt.Errorf("analog channel %d out of range", ch)
	}
	path := filepath.Join(h.opts.IIODevicePath, fmt.Sprintf("in_voltage%d_raw", ch))
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read adc channel %d: %w", ch, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("bad adc reading on channel %d: %w", ch, err)
	}
	return uint16(v), nil
}

func (h *linuxHardware) CompassRead(offset uint8, buf []byte) error {
	if h.Halted() {
		return ErrHalted
	}
	h.i2cMu.Lock()
	defer h.i2cMu.Unlock()
	if _, err := h.i2cFile.Write([]byte{offset}); err != nil {
		return fmt.Errorf("failed to address compass register %d: %w", offset, err)
	}
	if _, err := h.i2cFile.Read(buf); err != nil {
		return fmt.Errorf("failed to read compass registers: %w", err)
	}
	return nil
}

func (h *linuxHardware) MagCalibration() [3]int16 {
	return h.opts.MagCalibration
}

func (h *linuxHardware) Receiver() ChannelSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.receiver
}

func (h *linuxHardware) Attitude() AttitudeSnapshot {
	return h.estimator.Snapshot()
}

func (h *linuxHardware) InitAttitude() error {
	if h.Halted() {
		return ErrHalted
	}
	var regs [6]byte
	if err := h.CompassRead(16, regs[:]); err != nil {
		return err
	}
	var accel [3]int16
	for i := 0; i < 3; i++ {
		accel[i] = int16(uint16(regs[2*i])<<8 | uint16(regs[2*i+1]))
	}
	h.estimator.Prime(ahrs.Sample{Accel: accel})
	return nil
}

func (h *linuxHardware) ActuatorSet(motor int, value uint16) error {
	if h.Halted() {
		return ErrHalted
	}
	if motor < 0 || motor >= MotorCount {
		return fmt.Errorf("motor %d out of range", motor)
	}
	if value > 32000 {
		value = 32000
	}
	duty := escPulseMinNs + int64(value)*(escPulseMaxNs-escPulseMinNs)/32000
	path := filepath.Join(h.opts.PWMChipPath, fmt.Sprintf("pwm%d", motor), "duty_cycle")
	if err := os.WriteFile(path, []byte(strconv.FormatInt(duty, 10)), 0o644); err != nil {
		return fmt.Errorf("failed to set motor %d: %w", motor, err)
	}
	observeMotorCommand(motor, value)
	return nil
}

func (h *linuxHardware) ActuatorsStart() error {
	if h.Halted() {
		return ErrHalted
	}
	for motor := 0; motor < MotorCount; motor++ {
		dir := filepath.Join(h.opts.PWMChipPath, fmt.Sprintf("pwm%d", motor))
		if err := os.WriteFile(filepath.Join(dir, "period"), []byte(strconv.Itoa(escPeriodNs)), 0o644); err != nil {
			return fmt.Errorf("failed to set motor %d period: %w", motor, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "enable"), []byte("1"), 0o644); err != nil {
			return fmt.Errorf("failed to enable motor %d: %w", motor, err)
		}
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	return nil
}

// Halt kills the drive signals and marks every further operation dead.
func (h *linuxHardware) Halt() {
	h.mu.Lock()
	if h.halted {
		h.mu.Unlock()
		return
	}
	h.halted = true
	h.mu.Unlock()
	hardwareHalted.Set(1)

	for motor := 0; motor < MotorCount; motor++ {
		path := filepath.Join(h.opts.PWMChipPath, fmt.Sprintf("pwm%d", motor), "enable")
		// Best effort, the process is on its way to an absorbing state.
		_ = os.WriteFile(path, []byte("0"), 0o644)
	}
}

func (h *linuxHardware) Halted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}
