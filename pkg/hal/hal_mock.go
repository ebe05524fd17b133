//go:build !tinygo

package hal

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// fails if FlightHardwareMock does not implement FlightHardware
var _ FlightHardware = &FlightHardwareMock{}

// FlightHardwareMock implements a mock for the FlightHardware interface
type FlightHardwareMock struct {
	mock.Mock
}

func (m *FlightHardwareMock) Run(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *FlightHardwareMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *FlightHardwareMock) ConfigRegisters() (uint16, uint16) {
	args := m.Called()
	return args.Get(0).(uint16), args.Get(1).(uint16)
}

func (m *FlightHardwareMock) AnalogRead(ch AnalogChannel) (uint16, error) {
	args := m.Called(ch)
	return args.Get(0).(uint16), args.Error(1)
}

func (m *FlightHardwareMock) CompassRead(offset uint8, buf []byte) error {
	args := m.Called(offset, buf)
	// A second return value carries the register contents, if provided.
	if len(args) > 1 {
		if regs, ok := args.Get(1).([]byte); ok {
			copy(buf, regs)
		}
	}
	return args.Error(0)
}

func (m *FlightHardwareMock) MagCalibration() [3]int16 {
	args := m.Called()
	return args.Get(0).([3]int16)
}

func (m *FlightHardwareMock) Receiver() ChannelSnapshot {
	args := m.Called()
	return args.Get(0).(ChannelSnapshot)
}

func (m *FlightHardwareMock) Attitude() AttitudeSnapshot {
	args := m.Called()
	return args.Get(0).(AttitudeSnapshot)
}

func (m *FlightHardwareMock) InitAttitude() error {
	args := m.Called()
	return args.Error(0)
}

func (m *FlightHardwareMock) ActuatorSet(motor int, value uint16) error {
	args := m.Called(motor, value)
	return args.Error(0)
}

func (m *FlightHardwareMock) ActuatorsStart() error {
	args := m.Called()
	return args.Error(0)
}

func (m *FlightHardwareMock) Halt() {
	m.Called()
}

func (m *FlightHardwareMock) Halted() bool {
	args := m.Called()
	return args.Bool(0)
}
