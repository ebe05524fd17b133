package console

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Actuators is the slice of the hardware surface the motor tester needs.
type Actuators interface {
	ActuatorSet(motor int, value uint16) error
}

// motorCommand maps one input byte onto a motor index and a step
// direction.
type motorCommand struct {
	motor int
	delta int
}

// The motor test protocol: one home-row key per motor to step down, the
// row above to step up. Anything else is silently ignored.
var motorCommands = map[byte]motorCommand{
	'a': {0, -1},
	's': {1, -1},
	'd': {2, -1},
	'f': {3, -1},
	'q': {0, +1},
	'w': {1, +1},
	'e': {2, +1},
	'r': {3, +1},
}

// MotorTester holds the per-motor test values and applies single-byte
// console commands to them. Accepted commands are applied to the
// actuators immediately and acknowledged with a state line.
type MotorTester struct {
	mu        sync.Mutex
	values    [4]uint8
	actuators Actuators
	out       *Writer
	disabled  bool
}

func NewMotorTester(actuators Actuators, out *Writer) *MotorTester {
	return &MotorTester{
		actuators: actuators,
		out:       out,
	}
}

// Handle applies one input byte. It reports whether the byte was a valid
// command; unknown bytes produce no output at all. A disabled tester
// ignores everything.
func (t *MotorTester) Handle(ch byte) bool {
	cmd, ok := motorCommands[ch]
	if !ok {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled {
		return false
	}

	v := int(t.values[cmd.motor]) + cmd.delta
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	t.values[cmd.motor] = uint8(v)
	// The 8-bit test value occupies the top byte of the 16-bit command.
	_ = t.actuators.ActuatorSet(cmd.motor, uint16(v)<<8)

	observeCommand(ch)
	t.showState()
	return true
}

// Disable permanently stops command handling. The halt path disables the
// tester before it writes its diagnostic, so once Disable returns no
// command output can follow it on the console.
func (t *MotorTester) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled = true
}

// ShowState emits the four current test values as decimal, no separators.
func (t *MotorTester) ShowState() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.showState()
}

func (t *MotorTester) showState() {
	for _, v := range t.values {
		t.out.WriteDec(uint32(v))
	}
	t.out.WriteEOL()
}

// Values returns the current test values.
func (t *MotorTester) Values() [4]uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values
}

// Run consumes input bytes one at a time until the reader is exhausted or
// the context is canceled. Closing the underlying transport is the way to
// unblock a pending read.
func (t *MotorTester) Run(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			t.Handle(buf[0])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
