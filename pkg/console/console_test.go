package console_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/openquad/quadpilot/pkg/console"
	"github.com/stretchr/testify/assert"
)

type actuatorRecorder struct {
	writes []struct {
		motor int
		value uint16
	}
}

func (r *actuatorRecorder) ActuatorSet(motor int, value uint16) error {
	r.writes = append(r.writes, struct {
		motor int
		value uint16
	}{motor, value})
	return nil
}

func TestMotorTester_IncrementAndDecrement(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	rec := &actuatorRecorder{}
	tester := console.NewMotorTester(rec, console.NewWriter(&out))

	assert.True(t, tester.Handle('q'))
	assert.True(t, tester.Handle('q'))
	assert.True(t, tester.Handle('w'))
	assert.True(t, tester.Handle('a'))

	assert.Equal(t, [4]uint8{1, 1, 0, 0}, tester.Values())
	assert.Equal(t, "2000\r\n", strings.Split(out.String(), "\r\n")[1]+"\r\n")

	// The latched command carries the value in the top byte.
	assert.Equal(t, 0, rec.writes[0].motor)
	assert.Equal(t, uint16(1<<8), rec.writes[0].value)
	assert.Equal(t, uint16(2<<8), rec.writes[1].value)
	assert.Equal(t, uint16(1<<8), rec.writes[3].value)
}

func TestMotorTester_ClampsAtFloorAndCeiling(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	rec := &actuatorRecorder{}
	tester := console.NewMotorTester(rec, console.NewWriter(&out))

	// Floor: stepping down from zero stays at zero but still acks.
	assert.True(t, tester.Handle('s'))
	assert.Equal(t, [4]uint8{0, 0, 0, 0}, tester.Values())
	assert.Equal(t, uint16(0), rec.writes[0].value)

	// Ceiling: 255 is absorbing.
	for i := 0; i < 300; i++ {
		tester.Handle('r')
	}
	assert.Equal(t, uint8(255), tester.Values()[3])
	assert.Equal(t, uint16(255<<8), rec.writes[len(rec.writes)-1].value)
}

func TestMotorTester_UnknownBytesAreSilentlyIgnored(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	rec := &actuatorRecorder{}
	tester := console.NewMotorTester(rec, console.NewWriter(&out))

	for _, ch := range []byte{'z', 'Q', ' ', 0x00, '\n'} {
		assert.False(t, tester.Handle(ch))
	}
	assert.Empty(t, out.String())
	assert.Empty(t, rec.writes)
}

func TestMotorTester_StateLineFormat(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	rec := &actuatorRecorder{}
	tester := console.NewMotorTester(rec, console.NewWriter(&out))

	for i := 0; i < 12; i++ {
		tester.Handle('q')
	}
	out.Reset()
	tester.Handle('e')

	// Decimal, space-free, CRLF-terminated.
	assert.Equal(t, "12010\r\n", out.String())
}

func TestMotorTester_DisabledIgnoresCommands(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	rec := &actuatorRecorder{}
	tester := console.NewMotorTester(rec, console.NewWriter(&out))

	assert.True(t, tester.Handle('q'))
	tester.Disable()
	out.Reset()

	// Commands arriving after a disable must not move a motor or write a
	// state line.
	assert.False(t, tester.Handle('q'))
	assert.False(t, tester.Handle('a'))
	assert.Equal(t, [4]uint8{1, 0, 0, 0}, tester.Values())
	assert.Empty(t, out.String())
	assert.Len(t, rec.writes, 1)
}

func TestMotorTester_RunConsumesReader(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	rec := &actuatorRecorder{}
	tester := console.NewMotorTester(rec, console.NewWriter(&out))

	err := tester.Run(context.Background(), strings.NewReader("qqxw"))
	assert.NoError(t, err)
	assert.Equal(t, [4]uint8{2, 1, 0, 0}, tester.Values())
}

func TestWriter_WriteFixed(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		num      int64
		scale    int64
		expected string
	}{
		{1100, 1000, "1.10"},
		{-550, 1000, "-0.55"},
		{400, 1000, "0.40"},
		{0x4050, 0x4050, "1.00"},
		{33280, 1024, "32.50"},
	}

	for _, tc := range testCases {
		var out bytes.Buffer
		console.NewWriter(&out).WriteFixed(tc.num, tc.scale)
		assert.Equal(t, tc.expected, out.String(), "%d/%d", tc.num, tc.scale)
	}
}
