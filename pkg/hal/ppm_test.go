//go:build !tinygo

package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPulseToByte(t *testing.T) {
	for _, tc := range []struct {
		us   uint16
		want uint8
	}{
		{900, 0},
		{1000, 0},
		{1001, 0},
		{1500, 127},
		{2000, 255},
		{2100, 255},
	} {
		assert.Equal(t, tc.want, pulseToByte(tc.us), "pulse %dus", tc.us)
	}
}
