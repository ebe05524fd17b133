package util_test

import (
	"testing"

	"github.com/openquad/quadpilot/pkg/util"
	"github.com/stretchr/testify/assert"
)

func TestIsqrt32(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in       uint32
		expected uint32
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{15, 3},
		{16, 4},
		{17, 4},
		{360000, 600},
		{360001, 600},
		{359999, 599},
		{1084253184, 32928}, // 16 samples of a 1g rest reading, 32928^2
		{1084253183, 32927},
		{4294836225, 65535}, // 65535^2
		{4294836224, 65534},
		{4294967295, 65535},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, util.Isqrt32(tc.in), "isqrt(%d)", tc.in)
	}
}

func TestIsqrt32_IsFloor(t *testing.T) {
	t.Parallel()

	for v := uint32(0); v < 10000; v++ {
		r := util.Isqrt32(v)
		assert.LessOrEqual(t, r*r, v)
		assert.Greater(t, (r+1)*(r+1), v)
	}
}
