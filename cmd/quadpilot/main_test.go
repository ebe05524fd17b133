package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquad/quadpilot/pkg/hal"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)

	assert.Equal(t, hal.Platform("sim"), cfg.Pilot.Hal.Platform)
	assert.Equal(t, "", cfg.Console.Device)
	assert.Equal(t, 38400, cfg.Console.Baud)
	assert.Equal(t, ":9667", cfg.MetricsAddr)
	assert.Equal(t, "development", cfg.LogMode)
}
