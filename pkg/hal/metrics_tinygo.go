//go:build tinygo

package hal

// Metrics are compiled out of the MCU build.
func observeMotorCommand(int, uint16) {}
