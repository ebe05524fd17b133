//go:build tinygo

package console

// No metrics registry on the MCU build.
func observeCommand(ch byte) {}
