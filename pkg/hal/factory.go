//go:build !tinygo

package hal

import "fmt"

// New returns a FlightHardware for the given configuration.
func New(opts FlightHardwareOpts) (FlightHardware, error) {
	switch opts.Platform {
	case PlatformSimulated, "":
		return NewSimulatedHardware(opts), nil
	case PlatformLinux:
		return newLinuxHardware(opts)
	default:
		return nil, fmt.Errorf("unsupported platform: %q", opts.Platform)
	}
}
