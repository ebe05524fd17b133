//go:build !linux && !tinygo

package hal

import "errors"

// Real hardware access needs gpiod/sysfs, which is Linux-only. Other
// hosts get the simulated rig.
func newLinuxHardware(opts FlightHardwareOpts) (FlightHardware, error) {
	return nil, errors.New("linux platform is not supported on this host")
}
