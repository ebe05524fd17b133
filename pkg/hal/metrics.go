//go:build !tinygo

package hal

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	motorCommand = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quadpilot",
		Name:      "motor_command",
		Help:      "Last command latched for each motor (clamped drive units)",
	}, []string{"motor"})
	receiverNoSignal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quadpilot",
		Name:      "receiver_no_signal",
		Help:      "Receiver no-signal countdown (0 = live signal)",
	})
	hardwareHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quadpilot",
		Name:      "hardware_halted",
		Help:      "1 once the hardware has been permanently halted",
	})
)

func observeMotorCommand(motor int, value uint16) {
	motorCommand.WithLabelValues(strconv.Itoa(motor)).Set(float64(value))
}
