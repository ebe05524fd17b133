//go:build !tinygo

package console

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "quadpilot",
	Name:      "console_commands_total",
	Help:      "Accepted motor test console commands",
}, []string{"command"})

func observeCommand(ch byte) {
	commandCounter.WithLabelValues(string(ch)).Inc()
}
