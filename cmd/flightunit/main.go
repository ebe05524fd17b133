//go:build tinygo

package main

import (
	"context"
	"machine"
	"time"

	"github.com/openquad/quadpilot/pkg/console"
	"github.com/openquad/quadpilot/pkg/flightcontrol"
	"github.com/openquad/quadpilot/pkg/hal"
	"github.com/openquad/quadpilot/pkg/preflight"
	"github.com/openquad/quadpilot/pkg/util"
)

const (
	consoleBaudRate = 38400
	tickPeriod      = 20 * time.Millisecond
)

func main() {
	var hw *hal.OnboardHardware
	var out *console.Writer
	var tester *console.MotorTester
	var modes *flightcontrol.ModeSwitch
	var mixer *flightcontrol.Mixer
	var gate *preflight.Gate
	var clock util.RealClock
	var uart *machine.UART
	var err error

	ctx := context.Background()

	// Configure status LED
	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	machine.LED.Set(false)

	// Configure console UART
	uart = machine.DefaultUART
	err = uart.Configure(machine.UARTConfig{
		BaudRate: consoleBaudRate,
		TX:       machine.UART_TX_PIN,
		RX:       machine.UART_RX_PIN,
	})
	if err != nil {
		println("[!] Failed to initialize UART:", err.Error())
		goto errprint
	}

	hw, err = hal.NewOnboardHardware(hal.FlightHardwareOpts{})
	if err != nil {
		println("[!] Failed to initialize hardware:", err.Error())
		goto errprint
	}

	println("[+] IO initialized, starting boot checks...")
	go hw.Run(ctx)

	out = console.NewWriter(uart)
	tester = console.NewMotorTester(hw, out)
	gate = &preflight.Gate{Hardware: hw, Console: out, Clock: clock}

	if err = gate.Run(ctx); err != nil {
		hw.Halt()
		out.WriteString("ERROR")
		goto errprint
	}

	modes = flightcontrol.NewModeSwitch()
	mixer = flightcontrol.NewMixer(hw)
	tester.ShowState()

	for {
		_ = clock.Sleep(ctx, tickPeriod)

		// Console input is polled between ticks; the protocol is single
		// bytes, nothing is lost to the UART buffer.
		for uart.Buffered() > 0 {
			b, uartErr := uart.ReadByte()
			if uartErr != nil {
				break
			}
			tester.Handle(b)
		}

		ch := hw.Receiver()
		modes.Update(ch)
		_, _ = mixer.Update(hw.Attitude(), ch, modes.Flags())
	}

	// Blinking -> something went wrong
errprint:
	ledState := false
	for {
		ledState = !ledState
		machine.LED.Set(ledState)
		// Repeat error message
		println("[FATAL] flight unit stopped:", err)
		time.Sleep(500 * time.Millisecond)
	}
}
