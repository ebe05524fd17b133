// Package pilot wires the safety gate, the mode machine and the mixer
// onto the hardware and drives the fixed-rate control loop.
package pilot

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openquad/quadpilot/pkg/console"
	"github.com/openquad/quadpilot/pkg/flightcontrol"
	"github.com/openquad/quadpilot/pkg/hal"
	"github.com/openquad/quadpilot/pkg/log"
	"github.com/openquad/quadpilot/pkg/preflight"
	"github.com/openquad/quadpilot/pkg/util"
)

var (
	// tickCounter counts completed main loop iterations
	tickCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quadpilot",
		Name:      "main_loop_ticks_total",
		Help:      "Completed control loop iterations",
	})

	// preflightFailureCounter counts fatal boot check failures by check
	preflightFailureCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quadpilot",
		Name:      "preflight_failures_total",
		Help:      "Fatal boot check failures by check",
	}, []string{"check"})
)

// TickPeriod is the fixed cadence of the control loop. There is no drift
// compensation; each tick sleeps the full period.
const TickPeriod = 20 * time.Millisecond

type Config struct {
	// Hal selects and configures the hardware backend
	Hal hal.FlightHardwareOpts `mapstructure:"hal"`
}

// FlightPilot implements the core logic of the flight controller. It is
// responsible for the boot sequence and for driving the control loop.
type FlightPilot interface {
	// Run dispatches the controller and blocks until the context is
	// canceled or an error occurs
	Run(ctx context.Context) error
	// State returns the current lifecycle state
	State() State
	// WaitForRunning blocks until the control loop is live
	WaitForRunning(ctx context.Context) error
	// WaitForHalt blocks until the controller has halted for good
	WaitForHalt(ctx context.Context) error
	// Close releases the hardware
	Close() error
}

type flightPilotImpl struct {
	opts      Config
	hw        hal.FlightHardware
	transport io.ReadWriter
	clock     util.Clock

	state   *lifecycleState
	console *console.Writer
	tester  *console.MotorTester
	modes   *flightcontrol.ModeSwitch
	mixer   *flightcontrol.Mixer
}

// New assembles a FlightPilot on top of an already-constructed hardware
// backend. The transport carries the serial console both ways.
func New(opts Config, hw hal.FlightHardware, transport io.ReadWriter, clock util.Clock) FlightPilot {
	out := console.NewWriter(transport)
	return &flightPilotImpl{
		opts:      opts,
		hw:        hw,
		transport: transport,
		clock:     clock,
		state:     NewLifecycleState(),
		console:   out,
		tester:    console.NewMotorTester(hw, out),
		modes:     flightcontrol.NewModeSwitch(),
		mixer:     flightcontrol.NewMixer(hw),
	}
}

func (p *flightPilotImpl) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	log.FromContext(ctx).Info("Starting flight controller")

	// Run HAL update contexts
	g.Go(func() error {
		log.FromContext(ctx).Info("Starting HAL")
		if err := p.hw.Run(ctx); err != nil && err != context.Canceled {
			log.FromContext(ctx).Error("HAL failed", zap.Error(err))
			return err
		}
		return nil
	})

	// Run console command reader
	g.Go(func() error {
		log.FromContext(ctx).Info("Starting console reader")
		if err := p.tester.Run(ctx, p.transport); err != nil && err != context.Canceled {
			log.FromContext(ctx).Error("Console reader failed", zap.Error(err))
			return err
		}
		return nil
	})

	// Boot sequence, then the control loop
	g.Go(func() error {
		p.state.Transition(StateSanityCheck)
		gate := &preflight.Gate{Hardware: p.hw, Console: p.console, Clock: p.clock}
		if err := gate.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return p.halt(ctx, err)
		}

		p.state.Transition(StateRunning)
		log.FromContext(ctx).Info("Preflight checks passed, entering control loop")
		p.tester.ShowState()
		return p.loop(ctx)
	})

	return g.Wait()
}

// halt is the fatal boot path: kill the hardware, leave a terse
// diagnostic on the console and stay halted until the process is taken
// down. Nothing restarts a halted controller.
func (p *flightPilotImpl) halt(ctx context.Context, cause error) error {
	check := preflight.CheckLabel(cause)
	log.FromContext(ctx).Error("Preflight check failed, halting",
		zap.String("check", check),
		zap.Error(cause),
	)
	preflightFailureCounter.WithLabelValues(check).Inc()

	// The diagnostic is the last thing the console ever carries; the
	// tester must be dead before it goes out.
	p.tester.Disable()
	p.hw.Halt()
	p.console.WriteString("ERROR")
	p.state.Transition(StateHalted)

	<-ctx.Done()
	return ctx.Err()
}

func (p *flightPilotImpl) loop(ctx context.Context) error {
	for {
		if err := p.clock.Sleep(ctx, TickPeriod); err != nil {
			return err
		}

		// One receiver snapshot per tick; mode machine and mixer must see
		// the same values.
		ch := p.hw.Receiver()
		p.modes.Update(ch)
		if _, err := p.mixer.Update(p.hw.Attitude(), ch, p.modes.Flags()); err != nil {
			log.FromContext(ctx).Warn("Actuator write failed", zap.Error(err))
		}
		tickCounter.Inc()
	}
}

func (p *flightPilotImpl) State() State {
	return p.state.Current()
}

func (p *flightPilotImpl) WaitForRunning(ctx context.Context) error {
	return p.state.WaitForRunning(ctx)
}

func (p *flightPilotImpl) WaitForHalt(ctx context.Context) error {
	return p.state.WaitForHalt(ctx)
}

func (p *flightPilotImpl) Close() error {
	return p.hw.Close()
}
