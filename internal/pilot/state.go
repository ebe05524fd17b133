package pilot

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quadpilot",
		Name:      "lifecycle_state",
		Help:      "Flight controller lifecycle state (label values are boot, sanity_check, running, halted)",
	}, []string{"state"})
)

// State is the lifecycle phase of the flight controller. It only ever
// moves forward: Boot to SanityCheck, then Running or Halted. Halted is
// absorbing.
type State int

const (
	StateBoot State = iota
	StateSanityCheck
	StateRunning
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "boot"
	case StateSanityCheck:
		return "sanity_check"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

var allStates = []State{StateBoot, StateSanityCheck, StateRunning, StateHalted}

type lifecycleState struct {
	mutex sync.Mutex

	current     State
	runningChan chan struct{}
	haltChan    chan struct{}
}

func NewLifecycleState() *lifecycleState {
	s := &lifecycleState{
		current:     StateBoot,
		runningChan: make(chan struct{}),
		haltChan:    make(chan struct{}),
	}
	s.observe()
	return s
}

// Transition moves the lifecycle to next. Illegal transitions are
// ignored; in particular nothing leaves Halted.
func (s *lifecycleState) Transition(next State) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !legalTransition(s.current, next) {
		return
	}
	s.current = next
	s.observe()

	switch next {
	case StateRunning:
		close(s.runningChan)
	case StateHalted:
		close(s.haltChan)
	}
}

func legalTransition(from, to State) bool {
	switch from {
	case StateBoot:
		return to == StateSanityCheck
	case StateSanityCheck:
		return to == StateRunning || to == StateHalted
	case StateRunning:
		return to == StateHalted
	default:
		return false
	}
}

func (s *lifecycleState) Current() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.current
}

// WaitForRunning blocks until the controller enters the main loop.
func (s *lifecycleState) WaitForRunning(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.runningChan:
		return nil
	}
}

// WaitForHalt blocks until the controller is halted for good.
func (s *lifecycleState) WaitForHalt(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.haltChan:
		return nil
	}
}

func (s *lifecycleState) observe() {
	for _, st := range allStates {
		if st == s.current {
			stateMetric.WithLabelValues(st.String()).Set(1)
		} else {
			stateMetric.WithLabelValues(st.String()).Set(0)
		}
	}
}
