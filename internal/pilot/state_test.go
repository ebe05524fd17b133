package pilot_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openquad/quadpilot/internal/pilot"
)

func TestNewLifecycleState(t *testing.T) {
	t.Parallel()

	state := pilot.NewLifecycleState()
	assert.NotNil(t, state)
	assert.Equal(t, pilot.StateBoot, state.Current())
}

func TestLifecycleState_BootToRunning(t *testing.T) {
	t.Parallel()

	state := pilot.NewLifecycleState()

	state.Transition(pilot.StateSanityCheck)
	assert.Equal(t, pilot.StateSanityCheck, state.Current())
	state.Transition(pilot.StateRunning)
	assert.Equal(t, pilot.StateRunning, state.Current())
}

func TestLifecycleState_IllegalTransitionsIgnored(t *testing.T) {
	t.Parallel()

	state := pilot.NewLifecycleState()

	// Boot can only move to the sanity check.
	state.Transition(pilot.StateRunning)
	assert.Equal(t, pilot.StateBoot, state.Current())
	state.Transition(pilot.StateHalted)
	assert.Equal(t, pilot.StateBoot, state.Current())

	// The sanity check never goes back to boot.
	state.Transition(pilot.StateSanityCheck)
	state.Transition(pilot.StateBoot)
	assert.Equal(t, pilot.StateSanityCheck, state.Current())
}

func TestLifecycleState_HaltedIsAbsorbing(t *testing.T) {
	t.Parallel()

	state := pilot.NewLifecycleState()

	state.Transition(pilot.StateSanityCheck)
	state.Transition(pilot.StateHalted)
	assert.Equal(t, pilot.StateHalted, state.Current())

	state.Transition(pilot.StateRunning)
	assert.Equal(t, pilot.StateHalted, state.Current())
	state.Transition(pilot.StateSanityCheck)
	assert.Equal(t, pilot.StateHalted, state.Current())
}

func TestLifecycleState_WaitForRunning(t *testing.T) {
	t.Parallel()

	state := pilot.NewLifecycleState()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := state.WaitForRunning(context.Background())
		assert.NoError(t, err)
	}()

	// Give goroutine time to start
	time.Sleep(50 * time.Millisecond)

	state.Transition(pilot.StateSanityCheck)
	state.Transition(pilot.StateRunning)

	wg.Wait()
}

func TestLifecycleState_WaitForRunning_Timeout(t *testing.T) {
	t.Parallel()

	state := pilot.NewLifecycleState()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	err := state.WaitForRunning(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLifecycleState_WaitForHalt(t *testing.T) {
	t.Parallel()

	state := pilot.NewLifecycleState()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := state.WaitForHalt(context.Background())
		assert.NoError(t, err)
	}()

	// Give goroutine time to start
	time.Sleep(50 * time.Millisecond)

	state.Transition(pilot.StateSanityCheck)
	state.Transition(pilot.StateHalted)

	wg.Wait()
}
