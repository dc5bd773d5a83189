package session

import (
	"context"
	"errors"
	"fmt"

	loopfsm "github.com/looplab/fsm"

	"github.com/kelvradu/smppgate/internal/sp"
)

// Lifecycle events driving tenant status transitions.
const (
	EventBindStarted     = "bind_started"
	EventBindConfirmed   = "bind_confirmed"
	EventUnbindStarted   = "unbind_started"
	EventUnbindCompleted = "unbind_completed"
	EventStopped         = "stopped"
	EventRestarted       = "restarted"
)

// lifecycleEvents is the tenant status transition table. looplab/fsm is
// stateful, so a short-lived machine is created per ApplyTransition call,
// seeded with the tenant's current status.
var lifecycleEvents = []loopfsm.EventDesc{
	{Name: EventBindStarted, Src: []string{sp.StatusStarted, sp.StatusUnbinding}, Dst: sp.StatusBinding},
	{Name: EventBindConfirmed, Src: []string{sp.StatusBinding, sp.StatusBound}, Dst: sp.StatusBound},
	{Name: EventUnbindStarted, Src: []string{sp.StatusBound, sp.StatusBinding}, Dst: sp.StatusUnbinding},
	{Name: EventUnbindCompleted, Src: []string{sp.StatusUnbinding}, Dst: sp.StatusStarted},
	{Name: EventStopped, Src: []string{sp.StatusStarted, sp.StatusBinding, sp.StatusBound, sp.StatusUnbinding}, Dst: sp.StatusStopped},
	{Name: EventRestarted, Src: []string{sp.StatusStopped}, Dst: sp.StatusStarted},
}

// ApplyTransition validates the lifecycle event against the current status
// and returns the destination status.
func ApplyTransition(current, event string) (string, error) {
	machine := loopfsm.NewFSM(current, lifecycleEvents, nil)
	if err := machine.Event(context.Background(), event); err != nil {
		// the library reports a valid self-transition (src == dst) as
		// NoTransitionError; the event was accepted and the state stands
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return machine.Current(), nil
		}
		var invalidEvent loopfsm.InvalidEventError
		if errors.As(err, &invalidEvent) {
			return "", fmt.Errorf("invalid lifecycle transition %q from %q", event, current)
		}
		return "", err
	}
	return machine.Current(), nil
}
