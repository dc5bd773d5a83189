package session_test

import (
	"testing"

	"github.com/kelvradu/smppgate/internal/session"
	"github.com/kelvradu/smppgate/internal/sp"
)

func TestApplyTransitionValid(t *testing.T) {
	tests := []struct {
		from  string
		event string
		want  string
	}{
		{sp.StatusStarted, session.EventBindStarted, sp.StatusBinding},
		{sp.StatusUnbinding, session.EventBindStarted, sp.StatusBinding},
		{sp.StatusBinding, session.EventBindConfirmed, sp.StatusBound},
		{sp.StatusBound, session.EventBindConfirmed, sp.StatusBound},
		{sp.StatusBound, session.EventUnbindStarted, sp.StatusUnbinding},
		{sp.StatusBinding, session.EventUnbindStarted, sp.StatusUnbinding},
		{sp.StatusUnbinding, session.EventUnbindCompleted, sp.StatusStarted},
		{sp.StatusBound, session.EventStopped, sp.StatusStopped},
		{sp.StatusStarted, session.EventStopped, sp.StatusStopped},
		{sp.StatusStopped, session.EventRestarted, sp.StatusStarted},
	}
	for _, tt := range tests {
		got, err := session.ApplyTransition(tt.from, tt.event)
		if err != nil {
			t.Errorf("ApplyTransition(%q, %q) unexpected error: %v", tt.from, tt.event, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ApplyTransition(%q, %q) = %q, want %q", tt.from, tt.event, got, tt.want)
		}
	}
}

func TestApplyTransitionInvalid(t *testing.T) {
	tests := []struct {
		from  string
		event string
	}{
		{sp.StatusStarted, session.EventBindConfirmed},
		{sp.StatusStarted, session.EventUnbindCompleted},
		{sp.StatusStopped, session.EventBindStarted},
		{sp.StatusBound, session.EventRestarted},
	}
	for _, tt := range tests {
		if _, err := session.ApplyTransition(tt.from, tt.event); err == nil {
			t.Errorf("ApplyTransition(%q, %q) expected error", tt.from, tt.event)
		}
	}
}
