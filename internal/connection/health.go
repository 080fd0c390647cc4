package connection

import (
	"time"

	"github.com/g960059/qsyspanel/internal/config"
	"github.com/g960059/qsyspanel/internal/model"
)

type HealthState struct {
	Current              model.ConnectionHealth
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransitionAt     time.Time
}

// NextHealth folds one connection outcome into the health state. A lost
// session or failed dial counts as a failure; an established session as a success.
func NextHealth(cfg config.Config, state HealthState, success bool, now time.Time) HealthState {
	if state.Current == "" {
		state.Current = model.ConnectionHealthOK
	}
	if state.LastTransitionAt.IsZero() {
		state.LastTransitionAt = now
	}

	if success {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		if state.Current != model.ConnectionHealthOK && state.ConsecutiveSuccesses >= cfg.HealthRecoverSuccesses {
			state.Current = model.ConnectionHealthOK
			state.LastTransitionAt = now
		}
		return state
	}

	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0
	switch state.Current {
	case model.ConnectionHealthOK:
		state.Current = model.ConnectionHealthDegraded
		state.LastTransitionAt = now
	case model.ConnectionHealthDegraded:
		if now.Sub(state.LastTransitionAt) > cfg.HealthDownWindow {
			// window expired; this failure opens a new one
			state.ConsecutiveFailures = 1
			state.LastTransitionAt = now
			return state
		}
		if state.ConsecutiveFailures >= cfg.HealthDownFailures {
			state.Current = model.ConnectionHealthDown
			state.LastTransitionAt = now
		}
	case model.ConnectionHealthDown:
	}
	return state
}
