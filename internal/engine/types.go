package engine

import (
	"eventmanager/internal/config"
)

// Outcome is the result of one supervised execution.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "fail"
	case OutcomeTimedOut:
		return "timeout"
	default:
		return "unknown"
	}
}

// Instance is one queued firing: an event template bound to the
// substitution mapping extracted from the trigger match or cron firing.
// Instances are immutable values, consumed by exactly one worker.
type Instance struct {
	Event   *config.EventItem
	Mapping map[string]string
}

// Command resolves the instance's command string.
func (in Instance) Command() string {
	return SafeSubstitute(in.Event.Process, in.Mapping)
}

// nextEvent resolves the follow-up event name for an outcome.
// A timed-out execution never chains.
func nextEvent(o Outcome, ev *config.EventItem) (string, bool) {
	switch o {
	case OutcomeSuccess:
		if ev.Success != "" {
			return ev.Success, true
		}
	case OutcomeFailure:
		if ev.Fail != "" {
			return ev.Fail, true
		}
	}
	return "", false
}
