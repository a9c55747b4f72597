// Package core implements the flag evaluation engine: time window checks,
// typed value casting, and the composition of the two into the externally
// visible flag value. Everything here is pure and safe for concurrent use.
package core

import "time"

// Evaluate resolves the externally visible value of a flag in one
// environment.
//
// A nil state means the flag is not configured for the environment and
// evaluates to null for every type, SWITCH included; "not configured" is a
// distinct state from "inactive". An inactive window forces SWITCH to false
// and every other type to null. An active window casts the stored value,
// which means a flag with an active window and an explicitly null stored
// value is null even for SWITCH. That asymmetry between the inactive and
// active-but-null cases is intentional.
func Evaluate(flagType FlagType, state *EnvironmentState, now time.Time) Value {
	if state == nil {
		return Null()
	}

	if !WindowActive(state.StartDatetime, state.EndDatetime, now) {
		if flagType == TypeSwitch {
			return Bool(false)
		}
		return Null()
	}

	return Cast(state.Value, flagType)
}
