package core

import "time"

// WindowActive reports whether an activation window contains now. Bounds are
// inclusive on both ends; a nil bound leaves that side of the window open.
func WindowActive(start, end *time.Time, now time.Time) bool {
	if start != nil && now.Before(*start) {
		return false
	}
	if end != nil && now.After(*end) {
		return false
	}
	return true
}
