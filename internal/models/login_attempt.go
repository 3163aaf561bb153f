package models

import "time"

// AttemptRecord is the sliding-window state of one rate-limit key.
type AttemptRecord struct {
	Key      string
	Attempts []time.Time // oldest first
}

// Prune drops attempts at or before cutoff. Attempts are ordered, so this
// only scans the expired prefix.
func (r *AttemptRecord) Prune(cutoff time.Time) {
	i := 0
	for i < len(r.Attempts) && !r.Attempts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.Attempts = append(r.Attempts[:0], r.Attempts[i:]...)
	}
}

// Empty reports whether the window holds no attempts.
func (r *AttemptRecord) Empty() bool {
	return len(r.Attempts) == 0
}
