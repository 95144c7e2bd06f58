package domain

import "time"

// IsDue reports whether u should be checked at now.
//
// A user is due when notifications are on, at least one item is tracked,
// and either it was never checked or a full interval has elapsed since the
// last check. The boundary is inclusive.
func IsDue(u User, itemCount int, now time.Time) bool {
	if !u.NotificationsEnabled || itemCount < 1 {
		return false
	}
	if u.LastCheck == nil {
		return true
	}
	return now.Sub(*u.LastCheck) >= time.Duration(u.CheckInterval)*time.Minute
}
