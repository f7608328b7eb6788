package domain

import (
	"slices"
	"time"
)

// Repeat modes for a reminder.
const (
	RepeatNone   = "none"
	RepeatDaily  = "daily"
	RepeatWeekly = "weekly"
)

// Reminder is a scheduled prompt created as a side effect of turn ingestion
// when the user's message matches a reminder pattern.
type Reminder struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	RemindTime string `json:"remind_time"` // "15:04" wall-clock time
	Content    string `json:"content"`
	RepeatType string `json:"repeat_type"`
	// Weekdays lists the firing days for weekly reminders (time.Weekday
	// values, Sunday = 0).
	Weekdays []int  `json:"weekdays,omitempty"`
	Date     string `json:"date,omitempty"` // "2006-01-02", one-shot only
	// LastFired is the "2006-01-02" day of the most recent dispatch. Used
	// to stop repeating reminders from firing twice in one day.
	LastFired string    `json:"last_fired,omitempty"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}

// DueAt reports whether the reminder should fire at now. The dispatcher polls
// on a sub-minute interval, so the match is on the wall-clock minute.
func (r *Reminder) DueAt(now time.Time) bool {
	if now.Format("15:04") != r.RemindTime {
		return false
	}
	today := now.Format("2006-01-02")
	if r.LastFired == today {
		return false
	}
	switch r.RepeatType {
	case RepeatDaily:
		return true
	case RepeatWeekly:
		return slices.Contains(r.Weekdays, int(now.Weekday()))
	default:
		if r.Delivered {
			return false
		}
		return r.Date == "" || r.Date == today
	}
}
