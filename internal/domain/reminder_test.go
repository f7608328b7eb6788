package domain

import (
	"testing"
	"time"
)

func TestReminderDueAt(t *testing.T) {
	t.Parallel()

	// 2025-06-02 is a Monday.
	monday := time.Date(2025, 6, 2, 8, 0, 0, 0, time.Local)

	tests := []struct {
		name     string
		reminder Reminder
		now      time.Time
		want     bool
	}{
		{
			name:     "one-shot due at its minute",
			reminder: Reminder{RemindTime: "08:00", RepeatType: RepeatNone},
			now:      monday,
			want:     true,
		},
		{
			name:     "one-shot wrong minute",
			reminder: Reminder{RemindTime: "08:30", RepeatType: RepeatNone},
			now:      monday,
			want:     false,
		},
		{
			name:     "one-shot already delivered",
			reminder: Reminder{RemindTime: "08:00", RepeatType: RepeatNone, Delivered: true},
			now:      monday,
			want:     false,
		},
		{
			name:     "one-shot bound to another date",
			reminder: Reminder{RemindTime: "08:00", RepeatType: RepeatNone, Date: "2025-06-03"},
			now:      monday,
			want:     false,
		},
		{
			name:     "daily fires every day",
			reminder: Reminder{RemindTime: "08:00", RepeatType: RepeatDaily},
			now:      monday,
			want:     true,
		},
		{
			name:     "daily does not refire same day",
			reminder: Reminder{RemindTime: "08:00", RepeatType: RepeatDaily, LastFired: "2025-06-02"},
			now:      monday,
			want:     false,
		},
		{
			name:     "weekly on matching weekday",
			reminder: Reminder{RemindTime: "08:00", RepeatType: RepeatWeekly, Weekdays: []int{1, 3}},
			now:      monday,
			want:     true,
		},
		{
			name:     "weekly on non-matching weekday",
			reminder: Reminder{RemindTime: "08:00", RepeatType: RepeatWeekly, Weekdays: []int{2}},
			now:      monday,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.reminder.DueAt(tt.now); got != tt.want {
				t.Errorf("DueAt() = %v, want %v", got, tt.want)
			}
		})
	}
}
