package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle tag of a scheduled instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// ParseStatus maps a wire value onto the closed status set. Case-insensitive.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusIncomplete:
		return StatusIncomplete, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// TaskDefinition is one recurring chore from the catalog. Effort 0 marks a
// mandatory task assigned by rotation regardless of budget. An empty
// AllowedDays means the task may run on any weekday.
type TaskDefinition struct {
	ID           int      `yaml:"id" json:"task_id"`
	Name         string   `yaml:"name" json:"name"`
	DaysInterval int      `yaml:"days_interval" json:"days_interval"`
	Effort       int      `yaml:"effort" json:"effort"`
	AllowedDays  []string `yaml:"allowed_days" json:"allowed_days,omitempty"`
}

// Mandatory reports whether the task is exempt from budget checks.
func (t TaskDefinition) Mandatory() bool { return t.Effort == 0 }

// AllowedOn reports whether the task may be scheduled on the given weekday tag.
func (t TaskDefinition) AllowedOn(day string) bool {
	if len(t.AllowedDays) == 0 {
		return true
	}
	for _, d := range t.AllowedDays {
		if d == day {
			return true
		}
	}
	return false
}

// UserProfile is one household member with a per-weekday effort budget.
// Roster order matters: it is the tie-break order for both the mandatory
// round-robin and effort first-fit.
type UserProfile struct {
	ID                   int            `yaml:"id" json:"user_id"`
	Username             string         `yaml:"username" json:"username"`
	AvailableDailyEffort map[string]int `yaml:"available_daily_effort" json:"available_daily_effort"`
}

// BudgetOn returns the user's effort budget for a weekday tag, zero when the
// day is absent from the profile.
func (u UserProfile) BudgetOn(day string) int {
	return u.AvailableDailyEffort[day]
}

// ScheduledInstance is one persisted assignment of a task to a user on a
// date. Task and user are referenced by id only; the catalog and roster are
// never persisted.
type ScheduledInstance struct {
	ID            int64
	TaskID        int
	UserID        int
	ScheduledDate time.Time
	Status        Status
}

// DateFormat is the date-only layout used for persisted scheduled dates.
const DateFormat = "2006-01-02"

var weekdayTags = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// WeekdayTag returns the lowercase three-letter tag for t's weekday.
func WeekdayTag(t time.Time) string { return weekdayTags[t.Weekday()] }

// ValidWeekdayTag reports whether s is one of mon..sun.
func ValidWeekdayTag(s string) bool {
	for _, tag := range weekdayTags {
		if s == tag {
			return true
		}
	}
	return false
}

// DateOnly truncates t to midnight UTC so dates compare and persist uniformly.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
