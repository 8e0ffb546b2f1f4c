package model

import "time"

// Layout is a displayable document. Its Elements are opaque to the core
// and forwarded verbatim in DisplayUpdate.
type Layout struct {
	ID       string
	Name     string
	Resolution string
	Elements map[string]interface{}
	Tags     []string
	Category string
	Version  int
	Created  time.Time
	Modified time.Time
}

// Weekday mirrors time.Weekday but with Monday first, matching a
// Schedule's DaysOfWeek subset of {Mon..Sun}.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// FromTime converts a time.Time's weekday into our Monday-first Weekday.
func FromTime(t time.Time) Weekday {
	switch t.Weekday() {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	default:
		return Sunday
	}
}

// Schedule binds a Layout to a Client or a group for a time window.
type Schedule struct {
	ID          string
	Name        string
	LayoutID    string
	ClientID    *string // exactly one of ClientID/ClientGroup is set
	ClientGroup *string
	Priority    int
	StartTime   TimeOfDay
	EndTime     TimeOfDay
	DaysOfWeek  map[Weekday]bool
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	IsActive    bool
	Modified    time.Time
}

// TimeOfDay is a wall-clock HH:MM, compared at minute grain: a schedule
// ending at 17:00 is considered inactive at 17:00:00 — end is exclusive at
// the minute grain.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// InRangeInclusiveStartExclusiveEnd reports whether now falls in
// [t, end) at minute grain.
func (t TimeOfDay) InRangeInclusiveStartExclusiveEnd(now, end TimeOfDay) bool {
	m := now.minutes()
	return m >= t.minutes() && m < end.minutes()
}

// TargetsClient reports whether this schedule applies to a given client,
// directly or via group membership.
func (s *Schedule) TargetsClient(clientID, clientGroup string) bool {
	if s.ClientID != nil {
		return *s.ClientID == clientID
	}
	if s.ClientGroup != nil {
		return *s.ClientGroup == clientGroup
	}
	return false
}

// EligibleOn reports whether the schedule is in its valid date range and
// runs on the given weekday, leaving the time-of-day check for Scheduler
// to do separately against the current minute.
func (s *Schedule) EligibleOn(day time.Time) bool {
	if !s.IsActive {
		return false
	}
	today := dateOnly(day)
	if s.ValidFrom != nil && today.Before(dateOnly(*s.ValidFrom)) {
		return false
	}
	if s.ValidUntil != nil && today.After(dateOnly(*s.ValidUntil)) {
		return false
	}
	return s.DaysOfWeek[FromTime(day)]
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
