package scheduler

import (
	"fmt"
	"time"
)

// Schedule determines when a job should run next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// dailySchedule runs once per day at hour:minute in the location of from.
type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

// EveryInterval runs a job every d, counted from the previous planned run.
func EveryInterval(d time.Duration) (Schedule, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
	}
	return intervalSchedule{every: d}, nil
}

// DailyAt runs a job once a day at hour:minute.
func DailyAt(hour, minute int) (Schedule, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("%w: %02d:%02d is not a time of day", ErrInvalidSchedule, hour, minute)
	}
	return dailySchedule{hour: hour, minute: minute}, nil
}

// HourlyAt runs a job every hour at the given minute.
func HourlyAt(minute int) (Schedule, error) {
	if minute < 0 || minute > 59 {
		return nil, fmt.Errorf("%w: minute %d out of range", ErrInvalidSchedule, minute)
	}
	return hourlySchedule{minute: minute}, nil
}
