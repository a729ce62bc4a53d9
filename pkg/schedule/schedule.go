package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run time after a given instant.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule runs at fixed intervals.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// dailySchedule runs at a specific time each day, in UTC.
type dailySchedule struct {
	hour   int
	minute int
}

// Daily creates a schedule that runs at a specific UTC time each day.
func Daily(hour, minute int) Schedule {
	return &dailySchedule{hour: hour, minute: minute}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.UTC()
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// cronSchedule wraps a standard five-field cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

// Cron creates a schedule from a cron expression. Panics on an invalid
// expression, since schedules are wired at startup from static config.
func Cron(expr string) Schedule {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		panic("invalid cron expression: " + err.Error())
	}
	return &cronSchedule{schedule: sched}
}

// ParseCron creates a schedule from a cron expression, returning the parse
// error instead of panicking. Used when the expression comes from config.
func ParseCron(expr string) (Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &cronSchedule{schedule: sched}, nil
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}
