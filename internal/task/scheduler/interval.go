package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// intervalSchedule is cron.Every with an overridden first run.
type intervalSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func newIntervalSchedule(every, firstDelay time.Duration, now time.Time) cron.Schedule {
	base := cron.Every(every)
	if firstDelay <= 0 {
		return base
	}
	return &intervalSchedule{base: base, first: now.Add(firstDelay)}
}
