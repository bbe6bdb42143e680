package scheduler

import "time"

type ScheduleInfo struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Failures uint64
	LastErr  string
	LastDur  time.Duration
	LastRun  time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defs := append([]*scheduleDef(nil), s.defs...)
	c := s.c
	loc := s.loc
	s.mu.Unlock()

	out := Snapshot{Running: c != nil, Timezone: time.Local.String()}
	if loc != nil {
		out.Timezone = loc.String()
	}
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		d.stats.mu.Lock()
		it.Runs = d.stats.runs
		it.Failures = d.stats.failures
		it.LastErr = d.stats.lastErr
		it.LastDur = d.stats.lastDur
		it.LastRun = d.stats.lastRun
		d.stats.mu.Unlock()
		out.Schedules = append(out.Schedules, it)
	}
	return out
}
