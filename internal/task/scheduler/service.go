package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "iranfinance/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Tehran"; empty means Local
}

// Job is one scheduled unit of work. ctx is canceled on Stop or when the
// schedule timeout elapses.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name       string
	spec       string // cron spec or @every
	every      time.Duration
	firstDelay time.Duration
	timeout    time.Duration
	job        Job
	entryID    cron.EntryID
	stats      *runStats
}

type runStats struct {
	mu       sync.Mutex
	runs     uint64
	failures uint64
	lastErr  string
	lastDur  time.Duration
	lastRun  time.Time
}

// Service triggers jobs on cron or fixed-interval schedules. A job that is
// still running when its next trigger fires is skipped, never queued.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	ctxMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// AddSchedule parses schedule (see ParseSchedule) and registers the job,
// replacing any schedule with the same name.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, 0, timeout, job)
	default:
		return fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	return s.add(&scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
}

// AddInterval runs job every interval. The first run happens firstDelay after
// the scheduler starts, or one full interval later when firstDelay is zero.
func (s *Service) AddInterval(name string, every, firstDelay, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.add(&scheduleDef{
		name:       name,
		spec:       "@every " + every.String(),
		every:      every,
		firstDelay: firstDelay,
		timeout:    timeout,
		job:        job,
	})
}

func (s *Service) add(d *scheduleDef) error {
	if strings.TrimSpace(d.name) == "" {
		return errors.New("name required")
	}
	if d.job == nil {
		return errors.New("job required")
	}
	d.stats = &runStats{}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so hot-reloads never duplicate a schedule.
	s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	s.registerLocked(d)
	s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec), logx.Duration("timeout", d.timeout))
	return nil
}

// Remove unregisters name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(strings.TrimSpace(name))
	if ok {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return ok
}

func (s *Service) removeLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) registerLocked(d *scheduleDef) {
	job := s.wrap(d)
	if d.every > 0 {
		d.entryID = s.c.Schedule(newIntervalSchedule(d.every, d.firstDelay, time.Now().In(s.loc)), job)
		return
	}
	// Specs were validated on add.
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = eid
}

// wrap turns d into a cron job: skip if still running, recover panics,
// bound by the schedule timeout and canceled on Stop.
func (s *Service) wrap(d *scheduleDef) cron.Job {
	cl := cronLogger{log: s.log.With(logx.String("schedule", d.name))}
	run := cron.FuncJob(func() {
		s.ctxMu.Lock()
		parent := s.runCtx
		s.ctxMu.Unlock()
		if parent == nil || parent.Err() != nil {
			return
		}
		ctx := parent
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, d.timeout)
			defer cancel()
		}

		start := time.Now()
		err := d.job(ctx)
		dur := time.Since(start)

		d.stats.mu.Lock()
		d.stats.runs++
		d.stats.lastRun = start
		d.stats.lastDur = dur
		d.stats.lastErr = ""
		if err != nil {
			d.stats.failures++
			d.stats.lastErr = err.Error()
		}
		d.stats.mu.Unlock()

		if err != nil && parent.Err() == nil {
			s.log.Warn("scheduled job failed", logx.String("schedule", d.name), logx.Duration("took", dur), logx.Err(err))
			return
		}
		s.log.Debug("scheduled job done", logx.String("schedule", d.name), logx.Duration("took", dur))
	})
	return cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(run)
}

// Apply swaps the config; a timezone change re-registers every schedule.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	// Runs already in flight finish on their own.
	s.c.Stop()
	s.startCronLocked()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
}

// Start begins triggering. Jobs get contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctxMu.Lock()
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.ctxMu.Unlock()
	s.startCronLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering, cancels running jobs and waits for them until ctx
// is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	s.ctxMu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.ctxMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger feeds robfig/cron's chain wrappers into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
