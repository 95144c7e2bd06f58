package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pricewatch/internal/eventbus"
	logx "pricewatch/pkg/logx"
)

// AddSchedule parses schedule (see ParseSchedule) and registers job under
// name, replacing any job with the same name.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == SpecInterval {
		return s.AddInterval(name, ps.Every, timeout, job)
	}
	return s.AddCron(name, ps.Cron, timeout, job)
}

// Validate reports whether schedule would be accepted by AddSchedule.
func (s *Service) Validate(schedule string) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == SpecInterval {
		if ps.Every <= 0 {
			return errors.New("interval must be > 0")
		}
		return nil
	}
	_, err = s.parser.Parse(ps.Cron)
	return err
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return s.add(name, spec, timeout, job)
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("schedule %s: interval must be > 0", name)
	}
	return s.add(name, "@every "+every.String(), timeout, job)
}

func (s *Service) add(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &jobDef{name: name, spec: spec, timeout: timeout, run: job, state: &RunState{}}
	if old := s.findLocked(name); old != nil {
		// Keep the run state so a replaced job cannot overlap its predecessor.
		d.state = old.state
		s.removeLocked(name)
	}
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return nil
}

// Remove unschedules name. It reports whether a job was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
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

func (s *Service) findLocked(name string) *jobDef {
	for _, d := range s.defs {
		if d.name == name {
			return d
		}
	}
	return nil
}

// RunNow starts name immediately in the background. It returns
// ErrAlreadyRunning when a run is in flight.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	d := s.findLocked(strings.TrimSpace(name))
	if d == nil {
		s.mu.Unlock()
		return ErrUnknownJob
	}
	if s.c == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if !d.state.tryAcquire() {
		s.mu.Unlock()
		s.noteSkip(d, "manual")
		return ErrAlreadyRunning
	}
	s.manual.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.manual.Done()
		defer d.state.release()
		s.execute(d, "manual")
	}()
	return nil
}

func (s *Service) addCronLocked(d *jobDef) error {
	job := cron.FuncJob(func() { s.trigger(d) })
	if every, ok := parseEvery(d.spec); ok {
		d.entryID = s.c.Schedule(s.intervalSchedule(every), job)
		return nil
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func parseEvery(spec string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(spec), "@every")
	if !ok {
		return 0, false
	}
	every, err := time.ParseDuration(strings.TrimSpace(rest))
	if err != nil || every <= 0 {
		return 0, false
	}
	return every, true
}

// trigger runs on cron's goroutine. An overlapping fire is skipped.
func (s *Service) trigger(d *jobDef) {
	if !d.state.tryAcquire() {
		s.noteSkip(d, "schedule")
		return
	}
	defer d.state.release()
	s.execute(d, "schedule")
}

func (s *Service) noteSkip(d *jobDef, trigger string) {
	d.smu.Lock()
	d.skips++
	d.smu.Unlock()
	s.log.Debug("job skipped; previous run still in flight", logx.String("job", d.name), logx.String("trigger", trigger))
	if s.bus != nil {
		now := time.Now()
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobSkipped, Time: now, Data: JobEvent{Name: d.name, Trigger: trigger, At: now}})
	}
}

func (s *Service) execute(d *jobDef, trigger string) {
	s.rmu.RLock()
	parent := s.runCtx
	timeout := d.timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	s.rmu.RUnlock()
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := runSafe(ctx, d.run)
	dur := time.Since(start)

	d.smu.Lock()
	d.runs++
	d.lastStart = start
	d.lastDur = dur
	d.lastErr = ""
	if err != nil {
		d.failures++
		d.lastErr = err.Error()
	}
	d.smu.Unlock()

	h := HistoryItem{Name: d.name, Trigger: trigger, Started: start, Duration: dur}
	if err != nil {
		h.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", d.name), logx.String("trigger", trigger), logx.Duration("took", dur), logx.Err(err))
	} else {
		s.log.Debug("job done", logx.String("job", d.name), logx.String("trigger", trigger), logx.Duration("took", dur))
	}
	s.appendHistory(h)
}

func runSafe(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

func (s *Service) appendHistory(h HistoryItem) {
	s.rmu.RLock()
	limit := s.cfg.HistorySize
	s.rmu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	s.hmu.Lock()
	s.history = append(s.history, h)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

// intervalSchedule spreads the first run of an interval job so jobs
// registered together do not all fire on the same second.
func (s *Service) intervalSchedule(every time.Duration) cron.Schedule {
	base := cron.Every(every)
	spread := s.cfg.StartupSpread
	if spread > every {
		spread = every
	}
	if spread <= 0 {
		return base
	}
	first := time.Now().Add(every + time.Duration(rand.Int63n(int64(spread))))
	return &spreadSchedule{base: base, first: first}
}

type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// previewNextRunsLocked lists the next n fire times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if t = sched.Next(t); t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}
