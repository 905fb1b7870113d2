// Package scheduler runs background jobs on cron schedules pulled from
// settings. Specs are standard five-field cron, the same form the
// settings layer validates on write.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/events"
)

// Job is a named unit of background work.
type Job interface {
	Run() error
	Name() string
}

// JobInfo describes a registered job for the system endpoints.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Running  bool      `json:"running"`
	NextRun  time.Time `json:"next_run"`
	PrevRun  time.Time `json:"prev_run"`
}

type entry struct {
	job      Job
	schedule string
	id       cron.EntryID
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron   *cron.Cron
	events *events.Manager
	log    zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running map[string]bool
}

// New creates a scheduler.
func New(evts *events.Manager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		events:  evts,
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]*entry),
		running: make(map[string]bool),
	}
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job under a cron schedule, e.g. "0 3 * * *".
// Job names are unique.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job already registered: %s", name)
	}

	id, err := s.cron.AddFunc(schedule, func() { _ = s.execute(job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}

	s.entries[name] = &entry{job: job, schedule: schedule, id: id}
	s.log.Info().Str("schedule", schedule).Str("job", name).Msg("Job registered")
	return nil
}

// Reschedule moves a registered job to a new cron schedule. The old
// entry is removed only after the new spec parses.
func (s *Scheduler) Reschedule(name, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("unknown job: %s", name)
	}
	if e.schedule == schedule {
		return nil
	}

	id, err := s.cron.AddFunc(schedule, func() { _ = s.execute(e.job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	s.cron.Remove(e.id)
	e.id = id
	e.schedule = schedule

	s.log.Info().Str("schedule", schedule).Str("job", name).Msg("Job rescheduled")
	return nil
}

// RunNow executes a registered job immediately, outside its schedule,
// and returns the job's error.
func (s *Scheduler) RunNow(name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.execute(e.job)
}

// Trigger starts a registered job on a background goroutine. Unknown
// names fail synchronously; the run itself reports through job events.
func (s *Scheduler) Trigger(name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}

	s.log.Info().Str("job", name).Msg("Job triggered")
	go func() { _ = s.execute(e.job) }()
	return nil
}

// Jobs lists the registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		ce := s.cron.Entry(e.id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: e.schedule,
			Running:  s.running[name],
			NextRun:  ce.Next,
			PrevRun:  ce.Prev,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Scheduler) lookup(name string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("unknown job: %s", name)
	}
	return e, nil
}

// execute runs a job with overlap protection and lifecycle events. A
// job still running when its next slot fires is skipped, not queued.
func (s *Scheduler) execute(job Job) error {
	name := job.Name()

	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.log.Warn().Str("job", name).Msg("Job already running, skipping")
		return fmt.Errorf("job already running: %s", name)
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	s.emit(events.JobStarted, &events.JobStatusData{JobName: name, Status: "started"})
	s.log.Debug().Str("job", name).Msg("Running job")

	start := time.Now()
	err := job.Run()
	duration := time.Since(start).Seconds()

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", name).
			Float64("duration_seconds", duration).
			Msg("Job failed")
		s.emit(events.JobFailed, &events.JobStatusData{
			JobName:         name,
			Status:          "failed",
			DurationSeconds: duration,
			Error:           err.Error(),
		})
		return err
	}

	s.log.Debug().
		Str("job", name).
		Float64("duration_seconds", duration).
		Msg("Job completed")
	s.emit(events.JobCompleted, &events.JobStatusData{
		JobName:         name,
		Status:          "completed",
		DurationSeconds: duration,
	})
	return nil
}

func (s *Scheduler) emit(eventType events.EventType, data *events.JobStatusData) {
	if s.events == nil {
		return
	}
	s.events.EmitTyped(eventType, "scheduler", data)
}
