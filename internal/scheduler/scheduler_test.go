package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/events"
)

// stubJob counts runs and optionally fails or blocks on a gate.
type stubJob struct {
	name string
	err  error
	runs atomic.Int32
	gate chan struct{}
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) Run() error {
	j.runs.Add(1)
	if j.gate != nil {
		<-j.gate
	}
	return j.err
}

// eventCapture records bus events. The bus delivers synchronously, so
// once a job call returns its events are settled.
type eventCapture struct {
	mu     sync.Mutex
	events []events.Event
}

func captureEvents(bus *events.Bus, types ...events.EventType) *eventCapture {
	c := &eventCapture{}
	for _, typ := range types {
		bus.Subscribe(typ, func(ev *events.Event) {
			c.mu.Lock()
			c.events = append(c.events, *ev)
			c.mu.Unlock()
		})
	}
	return c
}

func (c *eventCapture) ofType(t events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []events.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func setupScheduler(t *testing.T) (*Scheduler, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	manager := events.NewManager(bus, zerolog.Nop())
	return New(manager, zerolog.Nop()), bus
}

func TestScheduler_RunNow(t *testing.T) {
	s, bus := setupScheduler(t)
	capture := captureEvents(bus, events.JobStarted, events.JobCompleted, events.JobFailed)

	job := &stubJob{name: "refresh_scores"}
	require.NoError(t, s.AddJob("0 3 * * *", job))

	require.NoError(t, s.RunNow("refresh_scores"))
	assert.Equal(t, int32(1), job.runs.Load())

	started := capture.ofType(events.JobStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "refresh_scores", started[0].Data["job_name"])
	assert.Equal(t, "started", started[0].Data["status"])

	completed := capture.ofType(events.JobCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "refresh_scores", completed[0].Data["job_name"])
	assert.Equal(t, "completed", completed[0].Data["status"])

	assert.Empty(t, capture.ofType(events.JobFailed))
}

func TestScheduler_RunNow_UnknownJob(t *testing.T) {
	s, _ := setupScheduler(t)

	err := s.RunNow("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

func TestScheduler_RunNow_FailureEmitsJobFailed(t *testing.T) {
	s, bus := setupScheduler(t)
	capture := captureEvents(bus, events.JobCompleted, events.JobFailed)

	job := &stubJob{name: "backup", err: fmt.Errorf("disk full")}
	require.NoError(t, s.AddJob("0 4 * * *", job))

	err := s.RunNow("backup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	failed := capture.ofType(events.JobFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "backup", failed[0].Data["job_name"])
	assert.Equal(t, "failed", failed[0].Data["status"])
	assert.Equal(t, "disk full", failed[0].Data["error"])

	assert.Empty(t, capture.ofType(events.JobCompleted))
}

func TestScheduler_AddJob_RejectsBadSchedules(t *testing.T) {
	s, _ := setupScheduler(t)

	// Six-field specs belong to the seconds-aware parser, not this one.
	for _, spec := range []string{"not a cron", "0 0 * * * *", ""} {
		err := s.AddJob(spec, &stubJob{name: "tick"})
		require.Error(t, err, "expected %q to be rejected", spec)
	}
	assert.Empty(t, s.Jobs())
}

func TestScheduler_AddJob_DuplicateName(t *testing.T) {
	s, _ := setupScheduler(t)

	require.NoError(t, s.AddJob("0 3 * * *", &stubJob{name: "cleanup"}))
	err := s.AddJob("0 4 * * *", &stubJob{name: "cleanup"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestScheduler_Reschedule(t *testing.T) {
	s, _ := setupScheduler(t)

	job := &stubJob{name: "cleanup"}
	require.NoError(t, s.AddJob("0 * * * *", job))

	require.NoError(t, s.Reschedule("cleanup", "30 * * * *"))
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "30 * * * *", jobs[0].Schedule)

	// A bad spec leaves the old schedule in place.
	require.Error(t, s.Reschedule("cleanup", "bad"))
	assert.Equal(t, "30 * * * *", s.Jobs()[0].Schedule)

	// Same spec is a no-op.
	require.NoError(t, s.Reschedule("cleanup", "30 * * * *"))

	require.Error(t, s.Reschedule("ghost", "0 * * * *"))
}

func TestScheduler_OverlappingRunSkipped(t *testing.T) {
	s, _ := setupScheduler(t)

	job := &stubJob{name: "slow", gate: make(chan struct{})}
	require.NoError(t, s.AddJob("0 3 * * *", job))

	done := make(chan error, 1)
	go func() { done <- s.RunNow("slow") }()

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Running)

	err := s.RunNow("slow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	close(job.gate)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_Trigger(t *testing.T) {
	s, _ := setupScheduler(t)

	require.Error(t, s.Trigger("ghost"))

	job := &stubJob{name: "backup"}
	require.NoError(t, s.AddJob("0 4 * * *", job))

	require.NoError(t, s.Trigger("backup"))
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_StartRunsOnSchedule(t *testing.T) {
	s, _ := setupScheduler(t)

	job := &stubJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 10ms", job))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_JobsSortedByName(t *testing.T) {
	s, _ := setupScheduler(t)

	require.NoError(t, s.AddJob("0 3 * * *", &stubJob{name: "refresh_scores"}))
	require.NoError(t, s.AddJob("0 * * * *", &stubJob{name: "cleanup"}))
	require.NoError(t, s.AddJob("0 4 * * *", &stubJob{name: "backup"}))

	jobs := s.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "backup", jobs[0].Name)
	assert.Equal(t, "cleanup", jobs[1].Name)
	assert.Equal(t, "refresh_scores", jobs[2].Name)
	assert.Equal(t, "0 4 * * *", jobs[0].Schedule)
	assert.False(t, jobs[0].Running)
}

func TestScheduler_NilEventsIsSafe(t *testing.T) {
	s := New(nil, zerolog.Nop())

	job := &stubJob{name: "tick"}
	require.NoError(t, s.AddJob("0 3 * * *", job))
	require.NoError(t, s.RunNow("tick"))
	assert.Equal(t, int32(1), job.runs.Load())
}
