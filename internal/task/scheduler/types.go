package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrAlreadyRunning = errors.New("job already running")
	ErrNotStarted     = errors.New("scheduler not started")
)

type Config struct {
	Timezone       string        // IANA name; empty means Local
	DefaultTimeout time.Duration // per-run bound when a job has none; 0 means 5m
	HistorySize    int           // 0 means 100
	// StartupSpread delays the first run of interval jobs by a random
	// amount up to this value (capped at the interval). 0 disables it.
	StartupSpread time.Duration
}

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

// RunState admits one run at a time.
type RunState struct {
	mu      sync.Mutex
	running bool
}

func (s *RunState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *RunState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	run     Job
	entryID cron.EntryID
	state   *RunState

	smu       sync.Mutex
	runs      uint64
	skips     uint64
	failures  uint64
	lastStart time.Time
	lastDur   time.Duration
	lastErr   string
}

type ScheduleInfo struct {
	Name         string        `json:"name"`
	Spec         string        `json:"spec"`
	Timeout      time.Duration `json:"timeout"`
	Next         time.Time     `json:"next,omitempty"`
	Prev         time.Time     `json:"prev,omitempty"`
	Running      bool          `json:"running"`
	Runs         uint64        `json:"runs"`
	Skips        uint64        `json:"skips"`
	Failures     uint64        `json:"failures"`
	LastStart    time.Time     `json:"last_start,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

type HistoryItem struct {
	Name     string        `json:"name"`
	Trigger  string        `json:"trigger"` // "schedule" or "manual"
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Snapshot struct {
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	History   []HistoryItem  `json:"history"`
}

// JobEvent is the Data of job.skipped bus events.
type JobEvent struct {
	Name    string    `json:"name"`
	Trigger string    `json:"trigger"`
	At      time.Time `json:"at"`
}
