package types

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a background agent run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// AgentRun records one launch of a background task, scheduled or ad hoc.
// Runs left in RunRunning past the stale threshold are failed by recovery
// so a crash mid-task never wedges the scheduler.
type AgentRun struct {
	ID string `json:"id"`

	// ScheduleID is set when the run was launched by a schedule.
	ScheduleID *string `json:"schedule_id,omitempty"`

	// SessionID is set when the run produced or operated on a session.
	SessionID *string `json:"session_id,omitempty"`

	Task   string    `json:"task"`
	Status RunStatus `json:"status"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Result       string `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewAgentRun builds a running agent run stamped now.
func NewAgentRun(task string) *AgentRun {
	return &AgentRun{
		ID:        uuid.New().String(),
		Task:      task,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Schedule is a recurring background task definition. The processor launches
// due schedules as agent runs and advances NextRunAt; executing the task
// itself belongs to the agent layer.
type Schedule struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Task string `json:"task" yaml:"task"`

	IntervalSeconds int  `json:"interval_seconds" yaml:"interval_seconds"`
	Enabled         bool `json:"enabled" yaml:"enabled"`

	LastRunAt *time.Time `json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at" yaml:"next_run_at"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}

// Due reports whether the schedule should launch at the given instant.
func (s *Schedule) Due(now time.Time) bool {
	return s.Enabled && !s.NextRunAt.After(now)
}

// Advance records a launch at the given instant and moves NextRunAt forward
// by the schedule interval.
func (s *Schedule) Advance(now time.Time) {
	t := now
	s.LastRunAt = &t
	s.NextRunAt = now.Add(time.Duration(s.IntervalSeconds) * time.Second)
}
