package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the kind of task change an Event describes.
type Stage string

// Supported progress stages.
const (
	StageTaskAdded    Stage = "TASK_ADDED"
	StageTaskGrown    Stage = "TASK_GROWN"
	StageTaskStep     Stage = "TASK_STEP"
	StageTaskFinished Stage = "TASK_FINISHED"
	StageTaskRemoved  Stage = "TASK_REMOVED"
)

// Event is a single tracker change.
type Event struct {
	// RunID identifies the crawl run that emitted the event.
	RunID string
	// TS is the UTC timestamp recorded by the tracker.
	TS time.Time
	// Stage describes what happened to Task.
	Stage Stage
	// Task is the task name.
	Task string
	// Completed and Total are the task's counters after the change.
	Completed int
	Total     int
	// Weight is the task's contribution multiplier.
	Weight int
	// Aggregate is the weighted progress over all tasks after the change.
	Aggregate Info
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Task == "" {
		return errors.New("task is required")
	}
	switch e.Stage {
	case StageTaskAdded, StageTaskGrown, StageTaskStep, StageTaskFinished, StageTaskRemoved:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Completed > e.Total {
		return errors.New("completed must be <= total")
	}
	return nil
}
