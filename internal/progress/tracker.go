package progress

import (
	"fmt"
	"sync"
	"time"
)

// Info is a completed/total pair.
type Info struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Ratio returns Completed/Total, or 0 when nothing is registered.
func (i Info) Ratio() float64 {
	if i.Total == 0 {
		return 0
	}
	return float64(i.Completed) / float64(i.Total)
}

// String renders the pair as "completed/total ≈ pct%".
func (i Info) String() string {
	return fmt.Sprintf("%d/%d ≈ %.0f%%", i.Completed, i.Total, i.Ratio()*100)
}

// Hook observes aggregate progress after every change.
type Hook func(aggregate Info, change string)

// Task is a snapshot of one tracked task.
type Task struct {
	Name      string `json:"name"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Weight    int    `json:"weight"`
}

// Snapshot is the tracker state at one point in time.
type Snapshot struct {
	Aggregate Info   `json:"aggregate"`
	Tasks     []Task `json:"tasks"`
}

type task struct {
	total     int
	completed int
	weight    int
}

// Tracker maintains named weighted tasks. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	tasks   map[string]*task
	order   []string
	hook    Hook
	emitter Emitter
	runID   string
	now     func() time.Time
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithHook installs the aggregate progress callback.
func WithHook(h Hook) TrackerOption {
	return func(t *Tracker) { t.hook = h }
}

// WithEmitter forwards every change as an Event.
func WithEmitter(e Emitter, runID string) TrackerOption {
	return func(t *Tracker) {
		t.emitter = e
		t.runID = runID
	}
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		tasks: make(map[string]*task),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddTask registers name with the given total and weight. Re-registering keeps
// the completed count and never lowers the total.
func (t *Tracker) AddTask(name string, total, weight int) {
	if t == nil {
		return
	}
	if weight <= 0 {
		weight = 1
	}
	if total < 0 {
		total = 0
	}
	t.mu.Lock()
	tk := t.lookup(name)
	tk.weight = weight
	tk.total = max(total, tk.total, tk.completed)
	evt := t.eventLocked(StageTaskAdded, name, tk)
	t.mu.Unlock()
	t.notify(evt, fmt.Sprintf("added task %s (total %d, weight %d)", name, total, weight))
}

// IncreaseTotalStepsBy grows a task, creating it when absent.
func (t *Tracker) IncreaseTotalStepsBy(name string, delta int) {
	if t == nil || delta <= 0 {
		return
	}
	t.mu.Lock()
	tk := t.lookup(name)
	tk.total += delta
	evt := t.eventLocked(StageTaskGrown, name, tk)
	t.mu.Unlock()
	t.notify(evt, fmt.Sprintf("%s grew by %d", name, delta))
}

// IncreaseCompletedSteps completes one step of name.
func (t *Tracker) IncreaseCompletedSteps(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	tk := t.lookup(name)
	tk.completed++
	if tk.completed > tk.total {
		tk.total = tk.completed
	}
	evt := t.eventLocked(StageTaskStep, name, tk)
	t.mu.Unlock()
	t.notify(evt, fmt.Sprintf("%s %d/%d", name, evt.Completed, evt.Total))
}

// FinishTask marks every step of name as completed.
func (t *Tracker) FinishTask(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	tk := t.lookup(name)
	tk.completed = tk.total
	evt := t.eventLocked(StageTaskFinished, name, tk)
	t.mu.Unlock()
	t.notify(evt, "finished "+name)
}

// RemoveTask drops name from the aggregate.
func (t *Tracker) RemoveTask(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	tk, ok := t.tasks[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.tasks, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	evt := t.eventLocked(StageTaskRemoved, name, tk)
	t.mu.Unlock()
	t.notify(evt, "removed "+name)
}

// Progress returns the weighted aggregate.
func (t *Tracker) Progress() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aggregateLocked()
}

// Snapshot returns the aggregate and every task in registration order.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{Aggregate: t.aggregateLocked(), Tasks: make([]Task, 0, len(t.order))}
	for _, name := range t.order {
		tk := t.tasks[name]
		snap.Tasks = append(snap.Tasks, Task{Name: name, Completed: tk.completed, Total: tk.total, Weight: tk.weight})
	}
	return snap
}

func (t *Tracker) lookup(name string) *task {
	tk, ok := t.tasks[name]
	if !ok {
		tk = &task{weight: 1}
		t.tasks[name] = tk
		t.order = append(t.order, name)
	}
	return tk
}

func (t *Tracker) aggregateLocked() Info {
	var agg Info
	for _, tk := range t.tasks {
		agg.Completed += tk.completed * tk.weight
		agg.Total += tk.total * tk.weight
	}
	return agg
}

func (t *Tracker) eventLocked(stage Stage, name string, tk *task) Event {
	return Event{
		RunID:     t.runID,
		TS:        t.now(),
		Stage:     stage,
		Task:      name,
		Completed: tk.completed,
		Total:     tk.total,
		Weight:    tk.weight,
		Aggregate: t.aggregateLocked(),
	}
}

func (t *Tracker) notify(evt Event, change string) {
	if t.hook != nil {
		t.hook(evt.Aggregate, change)
	}
	if t.emitter != nil {
		t.emitter.Emit(evt)
	}
}
