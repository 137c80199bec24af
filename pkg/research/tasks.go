package research

import (
	"context"
	"strings"

	"github.com/mikeboe/deep-research/pkg/concurrency"
	"github.com/mikeboe/deep-research/pkg/provider"
)

type TaskState string

const (
	TaskUnprocessed TaskState = "unprocessed"
	TaskProcessing  TaskState = "processing"
	TaskCompleted   TaskState = "completed"
	TaskFailed      TaskState = "failed"
)

// Task is one unit of search work. Query identifies it within a session.
type Task struct {
	Query        string                 `json:"query"`
	ResearchGoal string                 `json:"researchGoal"`
	State        TaskState              `json:"state"`
	Learning     string                 `json:"learning"`
	Sources      []provider.Source      `json:"sources"`
	Images       []provider.ImageSource `json:"images"`
	Error        string                 `json:"error,omitempty"`
	Round        int                    `json:"round"`
}

// TaskStub is a planned query before it enters the task list.
type TaskStub struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// TaskList is the shared task table of one session. Every mutation goes
// through one mutex and transitions are only applied from the expected state,
// so a late or repeated settlement is a no-op.
type TaskList struct {
	mu     *concurrency.Mutex
	order  []string
	tasks  map[string]*Task
	frozen bool
}

func NewTaskList() *TaskList {
	return &TaskList{mu: concurrency.NewMutex(), tasks: make(map[string]*Task)}
}

func taskID(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func (l *TaskList) update(fn func() bool) bool {
	var applied bool
	_ = l.mu.RunExclusive(context.Background(), func() error {
		if l.frozen {
			return nil
		}
		applied = fn()
		return nil
	})
	return applied
}

// Add appends the stubs whose query is new and returns the tasks created.
func (l *TaskList) Add(round int, stubs ...TaskStub) []Task {
	var added []Task
	l.update(func() bool {
		for _, s := range stubs {
			q := strings.TrimSpace(s.Query)
			id := taskID(q)
			if id == "" {
				continue
			}
			if _, dup := l.tasks[id]; dup {
				continue
			}
			t := &Task{Query: q, ResearchGoal: strings.TrimSpace(s.ResearchGoal), State: TaskUnprocessed, Round: round}
			l.tasks[id] = t
			l.order = append(l.order, id)
			added = append(added, *t)
		}
		return len(added) > 0
	})
	return added
}

// Start moves an unprocessed task to processing.
func (l *TaskList) Start(query string) bool {
	return l.update(func() bool {
		t, ok := l.tasks[taskID(query)]
		if !ok || t.State != TaskUnprocessed {
			return false
		}
		t.State = TaskProcessing
		return true
	})
}

// Complete settles a processing task with its learning.
func (l *TaskList) Complete(query, learning string, sources []provider.Source, images []provider.ImageSource) bool {
	return l.update(func() bool {
		t, ok := l.tasks[taskID(query)]
		if !ok || t.State != TaskProcessing {
			return false
		}
		t.State = TaskCompleted
		t.Learning = learning
		t.Sources = append([]provider.Source(nil), sources...)
		t.Images = append([]provider.ImageSource(nil), images...)
		return true
	})
}

// Fail settles a processing task as failed.
func (l *TaskList) Fail(query string, err error) bool {
	return l.update(func() bool {
		t, ok := l.tasks[taskID(query)]
		if !ok || t.State != TaskProcessing {
			return false
		}
		t.State = TaskFailed
		if err != nil {
			t.Error = err.Error()
		}
		return true
	})
}

// Freeze rejects every later mutation. The session calls it once it has
// reached a terminal state.
func (l *TaskList) Freeze() {
	_ = l.mu.RunExclusive(context.Background(), func() error {
		l.frozen = true
		return nil
	})
}

// Snapshot returns copies of all tasks in insertion order.
func (l *TaskList) Snapshot() []Task {
	return l.filter(func(*Task) bool { return true })
}

// Unprocessed returns the tasks not yet dispatched.
func (l *TaskList) Unprocessed() []Task {
	return l.filter(func(t *Task) bool { return t.State == TaskUnprocessed })
}

// Completed returns the tasks that produced a learning.
func (l *TaskList) Completed() []Task {
	return l.filter(func(t *Task) bool { return t.State == TaskCompleted })
}

func (l *TaskList) filter(keep func(*Task) bool) []Task {
	out := []Task{}
	_ = l.mu.RunExclusive(context.Background(), func() error {
		for _, id := range l.order {
			t := l.tasks[id]
			if !keep(t) {
				continue
			}
			cp := *t
			cp.Sources = append([]provider.Source(nil), t.Sources...)
			cp.Images = append([]provider.ImageSource(nil), t.Images...)
			out = append(out, cp)
		}
		return nil
	})
	return out
}
