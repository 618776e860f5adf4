package collect

import (
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/comet/pkg/metrics"
	"github.com/ajitpratap0/comet/pkg/record"
)

// TaskState is the lifecycle state of one entity-type collection task.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
)

// String returns the state name.
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task tracks one entity type's collection progress. All fields are
// written by exactly one scheduler goroutine; counters are atomic so
// the progress reporter can read them concurrently.
type Task struct {
	Entity record.EntityType

	state          int32
	recordsFetched int64
	pagesFetched   int64

	errMu sync.Mutex
	err   error
}

// TaskSnapshot is a point-in-time view of a task for progress/telemetry.
type TaskSnapshot struct {
	Entity         record.EntityType `json:"entity"`
	State          TaskState         `json:"state"`
	RecordsFetched int64             `json:"records_fetched"`
	PagesFetched   int64             `json:"pages_fetched"`
	Err            error             `json:"-"`
}

func newTask(entity record.EntityType) *Task {
	return &Task{Entity: entity}
}

func (t *Task) setState(s TaskState) {
	atomic.StoreInt32(&t.state, int32(s))
	metrics.TaskState.WithLabelValues(string(t.Entity)).Set(float64(s))
}

// State returns the current task state.
func (t *Task) State() TaskState {
	return TaskState(atomic.LoadInt32(&t.state))
}

func (t *Task) setProgress(records, pages int64) {
	atomic.StoreInt64(&t.recordsFetched, records)
	atomic.StoreInt64(&t.pagesFetched, pages)
}

func (t *Task) fail(err error) {
	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()
	t.setState(TaskFailed)
}

// Err returns the error that failed the task, if any.
func (t *Task) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Snapshot returns a consistent view of the task counters.
func (t *Task) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		Entity:         t.Entity,
		State:          t.State(),
		RecordsFetched: atomic.LoadInt64(&t.recordsFetched),
		PagesFetched:   atomic.LoadInt64(&t.pagesFetched),
		Err:            t.Err(),
	}
}
