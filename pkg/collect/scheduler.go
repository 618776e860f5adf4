// Package collect owns the set of entity-type collection tasks: it
// drives paginators under the shared quota budget, persists per-task
// checkpoints, and resumes interrupted runs.
package collect

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/comet/pkg/checkpoint"
	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/metrics"
	"github.com/ajitpratap0/comet/pkg/paginate"
	"github.com/ajitpratap0/comet/pkg/record"
	"go.uber.org/zap"
)

// PageSource is the restartable page sequence a task consumes.
// *paginate.Paginator is the production implementation.
type PageSource interface {
	Next(ctx context.Context) bool
	Page() *paginate.Page
	Err() error
	Cursor() string
}

// PaginatorFactory builds a page source for one entity type, optionally
// resuming from a checkpointed cursor.
type PaginatorFactory func(desc record.Descriptor, params url.Values, resume string) PageSource

// Summary is the terminal report of a collection run.
type Summary struct {
	Completed  []record.EntityType         `json:"completed"`
	Failed     map[record.EntityType]error `json:"-"`
	Tasks      []TaskSnapshot              `json:"tasks"`
	AuthFailed bool                        `json:"auth_failed"`
	Duration   time.Duration               `json:"duration"`

	// UnresolvedReferences is filled in after reference resolution.
	UnresolvedReferences int64 `json:"unresolved_references"`
}

// AllFailed reports whether every requested entity type failed.
func (s *Summary) AllFailed() bool {
	return len(s.Completed) == 0 && len(s.Failed) > 0
}

// Scheduler runs one collection task per selected entity type. Tasks
// are independent: one task's failure never blocks the others, except
// for authentication failures, which abort the whole run since
// credentials are shared.
type Scheduler struct {
	factory PaginatorFactory
	index   *record.EntityIndex
	store   checkpoint.Store
	filters map[record.EntityType]Filter
	logger  *zap.Logger

	mu    sync.Mutex
	tasks map[record.EntityType]*Task
}

// NewScheduler creates a scheduler writing into the given index and
// checkpoint store.
func NewScheduler(factory PaginatorFactory, index *record.EntityIndex, store checkpoint.Store, filters map[record.EntityType]Filter, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		factory: factory,
		index:   index,
		store:   store,
		filters: filters,
		logger:  logger.With(zap.String("component", "scheduler")),
		tasks:   make(map[record.EntityType]*Task),
	}
}

// Snapshots returns a point-in-time view of all tasks, ordered by
// entity type.
func (s *Scheduler) Snapshots() []TaskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskSnapshot, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

// Run collects every selected entity type concurrently and blocks until
// all tasks reach a terminal state. Cancellation stops each task at its
// next page boundary; the checkpoint for the last committed page is
// already durable at that point.
func (s *Scheduler) Run(ctx context.Context, entities []record.EntityType) *Summary {
	start := time.Now()
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var authFailed bool
	var authOnce sync.Once

	s.mu.Lock()
	for _, entity := range entities {
		s.tasks[entity] = newTask(entity)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, entity := range entities {
		s.mu.Lock()
		task := s.tasks[entity]
		s.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runTask(runCtx, task)

			if err := task.Err(); err != nil && errors.IsType(err, errors.ErrorTypeAuth) {
				authOnce.Do(func() {
					authFailed = true
					s.logger.Error("authentication failed, aborting run", zap.Error(err))
					abort()
				})
			}
		}()
	}
	wg.Wait()

	summary := &Summary{
		Failed:     make(map[record.EntityType]error),
		AuthFailed: authFailed,
		Duration:   time.Since(start),
	}
	for _, snap := range s.Snapshots() {
		summary.Tasks = append(summary.Tasks, snap)
		switch snap.State {
		case TaskCompleted:
			summary.Completed = append(summary.Completed, snap.Entity)
		case TaskFailed:
			summary.Failed[snap.Entity] = snap.Err
		}
	}
	return summary
}

// runTask executes one entity type's page loop until the collection is
// exhausted, fails, or the run is cancelled.
func (s *Scheduler) runTask(ctx context.Context, task *Task) {
	log := s.logger.With(zap.String("entity", string(task.Entity)))
	desc, ok := record.Lookup(task.Entity)
	if !ok {
		task.fail(errors.Newf(errors.ErrorTypeConfig, "unknown entity type %q", task.Entity))
		return
	}

	cp, found, err := s.store.Load(ctx, task.Entity)
	if err != nil {
		task.fail(err)
		return
	}
	if found && cp.Completed {
		// A fresh run only reprocesses failed/incomplete entity types.
		task.setProgress(cp.RecordsSeen, cp.PagesSeen)
		task.setState(TaskCompleted)
		log.Info("entity already collected, skipping", zap.Int64("records", cp.RecordsSeen))
		return
	}
	if found {
		task.setProgress(cp.RecordsSeen, cp.PagesSeen)
		log.Info("resuming from checkpoint",
			zap.Int64("pages", cp.PagesSeen),
			zap.Int64("records", cp.RecordsSeen))
	}

	filter := s.filters[task.Entity]
	pg := s.factory(desc, filter.QueryParams(task.Entity), cp.Cursor)

	task.setState(TaskRunning)
	records, pages := cp.RecordsSeen, cp.PagesSeen

	for {
		// Cooperative cancellation, only at page boundaries. The last
		// committed page's checkpoint is already durable.
		select {
		case <-ctx.Done():
			task.fail(errors.Wrap(ctx.Err(), errors.ErrorTypeInternal, "collection cancelled at page boundary"))
			return
		default:
		}

		if !pg.Next(ctx) {
			break
		}
		page := pg.Page()

		matched := make([]*record.RawRecord, 0, len(page.Records))
		for _, rec := range page.Records {
			if filter.Matches(rec) {
				matched = append(matched, rec)
			}
		}

		records += int64(len(matched))
		pages++

		// Checkpoint first, index second: a record becomes visible only
		// once its page is durably resumable.
		if err := s.store.Save(ctx, task.Entity, record.Checkpoint{
			Cursor:      pg.Cursor(),
			RecordsSeen: records,
			PagesSeen:   pages,
		}); err != nil {
			task.fail(err)
			return
		}
		for _, rec := range matched {
			s.index.Add(rec)
		}

		task.setProgress(records, pages)
		metrics.PagesFetched.WithLabelValues(string(task.Entity)).Inc()
		metrics.RecordsFetched.WithLabelValues(string(task.Entity)).Add(float64(len(matched)))

		log.Debug("page committed",
			zap.Int("page", page.Number),
			zap.Int("records", len(matched)))
	}

	if err := pg.Err(); err != nil {
		if errors.IsType(err, errors.ErrorTypePagination) {
			err = errors.Wrap(err, errors.ErrorTypePagination, "pagination cursor expired, run will resume from last checkpoint").
				WithDetail("last_cursor", pg.Cursor())
		}
		task.fail(err)
		log.Error("collection failed", zap.Error(err))
		return
	}

	if err := s.store.Save(ctx, task.Entity, record.Checkpoint{
		RecordsSeen: records,
		PagesSeen:   pages,
		Completed:   true,
	}); err != nil {
		task.fail(err)
		return
	}

	task.setState(TaskCompleted)
	log.Info("collection completed",
		zap.Int64("records", records),
		zap.Int64("pages", pages))
}
