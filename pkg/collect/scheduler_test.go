package collect

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/comet/pkg/checkpoint"
	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/paginate"
	"github.com/ajitpratap0/comet/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedSource replays canned pages, optionally failing before page
// index failAt (0-based, -1 disables).
type scriptedSource struct {
	pages  []*paginate.Page
	failAt int
	errVal error
	block  bool // block in Next until the context is cancelled

	idx    int
	cur    *paginate.Page
	cursor string
	err    error
}

func (s *scriptedSource) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}
	if s.block {
		<-ctx.Done()
		s.err = ctx.Err()
		return false
	}
	if s.failAt >= 0 && s.idx == s.failAt {
		s.err = s.errVal
		return false
	}
	if s.idx >= len(s.pages) {
		return false
	}
	s.cur = s.pages[s.idx]
	s.cursor = s.cur.NextCursor
	s.idx++
	return true
}

func (s *scriptedSource) Page() *paginate.Page { return s.cur }
func (s *scriptedSource) Err() error           { return s.err }
func (s *scriptedSource) Cursor() string       { return s.cursor }

func makePage(typ record.EntityType, number int, next string, ids ...int64) *paginate.Page {
	recs := make([]*record.RawRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, &record.RawRecord{
			EntityType: typ,
			ID:         id,
			Fields: map[string]interface{}{
				"id":     float64(id),
				"name":   fmt.Sprintf("record-%d", id),
				"active": true,
			},
			FetchedAt: time.Now(),
		})
	}
	return &paginate.Page{Number: number, Records: recs, NextCursor: next}
}

// sourceMap builds a factory serving one scripted source per entity and
// records the resume cursor each entity was constructed with.
type sourceMap struct {
	mu      sync.Mutex
	sources map[record.EntityType]*scriptedSource
	resumes map[record.EntityType]string
	built   map[record.EntityType]int
}

func newSourceMap() *sourceMap {
	return &sourceMap{
		sources: make(map[record.EntityType]*scriptedSource),
		resumes: make(map[record.EntityType]string),
		built:   make(map[record.EntityType]int),
	}
}

func (m *sourceMap) factory(desc record.Descriptor, params url.Values, resume string) PageSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes[desc.Type] = resume
	m.built[desc.Type]++
	return m.sources[desc.Type]
}

func newTestScheduler(m *sourceMap, store checkpoint.Store, filters map[record.EntityType]Filter) (*Scheduler, *record.EntityIndex) {
	index := record.NewEntityIndex()
	if filters == nil {
		filters = map[record.EntityType]Filter{}
	}
	return NewScheduler(m.factory, index, store, filters, zap.NewNop()), index
}

func TestRunCollectsAllEntities(t *testing.T) {
	m := newSourceMap()
	m.sources[record.EntityTickets] = &scriptedSource{failAt: -1, pages: []*paginate.Page{
		makePage(record.EntityTickets, 1, "p2", 1, 2),
		makePage(record.EntityTickets, 2, "", 3),
	}}
	m.sources[record.EntityGroups] = &scriptedSource{failAt: -1, pages: []*paginate.Page{
		makePage(record.EntityGroups, 1, "", 10),
	}}

	store := checkpoint.NewMemoryStore()
	s, index := newTestScheduler(m, store, nil)

	summary := s.Run(context.Background(), []record.EntityType{record.EntityTickets, record.EntityGroups})

	assert.ElementsMatch(t, []record.EntityType{record.EntityTickets, record.EntityGroups}, summary.Completed)
	assert.Empty(t, summary.Failed)
	assert.False(t, summary.AuthFailed)
	assert.Equal(t, 4, index.Len())

	cp, found, err := store.Load(context.Background(), record.EntityTickets)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, cp.Completed)
	assert.Equal(t, int64(3), cp.RecordsSeen)
	assert.Equal(t, int64(2), cp.PagesSeen)
}

func TestRunPartialFailure(t *testing.T) {
	m := newSourceMap()
	m.sources[record.EntityUsers] = &scriptedSource{
		failAt: 1,
		errVal: errors.New(errors.ErrorTypePermission, "access forbidden"),
		pages: []*paginate.Page{
			makePage(record.EntityUsers, 1, "users-p2", 100),
		},
	}
	m.sources[record.EntityTickets] = &scriptedSource{failAt: -1, pages: []*paginate.Page{
		makePage(record.EntityTickets, 1, "", 1),
	}}

	store := checkpoint.NewMemoryStore()
	s, index := newTestScheduler(m, store, nil)

	summary := s.Run(context.Background(), []record.EntityType{record.EntityUsers, record.EntityTickets})

	assert.Equal(t, []record.EntityType{record.EntityTickets}, summary.Completed)
	require.Contains(t, summary.Failed, record.EntityUsers)
	assert.True(t, errors.IsType(summary.Failed[record.EntityUsers], errors.ErrorTypePermission))
	assert.False(t, summary.AllFailed())

	// The page collected before the failure is committed and resumable.
	_, ok := index.Get(record.EntityUsers, 100)
	assert.True(t, ok)
	cp, found, err := store.Load(context.Background(), record.EntityUsers)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, cp.Completed)
	assert.Equal(t, "users-p2", cp.Cursor)
}

func TestAuthFailureAbortsSiblings(t *testing.T) {
	m := newSourceMap()
	m.sources[record.EntityUsers] = &scriptedSource{
		failAt: 0,
		errVal: errors.New(errors.ErrorTypeAuth, "authentication failed"),
	}
	m.sources[record.EntityTickets] = &scriptedSource{failAt: -1, block: true}

	s, _ := newTestScheduler(m, checkpoint.NewMemoryStore(), nil)

	done := make(chan *Summary, 1)
	go func() {
		done <- s.Run(context.Background(), []record.EntityType{record.EntityUsers, record.EntityTickets})
	}()

	select {
	case summary := <-done:
		assert.True(t, summary.AuthFailed)
		assert.True(t, summary.AllFailed())
	case <-time.After(5 * time.Second):
		t.Fatal("auth failure did not abort the blocked sibling task")
	}
}

func TestResumeFromCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), record.EntityTickets, record.Checkpoint{
		Cursor:      "tickets-p3",
		RecordsSeen: 20,
		PagesSeen:   2,
	}))

	m := newSourceMap()
	m.sources[record.EntityTickets] = &scriptedSource{failAt: -1, pages: []*paginate.Page{
		makePage(record.EntityTickets, 3, "", 21),
	}}

	s, _ := newTestScheduler(m, store, nil)
	summary := s.Run(context.Background(), []record.EntityType{record.EntityTickets})

	assert.Equal(t, "tickets-p3", m.resumes[record.EntityTickets], "paginator resumes from the stored cursor")
	require.Len(t, summary.Tasks, 1)
	assert.Equal(t, int64(21), summary.Tasks[0].RecordsFetched)
	assert.Equal(t, int64(3), summary.Tasks[0].PagesFetched)
}

func TestCompletedEntitySkipped(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), record.EntityMacros, record.Checkpoint{
		RecordsSeen: 12,
		PagesSeen:   1,
		Completed:   true,
	}))

	m := newSourceMap()
	s, _ := newTestScheduler(m, store, nil)
	summary := s.Run(context.Background(), []record.EntityType{record.EntityMacros})

	assert.Equal(t, []record.EntityType{record.EntityMacros}, summary.Completed)
	assert.Zero(t, m.built[record.EntityMacros], "no paginator is built for a completed entity")
}

func TestLocalFilterApplied(t *testing.T) {
	m := newSourceMap()
	inactive := makePage(record.EntityUsers, 1, "", 1, 2)
	inactive.Records[1].Fields["active"] = false
	m.sources[record.EntityUsers] = &scriptedSource{failAt: -1, pages: []*paginate.Page{inactive}}

	filters := map[record.EntityType]Filter{
		record.EntityUsers: {ActiveOnly: true},
	}
	s, index := newTestScheduler(m, checkpoint.NewMemoryStore(), filters)
	summary := s.Run(context.Background(), []record.EntityType{record.EntityUsers})

	require.Len(t, summary.Completed, 1)
	_, ok := index.Get(record.EntityUsers, 1)
	assert.True(t, ok)
	_, ok = index.Get(record.EntityUsers, 2)
	assert.False(t, ok, "inactive user filtered out")
}

func TestCancellationStopsAtPageBoundary(t *testing.T) {
	m := newSourceMap()
	m.sources[record.EntityTickets] = &scriptedSource{failAt: -1, pages: []*paginate.Page{
		makePage(record.EntityTickets, 1, "p2", 1),
		makePage(record.EntityTickets, 2, "p3", 2),
	}}

	store := checkpoint.NewMemoryStore()
	s, _ := newTestScheduler(m, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the first page boundary check

	summary := s.Run(ctx, []record.EntityType{record.EntityTickets})
	require.Contains(t, summary.Failed, record.EntityTickets)

	_, found, err := store.Load(context.Background(), record.EntityTickets)
	require.NoError(t, err)
	assert.False(t, found, "no page was committed, so no checkpoint exists")
}

func TestPaginationErrorCarriesLastCursor(t *testing.T) {
	m := newSourceMap()
	m.sources[record.EntityTickets] = &scriptedSource{
		failAt: 1,
		errVal: errors.New(errors.ErrorTypePagination, "pagination cursor rejected"),
		pages: []*paginate.Page{
			makePage(record.EntityTickets, 1, "tickets-p2", 1),
		},
	}

	s, _ := newTestScheduler(m, checkpoint.NewMemoryStore(), nil)
	summary := s.Run(context.Background(), []record.EntityType{record.EntityTickets})

	err := summary.Failed[record.EntityTickets]
	require.Error(t, err)
	require.True(t, errors.IsType(err, errors.ErrorTypePagination))

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	cursor, ok := e.Detail("last_cursor")
	require.True(t, ok)
	assert.Equal(t, "tickets-p2", cursor)
}
