// Package runner assembles a collection run from configuration: the
// HTTP client, quota governor, retrier, paginators, scheduler,
// reference resolver and document assembler, in that order.
package runner

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/comet/internal/export"
	"github.com/ajitpratap0/comet/pkg/assemble"
	"github.com/ajitpratap0/comet/pkg/checkpoint"
	"github.com/ajitpratap0/comet/pkg/collect"
	"github.com/ajitpratap0/comet/pkg/config"
	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/logger"
	"github.com/ajitpratap0/comet/pkg/paginate"
	"github.com/ajitpratap0/comet/pkg/quota"
	"github.com/ajitpratap0/comet/pkg/record"
	"github.com/ajitpratap0/comet/pkg/resolve"
	"github.com/ajitpratap0/comet/pkg/transport"
)

const progressInterval = 10 * time.Second

// Result is the terminal report of one run.
type Result struct {
	Summary          *collect.Summary
	DocumentsEmitted int
}

// Runner executes collection runs for one configuration.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger
}

// New creates a runner. The configuration must already be validated.
func New(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// TestConnection verifies the configured credentials against the API.
func (r *Runner) TestConnection(ctx context.Context) error {
	client, err := r.buildClient()
	if err != nil {
		return err
	}
	return client.TestConnection(ctx)
}

// Run executes a full collection run: fetch every selected entity
// type, resolve cross-references and emit documents. A false resume
// discards any prior checkpoints so collection starts from the first
// page.
func (r *Runner) Run(ctx context.Context, resume bool) (*Result, error) {
	runID := fmt.Sprintf("run-%d", time.Now().Unix())
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	log := r.logger.With(zap.String("run_id", runID))

	entities, err := record.ParseTypes(strings.Join(r.cfg.Collection.Entities, ","))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid entity selection")
	}

	client, err := r.buildClient()
	if err != nil {
		return nil, err
	}

	governor := quota.NewGovernor(r.cfg.RateLimit.RequestsPerWindow, r.cfg.RateLimit.WindowDuration)
	retrier := transport.NewRetrier(transport.RetrierConfig{
		RetryAttempts: r.cfg.RateLimit.RetryAttempts,
		BackoffFactor: r.cfg.RateLimit.BackoffFactor,
		MaxDelay:      r.cfg.RateLimit.MaxDelay,
	}, governor, log)
	fetcher := &transport.RetryingFetcher{Client: client, Retrier: retrier}

	store, err := r.buildStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if !resume {
		if err := resetCheckpoints(ctx, store, entities); err != nil {
			return nil, err
		}
	}

	index := record.NewEntityIndex()
	factory := func(desc record.Descriptor, params url.Values, cursor string) collect.PageSource {
		return paginate.New(fetcher, desc, params, cursor)
	}

	scheduler := collect.NewScheduler(factory, index, store, r.buildFilters(entities), log)

	reporter := collect.NewProgressReporter(log, scheduler.Snapshots, progressInterval)
	reporter.Start()
	summary := scheduler.Run(ctx, entities)
	reporter.Stop()

	if summary.AuthFailed {
		return &Result{Summary: summary}, errors.New(errors.ErrorTypeAuth,
			"authentication failed, run aborted")
	}
	if err := ctx.Err(); err != nil {
		// Cancelled at a page boundary; checkpoints are durable, so a
		// later resume picks up where this run stopped.
		return &Result{Summary: summary}, err
	}
	if summary.AllFailed() {
		return &Result{Summary: summary}, errors.New(errors.ErrorTypeInternal,
			"every collection task failed")
	}

	if r.cfg.Collection.IncludeComments && len(index.Records(record.EntityTickets)) > 0 {
		if _, err := collect.NewCommentEnricher(fetcher, index, log).Enrich(ctx); err != nil {
			return &Result{Summary: summary}, err
		}
	}

	resolution, err := r.resolve(index, summary)
	if err != nil {
		return &Result{Summary: summary}, err
	}

	emitted, err := r.emit(ctx, index, resolution)
	if err != nil {
		return &Result{Summary: summary, DocumentsEmitted: emitted}, err
	}

	log.Info("run finished",
		zap.Int("documents", emitted),
		zap.Int64("unresolved_references", summary.UnresolvedReferences),
		zap.Duration("duration", summary.Duration))
	return &Result{Summary: summary, DocumentsEmitted: emitted}, nil
}

func (r *Runner) buildClient() (*transport.Client, error) {
	return transport.NewClient(&transport.ClientConfig{
		BaseURL: r.cfg.API.ResolveBaseURL(),
		Credentials: transport.Credentials{
			Email:      r.cfg.API.Email,
			APIToken:   r.cfg.API.APIToken,
			OAuthToken: r.cfg.API.OAuthToken,
		},
		RequestTimeout: r.cfg.API.RequestTimeout,
		EnableHTTP2:    r.cfg.API.EnableHTTP2,
		UserAgent:      r.cfg.API.UserAgent,
	}, r.logger)
}

func (r *Runner) buildStore() (checkpoint.Store, error) {
	if r.cfg.Output.StateFile == "" {
		return checkpoint.NewMemoryStore(), nil
	}
	return checkpoint.NewSQLiteStore(r.cfg.Output.StateFile)
}

// buildFilters translates the declarative filter block into one filter
// per selected entity type. Date parsing already passed Validate.
func (r *Runner) buildFilters(entities []record.EntityType) map[record.EntityType]collect.Filter {
	fc := r.cfg.Collection.Filters
	f := collect.Filter{
		Status:     fc.Status,
		Role:       fc.Role,
		ActiveOnly: fc.ActiveOnly,
	}
	if fc.CreatedAfter != "" {
		f.CreatedAfter, _ = time.Parse("2006-01-02", fc.CreatedAfter)
	}
	if fc.CreatedBefore != "" {
		f.CreatedBefore, _ = time.Parse("2006-01-02", fc.CreatedBefore)
	}

	filters := make(map[record.EntityType]collect.Filter, len(entities))
	for _, entity := range entities {
		filters[entity] = f
	}
	return filters
}

func (r *Runner) resolve(index *record.EntityIndex, summary *collect.Summary) (*resolve.Resolution, error) {
	dirs := make(map[record.EntityType]string, len(r.cfg.Output.Directories))
	for typ, dir := range r.cfg.Output.Directories {
		dirs[record.EntityType(typ)] = dir
	}

	res, err := resolve.New(index, dirs, r.logger).Resolve()
	if err != nil {
		return nil, err
	}
	summary.UnresolvedReferences = res.Unresolved
	return res, nil
}

func (r *Runner) emit(ctx context.Context, index *record.EntityIndex, res *resolve.Resolution) (int, error) {
	renderer, err := export.NewMarkdownRenderer()
	if err != nil {
		return 0, err
	}
	sink, err := export.NewFileSink(r.cfg.Output.BaseDirectory)
	if err != nil {
		return 0, err
	}
	return assemble.New(index, renderer, sink, r.logger).EmitAll(ctx, res)
}

// resetCheckpoints clears stored resume state for the selected entity
// types when the run starts fresh.
func resetCheckpoints(ctx context.Context, store checkpoint.Store, entities []record.EntityType) error {
	resetter, ok := store.(interface {
		Reset(ctx context.Context, entity record.EntityType) error
	})
	if !ok {
		return nil
	}
	for _, entity := range entities {
		if err := resetter.Reset(ctx, entity); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to reset checkpoint").
				WithDetail("entity", string(entity))
		}
	}
	return nil
}

// FormatSummary renders the terminal report for the CLI.
func FormatSummary(res *Result) string {
	if res == nil || res.Summary == nil {
		return ""
	}
	s := res.Summary

	out := fmt.Sprintf("Run finished in %s\n", s.Duration.Round(time.Millisecond))
	for _, task := range s.Tasks {
		line := fmt.Sprintf("  %-14s %-9s %6d records, %d pages",
			task.Entity, task.State, task.RecordsFetched, task.PagesFetched)
		if task.Err != nil {
			line += fmt.Sprintf(" (%v)", task.Err)
		}
		out += line + "\n"
	}
	out += fmt.Sprintf("  documents emitted: %d\n", res.DocumentsEmitted)
	if s.UnresolvedReferences > 0 {
		out += fmt.Sprintf("  unresolved references: %d\n", s.UnresolvedReferences)
	}
	return out
}
