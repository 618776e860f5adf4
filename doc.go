// Package comet collects records from a hosted helpdesk API and
// publishes them as a cross-linked markdown document tree.
//
// A collection run fetches the selected entity types (tickets, users,
// organizations, knowledge-base articles, macros and groups) page by
// page, honoring a fixed-window request quota and retrying transient
// failures with exponential backoff. Fetched records are indexed,
// cross-references between them are resolved to relative document
// paths, and each record is rendered to one markdown file.
//
// Runs are resumable: every completed page commits a checkpoint before
// its records become visible, so an interrupted run restarts at the
// first unfetched page with no duplicates and no gaps.
//
// # Quick Start
//
//	cfg, err := config.Load("comet.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := runner.New(cfg, logger.Get()).Run(ctx, false)
//
// # Key Packages
//
//	pkg/quota      - Fixed-window request governor
//	pkg/transport  - Authenticated HTTP client and retrier
//	pkg/paginate   - Cursor-driven page iteration
//	pkg/collect    - Per-entity collection tasks and checkpointing
//	pkg/resolve    - Cross-reference and path resolution
//	pkg/assemble   - Document assembly over pluggable renderers/sinks
//	pkg/checkpoint - Durable resume state (SQLite)
//	pkg/config     - YAML configuration with ${VAR} substitution
//	pkg/errors     - Structured error handling
//	pkg/logger     - Structured logging
//	pkg/metrics    - Prometheus metrics
//
// The comet CLI under cmd/comet drives full runs; see `comet collect
// --help`.
package comet
