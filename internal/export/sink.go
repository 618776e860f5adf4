package export

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/comet/pkg/assemble"
	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/logger"
	"go.uber.org/zap"
)

// FileSink writes documents beneath a base directory, creating entity
// subdirectories on demand. Document paths are taken verbatim from the
// reference resolver, so two sinks over the same base directory would
// race; each run owns its sink.
type FileSink struct {
	baseDir string
	logger  *zap.Logger
}

// NewFileSink creates the base directory and returns a sink rooted there.
func NewFileSink(baseDir string) (*FileSink, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create output directory").
			WithDetail("path", baseDir)
	}
	return &FileSink{baseDir: baseDir, logger: logger.Get()}, nil
}

// Emit writes one document to disk at its resolved relative path.
func (s *FileSink) Emit(ctx context.Context, doc *assemble.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full := filepath.Join(s.baseDir, filepath.FromSlash(doc.RelativePath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create document directory").
			WithDetail("path", full)
	}
	if err := os.WriteFile(full, []byte(doc.Body), 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write document").
			WithDetail("path", full)
	}

	s.logger.Debug("document written",
		zap.String("entity", string(doc.Entity)),
		zap.String("path", doc.RelativePath))
	return nil
}
