// Package assemble combines resolved records and their link graph into
// sink-ready document descriptors. It is the only component that hands
// data to the external exporter.
package assemble

import (
	"context"

	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/metrics"
	"github.com/ajitpratap0/comet/pkg/record"
	"github.com/ajitpratap0/comet/pkg/resolve"
	"go.uber.org/zap"
)

// Document is one sink-ready descriptor. RelativePath is unique within
// a run and every outbound link was produced by the reference resolver.
type Document struct {
	Entity        record.EntityType
	RelativePath  string
	Title         string
	Body          string
	OutboundLinks []record.ResolvedLink
}

// Sink accepts documents for persistence. Implementations own
// durability; the assembler only guarantees descriptor consistency.
type Sink interface {
	Emit(ctx context.Context, doc *Document) error
}

// Renderer produces a document body from a resolved record. The
// concrete markdown templates live with the exporter collaborator.
type Renderer interface {
	Render(desc record.Descriptor, rec *record.RawRecord, links []record.ResolvedLink) (string, error)
}

// Assembler walks the entity index and emits one document per record.
type Assembler struct {
	index    *record.EntityIndex
	renderer Renderer
	sink     Sink
	logger   *zap.Logger
}

// New creates an assembler.
func New(index *record.EntityIndex, renderer Renderer, sink Sink, logger *zap.Logger) *Assembler {
	return &Assembler{
		index:    index,
		renderer: renderer,
		sink:     sink,
		logger:   logger.With(zap.String("component", "assembler")),
	}
}

// EmitAll renders and emits every indexed record using the paths and
// links of a completed resolver pass. Returns the number of documents
// emitted. Emission stops on the first sink error; everything emitted
// before the error remains valid.
func (a *Assembler) EmitAll(ctx context.Context, res *resolve.Resolution) (int, error) {
	emitted := 0

	for _, typ := range a.index.Types() {
		desc, ok := record.Lookup(typ)
		if !ok {
			return emitted, errors.Newf(errors.ErrorTypeConfig, "unknown entity type %q in index", typ)
		}

		for _, rec := range a.index.Records(typ) {
			if err := ctx.Err(); err != nil {
				return emitted, err
			}

			key := record.Key{Type: typ, ID: rec.ID}
			docPath, ok := res.Paths[key]
			if !ok {
				return emitted, errors.Newf(errors.ErrorTypeInternal, "record %s/%d has no resolved path", typ, rec.ID)
			}
			links := res.Links[key]

			body, err := a.renderer.Render(desc, rec, links)
			if err != nil {
				return emitted, errors.Wrap(err, errors.ErrorTypeData, "failed to render document").
					WithDetail("entity", string(typ)).WithDetail("id", rec.ID)
			}

			doc := &Document{
				Entity:        typ,
				RelativePath:  docPath,
				Title:         desc.Title(rec),
				Body:          body,
				OutboundLinks: links,
			}
			if err := a.sink.Emit(ctx, doc); err != nil {
				return emitted, errors.Wrap(err, errors.ErrorTypeInternal, "sink rejected document").
					WithDetail("path", docPath)
			}

			emitted++
			metrics.DocumentsEmitted.WithLabelValues(string(typ)).Inc()
		}
	}

	a.logger.Info("documents emitted", zap.Int("count", emitted))
	return emitted, nil
}
