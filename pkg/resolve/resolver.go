// Package resolve turns raw cross-entity identifiers into a consistent
// link graph. It runs only after every collection task has reached a
// terminal state, so every emitted document's relative links are valid
// by construction.
package resolve

import (
	"fmt"
	"path"
	"strings"

	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/metrics"
	"github.com/ajitpratap0/comet/pkg/record"
	"github.com/ajitpratap0/comet/pkg/slug"
	"go.uber.org/zap"
)

// Resolution is the output of one resolver pass: the document path for
// every indexed record and the resolved outbound links per record.
type Resolution struct {
	// Paths maps each record to its document path relative to the
	// output base directory.
	Paths map[record.Key]string

	// Links holds the outbound links per record, in the declaration
	// order of the entity's reference fields.
	Links map[record.Key][]record.ResolvedLink

	// Unresolved counts dangling references across all records.
	Unresolved int64
}

// Resolver rewrites reference fields against the entity index. Path
// computation is a pure function of the index and the configured
// output directories, independent of filesystem state.
type Resolver struct {
	index  *record.EntityIndex
	dirs   map[record.EntityType]string
	logger *zap.Logger
}

// New creates a resolver. dirs maps each entity type to its output
// subdirectory; types missing from the map use the catalog default.
func New(index *record.EntityIndex, dirs map[record.EntityType]string, logger *zap.Logger) *Resolver {
	return &Resolver{
		index:  index,
		dirs:   dirs,
		logger: logger.With(zap.String("component", "resolver")),
	}
}

// Resolve assigns slugs and document paths, then rewrites every
// declared reference field into a ResolvedLink. The pass is
// deterministic and idempotent: running it twice over the same index
// produces identical output.
func (r *Resolver) Resolve() (*Resolution, error) {
	res := &Resolution{
		Paths: make(map[record.Key]string),
		Links: make(map[record.Key][]record.ResolvedLink),
	}

	if err := r.assignPaths(res); err != nil {
		return nil, err
	}
	r.resolveLinks(res)

	if res.Unresolved > 0 {
		r.logger.Warn("dangling references degraded to plain-text labels",
			zap.Int64("count", res.Unresolved))
	}
	return res, nil
}

// assignPaths gives every record a slug unique within its entity type
// (id-suffixed on collision) and a document path unique across the
// whole run. Records are visited in ascending id order so slug
// assignment does not depend on collection order.
func (r *Resolver) assignPaths(res *Resolution) error {
	pathOwner := make(map[string]record.Key)

	for _, typ := range r.index.Types() {
		desc, ok := record.Lookup(typ)
		if !ok {
			return errors.Newf(errors.ErrorTypeConfig, "unknown entity type %q in index", typ)
		}

		taken := make(map[string]struct{})
		for _, rec := range r.index.Records(typ) {
			base := slug.Make(desc.Title(rec))
			s := base
			if _, dup := taken[s]; dup {
				// A natural title can itself end in an id suffix, so the
				// id-suffixed candidate must be re-checked until free.
				s = fmt.Sprintf("%s-%d", base, rec.ID)
				for n := 2; ; n++ {
					if _, dup := taken[s]; !dup {
						break
					}
					s = fmt.Sprintf("%s-%d-%d", base, rec.ID, n)
				}
			}
			taken[s] = struct{}{}
			r.index.SetSlug(typ, rec.ID, s)

			key := record.Key{Type: typ, ID: rec.ID}
			docPath := path.Join(r.dir(typ), s+".md")
			if owner, exists := pathOwner[docPath]; exists && owner != key {
				return errors.Newf(errors.ErrorTypeConfig,
					"output path %q claimed by both %s/%d and %s/%d: check output directory configuration",
					docPath, owner.Type, owner.ID, typ, rec.ID)
			}
			pathOwner[docPath] = key
			res.Paths[key] = docPath
		}
	}
	return nil
}

// resolveLinks rewrites each declared reference field. Unresolvable
// targets are kept as resolved=false links carrying the raw id so
// rendering can fall back to a plain-text label.
func (r *Resolver) resolveLinks(res *Resolution) {
	for _, typ := range r.index.Types() {
		desc, _ := record.Lookup(typ)
		if len(desc.References) == 0 {
			continue
		}
		fromDir := r.dir(typ)

		for _, rec := range r.index.Records(typ) {
			key := record.Key{Type: typ, ID: rec.ID}

			for _, ref := range desc.References {
				id, ok := rec.RefID(ref.Field)
				if !ok {
					continue // absent or null field is not a reference
				}

				link := record.ResolvedLink{
					SourceField: ref.Field,
					TargetType:  ref.Target,
					TargetID:    id,
				}
				if target, found := r.index.Get(ref.Target, id); found {
					targetKey := record.Key{Type: ref.Target, ID: id}
					link.Resolved = true
					link.TargetSlug = target.Slug
					link.RelativePath = relativeTo(fromDir, res.Paths[targetKey])
				} else {
					res.Unresolved++
					metrics.UnresolvedReferences.Inc()
				}
				res.Links[key] = append(res.Links[key], link)
			}
		}
	}
}

func (r *Resolver) dir(typ record.EntityType) string {
	if d, ok := r.dirs[typ]; ok && d != "" {
		return d
	}
	desc, _ := record.Lookup(typ)
	return desc.OutputDir
}

// relativeTo computes the path of target relative to a document living
// in fromDir. Both are slash paths relative to the output base; the
// result never consults the filesystem.
func relativeTo(fromDir, target string) string {
	if fromDir == "" || fromDir == "." {
		return target
	}

	fromParts := strings.Split(path.Clean(fromDir), "/")
	targetParts := strings.Split(path.Clean(target), "/")

	common := 0
	for common < len(fromParts) && common < len(targetParts)-1 &&
		fromParts[common] == targetParts[common] {
		common++
	}

	var out []string
	for i := common; i < len(fromParts); i++ {
		out = append(out, "..")
	}
	out = append(out, targetParts[common:]...)
	return path.Join(out...)
}
