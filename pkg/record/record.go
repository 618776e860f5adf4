// Package record defines the data model shared by the collection
// pipeline: raw records, the entity index, reference declarations,
// resolved links and checkpoints.
package record

import (
	"sort"
	"sync"
	"time"
)

// RawRecord is one record as fetched from the remote API. Immutable once
// fetched; a re-run supersedes it with a newer record under the same
// (entity type, id) key.
type RawRecord struct {
	EntityType EntityType             `json:"entity_type"`
	ID         int64                  `json:"id"`
	Fields     map[string]interface{} `json:"fields"`
	FetchedAt  time.Time              `json:"fetched_at"`
}

// StringField returns a named field as a string, or "" when absent or
// not a string.
func (r *RawRecord) StringField(name string) string {
	v, ok := r.Fields[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// RefID returns the numeric id held by a reference field. The second
// return is false when the field is absent, null or not numeric.
func (r *RawRecord) RefID(name string) (int64, bool) {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// ReferenceField declares that one field of an entity type holds the id
// of a record of another entity type.
type ReferenceField struct {
	Field  string     `json:"field"`
	Target EntityType `json:"target"`
}

// ResolvedLink is a cross-reference rewritten against the entity index.
// Resolved=false marks a dangling reference; it is never dropped so
// rendering can fall back to a plain-text label.
type ResolvedLink struct {
	SourceField  string     `json:"source_field"`
	TargetType   EntityType `json:"target_type"`
	TargetID     int64      `json:"target_id"`
	TargetSlug   string     `json:"target_slug,omitempty"`
	RelativePath string     `json:"relative_path,omitempty"`
	Resolved     bool       `json:"resolved"`
}

// Checkpoint is the persisted resume state for one entity type's
// collection task. Owned exclusively by the scheduler.
type Checkpoint struct {
	Cursor      string `json:"cursor"`
	RecordsSeen int64  `json:"records_seen"`
	PagesSeen   int64  `json:"pages_seen"`
	Completed   bool   `json:"completed"`
}

// Key identifies a record across entity types.
type Key struct {
	Type EntityType
	ID   int64
}

// IndexEntry pairs a record with its assigned slug.
type IndexEntry struct {
	Slug   string
	Record *RawRecord
}

// EntityIndex maps (entity type, id) to the collected record and its
// slug. Append-only during a run; safe for concurrent writers since
// each collection task appends records of a distinct entity type.
type EntityIndex struct {
	mu      sync.RWMutex
	entries map[Key]*IndexEntry
}

// NewEntityIndex creates an empty index.
func NewEntityIndex() *EntityIndex {
	return &EntityIndex{entries: make(map[Key]*IndexEntry)}
}

// Add inserts a record. A record added under an existing key supersedes
// the previous one (re-run semantics).
func (ix *EntityIndex) Add(rec *RawRecord) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[Key{rec.EntityType, rec.ID}] = &IndexEntry{Record: rec}
}

// SetSlug assigns the slug for an indexed record.
func (ix *EntityIndex) SetSlug(typ EntityType, id int64, slug string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if e, ok := ix.entries[Key{typ, id}]; ok {
		e.Slug = slug
	}
}

// Get looks up a record by entity type and id.
func (ix *EntityIndex) Get(typ EntityType, id int64) (*IndexEntry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[Key{typ, id}]
	return e, ok
}

// Records returns all records of one entity type in ascending id order.
func (ix *EntityIndex) Records(typ EntityType) []*RawRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []*RawRecord
	for k, e := range ix.entries {
		if k.Type == typ {
			out = append(out, e.Record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Types returns the entity types present in the index.
func (ix *EntityIndex) Types() []EntityType {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[EntityType]struct{})
	for k := range ix.entries {
		seen[k.Type] = struct{}{}
	}
	out := make([]EntityType, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of indexed records.
func (ix *EntityIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}
