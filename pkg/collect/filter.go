package collect

import (
	"net/url"
	"time"

	"github.com/ajitpratap0/comet/pkg/record"
)

// Filter narrows one entity type's collection. Server-side criteria are
// translated to query parameters so non-matching records are never
// fetched; Local and ActiveOnly run against fetched records for
// criteria the API cannot express.
type Filter struct {
	// Status filters tickets by status (open, pending, solved, closed).
	Status string

	// CreatedAfter/CreatedBefore bound the creation date range.
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// Role filters users by role (end-user, agent, admin).
	Role string

	// ActiveOnly drops suspended/inactive users.
	ActiveOnly bool

	// Local is an optional caller-supplied predicate applied after the
	// server-side filters.
	Local func(*record.RawRecord) bool
}

// QueryParams renders the server-side criteria for one entity type.
func (f Filter) QueryParams(typ record.EntityType) url.Values {
	params := url.Values{}

	switch typ {
	case record.EntityTickets:
		if f.Status != "" {
			params.Set("status", f.Status)
		}
		if !f.CreatedAfter.IsZero() {
			params.Set("created>=", f.CreatedAfter.UTC().Format("2006-01-02"))
		}
		if !f.CreatedBefore.IsZero() {
			params.Set("created<=", f.CreatedBefore.UTC().Format("2006-01-02"))
		}
	case record.EntityUsers:
		if f.Role != "" {
			params.Set("role", f.Role)
		}
	}

	if len(params) == 0 {
		return nil
	}
	return params
}

// Matches applies the local criteria to a fetched record.
func (f Filter) Matches(rec *record.RawRecord) bool {
	if f.ActiveOnly && rec.EntityType == record.EntityUsers {
		active, ok := rec.Fields["active"].(bool)
		if !ok || !active {
			return false
		}
	}
	if f.Local != nil && !f.Local(rec) {
		return false
	}
	return true
}
