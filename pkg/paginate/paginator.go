// Package paginate drives repeated fetches of one entity collection,
// yielding a lazy, restartable sequence of record pages. Cursors are
// the API's next_page URLs and stay opaque to every other component.
package paginate

import (
	"context"
	"net/url"
	"time"

	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/record"
	"github.com/goccy/go-json"
)

// Fetcher fetches one page body. Implementations are expected to apply
// quota gating and retries internally.
type Fetcher interface {
	Fetch(ctx context.Context, entity, endpoint string, params url.Values) ([]byte, error)
}

// Page is one fetched batch of records.
type Page struct {
	// Number counts pages produced by this paginator, starting at 1.
	Number int

	Records []*record.RawRecord

	// NextCursor resumes collection after this page; empty when this
	// was the last page.
	NextCursor string
}

// Paginator walks an entity collection page by page. Constructing a new
// Paginator with a previously returned cursor resumes exactly at the
// next unfetched page. Usage follows the scanner pattern:
//
//	for p.Next(ctx) {
//	    handle(p.Page())
//	}
//	if err := p.Err(); err != nil { ... }
type Paginator struct {
	fetcher Fetcher
	desc    record.Descriptor
	params  url.Values

	cursor string // next page to fetch; empty means start of collection
	page   *Page
	number int
	done   bool
	err    error
}

// New creates a paginator for one entity type. A non-empty resume
// cursor continues a previous run; params apply only to the first
// request since cursors embed their own query.
func New(fetcher Fetcher, desc record.Descriptor, params url.Values, resume string) *Paginator {
	return &Paginator{
		fetcher: fetcher,
		desc:    desc,
		params:  params,
		cursor:  resume,
	}
}

// Next fetches the next page. It returns false when the collection is
// exhausted or an error occurred; check Err afterwards.
func (p *Paginator) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}

	endpoint := p.desc.Endpoint
	params := p.params
	if p.cursor != "" {
		endpoint = p.cursor
		params = nil
	}

	body, err := p.fetcher.Fetch(ctx, string(p.desc.Type), endpoint, params)
	if err != nil {
		p.err = err
		return false
	}

	page, err := p.decodePage(body)
	if err != nil {
		p.err = err
		return false
	}

	// A cursor identical to the one just fetched would loop forever;
	// treat it as the end of the collection.
	if page.NextCursor != "" && page.NextCursor == p.cursor {
		page.NextCursor = ""
	}

	p.number++
	page.Number = p.number
	p.page = page
	p.cursor = page.NextCursor
	if page.NextCursor == "" {
		p.done = true
	}
	return true
}

// Page returns the page fetched by the last successful Next call.
func (p *Paginator) Page() *Page {
	return p.page
}

// Err returns the error that stopped iteration, if any.
func (p *Paginator) Err() error {
	return p.err
}

// Cursor returns the cursor resuming after the last completed page, so
// the caller can checkpoint precisely up to that point.
func (p *Paginator) Cursor() string {
	return p.cursor
}

// decodePage extracts the record array and the next_page cursor from a
// page body. The record array lives under the entity-specific payload
// key; when absent the first array value in the envelope is used.
func (p *Paginator) decodePage(body []byte) (*Page, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid page payload").
			WithDetail("entity", string(p.desc.Type))
	}

	next := ""
	if raw, ok := envelope["next_page"]; ok {
		// next_page is null on the final page
		var s *string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid next_page cursor")
		}
		if s != nil {
			next = *s
		}
	}

	itemsRaw, ok := envelope[p.desc.PayloadKey]
	if !ok {
		itemsRaw, ok = firstArray(envelope)
	}
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "page payload has no %q array", p.desc.PayloadKey).
			WithDetail("entity", string(p.desc.Type))
	}

	var items []map[string]interface{}
	if err := json.Unmarshal(itemsRaw, &items); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid record array").
			WithDetail("entity", string(p.desc.Type))
	}

	now := time.Now().UTC()
	records := make([]*record.RawRecord, 0, len(items))
	for _, fields := range items {
		id, ok := numericID(fields["id"])
		if !ok {
			return nil, errors.New(errors.ErrorTypeData, "record without numeric id").
				WithDetail("entity", string(p.desc.Type))
		}
		records = append(records, &record.RawRecord{
			EntityType: p.desc.Type,
			ID:         id,
			Fields:     fields,
			FetchedAt:  now,
		})
	}

	return &Page{Records: records, NextCursor: next}, nil
}

// firstArray finds the lone JSON array in an envelope, skipping the
// pagination bookkeeping keys.
func firstArray(envelope map[string]json.RawMessage) (json.RawMessage, bool) {
	for key, raw := range envelope {
		if key == "next_page" || key == "previous_page" {
			continue
		}
		for _, b := range raw {
			if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
				continue
			}
			if b == '[' {
				return raw, true
			}
			break
		}
	}
	return nil, false
}

func numericID(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
