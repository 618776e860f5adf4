package resolve

import (
	"path"
	"testing"
	"time"

	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func addRec(ix *record.EntityIndex, typ record.EntityType, id int64, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	ix.Add(&record.RawRecord{EntityType: typ, ID: id, Fields: fields, FetchedAt: time.Now()})
}

func TestResolveTicketReferences(t *testing.T) {
	ix := record.NewEntityIndex()
	addRec(ix, record.EntityUsers, 4521, map[string]interface{}{"name": "Jordan Lee"})
	addRec(ix, record.EntityOrganizations, 7, map[string]interface{}{"name": "Acme Corp"})
	addRec(ix, record.EntityTickets, 1, map[string]interface{}{
		"subject":         "Printer on fire",
		"requester_id":    float64(4521),
		"organization_id": float64(7),
	})

	r := New(ix, nil, zap.NewNop())
	res, err := r.Resolve()
	require.NoError(t, err)

	key := record.Key{Type: record.EntityTickets, ID: 1}
	assert.Equal(t, "tickets/printer-on-fire.md", res.Paths[key])

	links := res.Links[key]
	require.Len(t, links, 2)

	requester := links[0]
	assert.Equal(t, "requester_id", requester.SourceField)
	assert.True(t, requester.Resolved)
	assert.Equal(t, "jordan-lee", requester.TargetSlug)
	assert.Equal(t, "../users/jordan-lee.md", requester.RelativePath)

	org := links[1]
	assert.True(t, org.Resolved)
	assert.Equal(t, "../organizations/acme-corp.md", org.RelativePath)

	assert.Zero(t, res.Unresolved)
}

func TestDanglingReferenceKept(t *testing.T) {
	ix := record.NewEntityIndex()
	addRec(ix, record.EntityTickets, 1, map[string]interface{}{
		"subject":      "Orphaned requester",
		"requester_id": float64(9999), // never collected
	})

	r := New(ix, nil, zap.NewNop())
	res, err := r.Resolve()
	require.NoError(t, err)

	links := res.Links[record.Key{Type: record.EntityTickets, ID: 1}]
	require.Len(t, links, 1)
	assert.False(t, links[0].Resolved)
	assert.Equal(t, int64(9999), links[0].TargetID)
	assert.Empty(t, links[0].RelativePath)
	assert.Equal(t, int64(1), res.Unresolved)
}

func TestNullReferenceIsNotALink(t *testing.T) {
	ix := record.NewEntityIndex()
	addRec(ix, record.EntityTickets, 1, map[string]interface{}{
		"subject":      "Unassigned",
		"requester_id": float64(5),
		"assignee_id":  nil,
	})
	addRec(ix, record.EntityUsers, 5, map[string]interface{}{"name": "Sam"})

	r := New(ix, nil, zap.NewNop())
	res, err := r.Resolve()
	require.NoError(t, err)

	links := res.Links[record.Key{Type: record.EntityTickets, ID: 1}]
	require.Len(t, links, 1, "null assignee produces no link at all")
	assert.Equal(t, "requester_id", links[0].SourceField)
}

func TestSlugCollisionDisambiguated(t *testing.T) {
	ix := record.NewEntityIndex()
	addRec(ix, record.EntityOrganizations, 10, map[string]interface{}{"name": "Acme Corp"})
	addRec(ix, record.EntityOrganizations, 20, map[string]interface{}{"name": "Acme Corp"})

	r := New(ix, nil, zap.NewNop())
	res, err := r.Resolve()
	require.NoError(t, err)

	first := res.Paths[record.Key{Type: record.EntityOrganizations, ID: 10}]
	second := res.Paths[record.Key{Type: record.EntityOrganizations, ID: 20}]

	assert.Equal(t, "organizations/acme-corp.md", first)
	assert.Equal(t, "organizations/acme-corp-20.md", second)
	assert.NotEqual(t, first, second)
}

func TestKnowledgeBaseHierarchyLinks(t *testing.T) {
	ix := record.NewEntityIndex()
	addRec(ix, record.EntityCategories, 1, map[string]interface{}{"name": "Billing"})
	addRec(ix, record.EntitySections, 2, map[string]interface{}{
		"name":        "Invoices",
		"category_id": float64(1),
	})
	addRec(ix, record.EntityArticles, 3, map[string]interface{}{
		"title":      "How to pay",
		"section_id": float64(2),
	})

	r := New(ix, nil, zap.NewNop())
	res, err := r.Resolve()
	require.NoError(t, err)

	assert.Equal(t, "knowledge-base/how-to-pay.md",
		res.Paths[record.Key{Type: record.EntityArticles, ID: 3}])
	assert.Equal(t, "knowledge-base/sections/invoices.md",
		res.Paths[record.Key{Type: record.EntitySections, ID: 2}])

	artLinks := res.Links[record.Key{Type: record.EntityArticles, ID: 3}]
	require.Len(t, artLinks, 1, "absent author_id yields no link")
	assert.Equal(t, "section_id", artLinks[0].SourceField)
	assert.True(t, artLinks[0].Resolved)
	assert.Equal(t, "sections/invoices.md", artLinks[0].RelativePath)

	secLinks := res.Links[record.Key{Type: record.EntitySections, ID: 2}]
	require.Len(t, secLinks, 1)
	assert.True(t, secLinks[0].Resolved)
	assert.Equal(t, "../categories/billing.md", secLinks[0].RelativePath)
}

func TestSlugCollisionWithNaturalIdSuffix(t *testing.T) {
	ix := record.NewEntityIndex()
	// A title that already carries the id-suffixed form of another
	// record's slug: id 20's disambiguation candidate "acme-corp-20"
	// is taken by id 5's natural slug.
	addRec(ix, record.EntityOrganizations, 5, map[string]interface{}{"name": "Acme Corp 20"})
	addRec(ix, record.EntityOrganizations, 10, map[string]interface{}{"name": "Acme Corp"})
	addRec(ix, record.EntityOrganizations, 20, map[string]interface{}{"name": "Acme Corp"})

	r := New(ix, nil, zap.NewNop())
	res, err := r.Resolve()
	require.NoError(t, err, "valid input must not fail resolution")

	paths := []string{
		res.Paths[record.Key{Type: record.EntityOrganizations, ID: 5}],
		res.Paths[record.Key{Type: record.EntityOrganizations, ID: 10}],
		res.Paths[record.Key{Type: record.EntityOrganizations, ID: 20}],
	}
	assert.Equal(t, "organizations/acme-corp-20.md", paths[0])
	assert.Equal(t, "organizations/acme-corp.md", paths[1])

	seen := make(map[string]struct{})
	for _, p := range paths {
		assert.NotEmpty(t, p)
		_, dup := seen[p]
		assert.False(t, dup, "every record keeps a distinct path")
		seen[p] = struct{}{}
	}
}

func TestResolveIdempotent(t *testing.T) {
	ix := record.NewEntityIndex()
	addRec(ix, record.EntityUsers, 1, map[string]interface{}{"name": "Sam"})
	addRec(ix, record.EntityUsers, 2, map[string]interface{}{"name": "Sam"})
	addRec(ix, record.EntityTickets, 1, map[string]interface{}{
		"subject":      "Hello",
		"requester_id": float64(2),
	})

	r := New(ix, nil, zap.NewNop())
	first, err := r.Resolve()
	require.NoError(t, err)
	second, err := r.Resolve()
	require.NoError(t, err)

	assert.Equal(t, first.Paths, second.Paths)
	assert.Equal(t, first.Links, second.Links)
}

func TestResolvedLinksPointToEmittedPaths(t *testing.T) {
	ix := record.NewEntityIndex()
	addRec(ix, record.EntityUsers, 1, map[string]interface{}{"name": "Sam", "organization_id": float64(3)})
	addRec(ix, record.EntityOrganizations, 3, map[string]interface{}{"name": "Acme"})
	addRec(ix, record.EntityTickets, 9, map[string]interface{}{
		"subject":      "Check links",
		"requester_id": float64(1),
		"group_id":     float64(77), // dangling
	})

	r := New(ix, nil, zap.NewNop())
	res, err := r.Resolve()
	require.NoError(t, err)

	emitted := make(map[string]struct{})
	for _, p := range res.Paths {
		emitted[p] = struct{}{}
	}

	for key, links := range res.Links {
		fromDir := ""
		switch key.Type {
		case record.EntityTickets:
			fromDir = "tickets"
		case record.EntityUsers:
			fromDir = "users"
		}
		for _, link := range links {
			if link.Resolved {
				// Rebase the relative path against the source document's
				// directory and require an emitted document there.
				full := path.Join(fromDir, link.RelativePath)
				_, ok := emitted[full]
				assert.True(t, ok, "resolved link %q must point at an emitted path", link.RelativePath)
			} else {
				assert.Empty(t, link.RelativePath, "dangling links carry no path")
			}
		}
	}
}

func TestCrossTypePathCollisionFatal(t *testing.T) {
	ix := record.NewEntityIndex()
	addRec(ix, record.EntityUsers, 1, map[string]interface{}{"name": "Shared Name"})
	addRec(ix, record.EntityMacros, 2, map[string]interface{}{"title": "Shared Name"})

	// Both entity types forced into one directory.
	dirs := map[record.EntityType]string{
		record.EntityUsers:  "everything",
		record.EntityMacros: "everything",
	}

	r := New(ix, dirs, zap.NewNop())
	_, err := r.Resolve()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRelativeToSameDirectory(t *testing.T) {
	assert.Equal(t, "jordan.md", relativeTo("users", "users/jordan.md"))
	assert.Equal(t, "../users/jordan.md", relativeTo("tickets", "users/jordan.md"))
	assert.Equal(t, "../../users/jordan.md", relativeTo("kb/articles", "users/jordan.md"))
}
