package record

import (
	"fmt"
	"strings"
)

// EntityType is one category of remote record.
type EntityType string

const (
	EntityTickets       EntityType = "tickets"
	EntityUsers         EntityType = "users"
	EntityOrganizations EntityType = "organizations"
	EntityCategories    EntityType = "categories"
	EntitySections      EntityType = "sections"
	EntityArticles      EntityType = "articles"
	EntityMacros        EntityType = "macros"
	EntityGroups        EntityType = "groups"
)

// Descriptor describes how one entity type is fetched, titled and
// linked. The reference declarations are static; they are validated at
// ingestion rather than discovered during rendering.
type Descriptor struct {
	Type EntityType

	// Endpoint is the collection endpoint relative to the API base.
	Endpoint string

	// PayloadKey is the JSON key holding the record array in a page
	// response.
	PayloadKey string

	// TitleFields are tried in order to derive a human-readable title.
	TitleFields []string

	// OutputDir is the default output subdirectory for this entity
	// type's documents.
	OutputDir string

	// References declares which fields hold cross-entity ids.
	References []ReferenceField
}

var catalog = map[EntityType]Descriptor{
	EntityTickets: {
		Type:        EntityTickets,
		Endpoint:    "/tickets.json",
		PayloadKey:  "tickets",
		TitleFields: []string{"subject"},
		OutputDir:   "tickets",
		References: []ReferenceField{
			{Field: "requester_id", Target: EntityUsers},
			{Field: "assignee_id", Target: EntityUsers},
			{Field: "organization_id", Target: EntityOrganizations},
			{Field: "group_id", Target: EntityGroups},
		},
	},
	EntityUsers: {
		Type:        EntityUsers,
		Endpoint:    "/users.json",
		PayloadKey:  "users",
		TitleFields: []string{"name"},
		OutputDir:   "users",
		References: []ReferenceField{
			{Field: "organization_id", Target: EntityOrganizations},
			{Field: "default_group_id", Target: EntityGroups},
		},
	},
	EntityOrganizations: {
		Type:        EntityOrganizations,
		Endpoint:    "/organizations.json",
		PayloadKey:  "organizations",
		TitleFields: []string{"name"},
		OutputDir:   "organizations",
	},
	EntityCategories: {
		Type:        EntityCategories,
		Endpoint:    "/help_center/categories.json",
		PayloadKey:  "categories",
		TitleFields: []string{"name"},
		OutputDir:   "knowledge-base/categories",
	},
	EntitySections: {
		Type:        EntitySections,
		Endpoint:    "/help_center/sections.json",
		PayloadKey:  "sections",
		TitleFields: []string{"name"},
		OutputDir:   "knowledge-base/sections",
		References: []ReferenceField{
			{Field: "category_id", Target: EntityCategories},
		},
	},
	EntityArticles: {
		Type:        EntityArticles,
		Endpoint:    "/help_center/articles.json",
		PayloadKey:  "articles",
		TitleFields: []string{"title", "name"},
		OutputDir:   "knowledge-base",
		References: []ReferenceField{
			{Field: "author_id", Target: EntityUsers},
			{Field: "section_id", Target: EntitySections},
		},
	},
	EntityMacros: {
		Type:        EntityMacros,
		Endpoint:    "/macros.json",
		PayloadKey:  "macros",
		TitleFields: []string{"title"},
		OutputDir:   "macros",
	},
	EntityGroups: {
		Type:        EntityGroups,
		Endpoint:    "/groups.json",
		PayloadKey:  "groups",
		TitleFields: []string{"name"},
		OutputDir:   "groups",
	},
}

// Lookup returns the descriptor for an entity type.
func Lookup(typ EntityType) (Descriptor, bool) {
	d, ok := catalog[typ]
	return d, ok
}

// AllTypes returns every known entity type in a stable order.
func AllTypes() []EntityType {
	return []EntityType{
		EntityTickets,
		EntityUsers,
		EntityOrganizations,
		EntityCategories,
		EntitySections,
		EntityArticles,
		EntityMacros,
		EntityGroups,
	}
}

// ParseTypes parses a comma-separated entity type list. An empty input
// selects every known type.
func ParseTypes(s string) ([]EntityType, error) {
	if strings.TrimSpace(s) == "" {
		return AllTypes(), nil
	}

	var out []EntityType
	seen := make(map[EntityType]struct{})
	for _, part := range strings.Split(s, ",") {
		typ := EntityType(strings.TrimSpace(strings.ToLower(part)))
		if typ == "" {
			continue
		}
		if _, ok := catalog[typ]; !ok {
			return nil, fmt.Errorf("unknown entity type %q", typ)
		}
		if _, dup := seen[typ]; dup {
			continue
		}
		seen[typ] = struct{}{}
		out = append(out, typ)
	}
	return out, nil
}

// Title derives a human-readable title for a record, falling back to
// "<type> <id>" when no title field is set.
func (d Descriptor) Title(rec *RawRecord) string {
	for _, f := range d.TitleFields {
		if t := rec.StringField(f); t != "" {
			return t
		}
	}
	return fmt.Sprintf("%s %d", singular(string(d.Type)), rec.ID)
}

func singular(t string) string {
	if strings.HasSuffix(t, "ies") {
		return strings.TrimSuffix(t, "ies") + "y"
	}
	return strings.TrimSuffix(t, "s")
}

// Singular returns the singular noun for an entity type, for
// human-readable labels.
func Singular(typ EntityType) string {
	return singular(string(typ))
}
