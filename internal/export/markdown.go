// Package export renders collected records as markdown documents and
// writes them under the output directory.
package export

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/record"
)

const documentTemplate = `---
title: "{{.Title}}"
entity: {{.Entity}}
id: {{.ID}}
fetched_at: {{.FetchedAt}}
---

# {{.Title}}

{{if .Fields}}| Field | Value |
| --- | --- |
{{range .Fields}}| {{.Name}} | {{.Value}} |
{{end}}{{end}}{{if .Links}}
## References

{{range .Links}}- {{.}}
{{end}}{{end}}{{if .Comments}}
## Comments

{{range .Comments}}### {{.Author}}{{if .CreatedAt}} ({{.CreatedAt}}){{end}}

{{.Body}}

{{end}}{{end}}`

type fieldRow struct {
	Name  string
	Value string
}

type commentBlock struct {
	Author    string
	CreatedAt string
	Body      string
}

type documentData struct {
	Title     string
	Entity    record.EntityType
	ID        int64
	FetchedAt string
	Fields    []fieldRow
	Links     []string
	Comments  []commentBlock
}

// MarkdownRenderer renders one record into a markdown document with a
// YAML front-matter header, a field table and a reference list.
type MarkdownRenderer struct {
	tmpl *template.Template
}

// NewMarkdownRenderer compiles the document template.
func NewMarkdownRenderer() (*MarkdownRenderer, error) {
	tmpl, err := template.New("document").Parse(documentTemplate)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to parse document template")
	}
	return &MarkdownRenderer{tmpl: tmpl}, nil
}

// Render produces the markdown body for a record.
func (r *MarkdownRenderer) Render(desc record.Descriptor, rec *record.RawRecord, links []record.ResolvedLink) (string, error) {
	data := documentData{
		Title:     escapeTitle(desc.Title(rec)),
		Entity:    rec.EntityType,
		ID:        rec.ID,
		FetchedAt: rec.FetchedAt.UTC().Format(time.RFC3339),
		Fields:    fieldRows(desc, rec),
		Links:     linkLines(links),
		Comments:  commentBlocks(rec),
	}

	var sb strings.Builder
	if err := r.tmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to render document").
			WithDetail("entity", string(rec.EntityType)).
			WithDetail("id", rec.ID)
	}
	return sb.String(), nil
}

// fieldRows flattens scalar fields into table rows in a stable order.
// Reference fields are skipped here; they surface in the reference list
// instead.
func fieldRows(desc record.Descriptor, rec *record.RawRecord) []fieldRow {
	refs := make(map[string]struct{}, len(desc.References))
	for _, ref := range desc.References {
		refs[ref.Field] = struct{}{}
	}

	names := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		if _, isRef := refs[name]; isRef {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]fieldRow, 0, len(names))
	for _, name := range names {
		v := rec.Fields[name]
		if v == nil {
			continue
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			// Nested structures do not fit a two-column table.
			continue
		}
		rows = append(rows, fieldRow{Name: name, Value: escapeCell(fmt.Sprintf("%v", v))})
	}
	return rows
}

// linkLines formats resolved links as markdown links and dangling ones
// as plain-text labels so the reader can tell a missing target from a
// broken link.
func linkLines(links []record.ResolvedLink) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		label := fmt.Sprintf("%s #%d", record.Singular(l.TargetType), l.TargetID)
		if l.Resolved {
			out = append(out, fmt.Sprintf("%s: [%s](%s)", l.SourceField, l.TargetSlug, l.RelativePath))
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s (not exported)", l.SourceField, label))
	}
	return out
}

// commentBlocks extracts an attached comment thread, if any. Comments
// land in the record as a list of raw objects, each already tagged with
// an author_name during collection.
func commentBlocks(rec *record.RawRecord) []commentBlock {
	raw, ok := rec.Fields["comments"].([]interface{})
	if !ok {
		return nil
	}

	out := make([]commentBlock, 0, len(raw))
	for _, item := range raw {
		fields, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		b := commentBlock{Author: "Unknown"}
		if v, ok := fields["author_name"].(string); ok && v != "" {
			b.Author = v
		}
		if v, ok := fields["created_at"].(string); ok {
			b.CreatedAt = v
		}
		if v, ok := fields["body"].(string); ok {
			b.Body = strings.TrimSpace(v)
		}
		out = append(out, b)
	}
	return out
}

func escapeTitle(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
