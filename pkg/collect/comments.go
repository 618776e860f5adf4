package collect

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/paginate"
	"github.com/ajitpratap0/comet/pkg/record"
	"go.uber.org/zap"
)

// unknownAuthor labels comments whose author was never collected.
const unknownAuthor = "Unknown"

// CommentEnricher attaches each collected ticket's comment thread to
// the ticket record. Comment fetches go through the same fetcher as
// page fetches, so they share the quota window and retry policy. A
// failed thread degrades that one ticket to comment-less rather than
// failing the run; only an authentication failure aborts.
type CommentEnricher struct {
	fetcher paginate.Fetcher
	index   *record.EntityIndex
	logger  *zap.Logger
}

// NewCommentEnricher creates an enricher reading tickets and users from
// the given index.
func NewCommentEnricher(fetcher paginate.Fetcher, index *record.EntityIndex, logger *zap.Logger) *CommentEnricher {
	return &CommentEnricher{
		fetcher: fetcher,
		index:   index,
		logger:  logger.With(zap.String("component", "comments")),
	}
}

// Enrich fetches the comment thread for every indexed ticket and stores
// it under the ticket's "comments" field, each comment tagged with its
// author's name. Returns the number of tickets enriched.
func (e *CommentEnricher) Enrich(ctx context.Context) (int, error) {
	enriched := 0
	for _, ticket := range e.index.Records(record.EntityTickets) {
		if err := ctx.Err(); err != nil {
			return enriched, err
		}

		comments, err := e.fetchThread(ctx, ticket.ID)
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeAuth) {
				return enriched, err
			}
			e.logger.Warn("comment fetch failed, ticket kept without comments",
				zap.Int64("ticket_id", ticket.ID),
				zap.Error(err))
			continue
		}

		ticket.Fields["comments"] = comments
		enriched++
	}

	e.logger.Info("ticket comments collected", zap.Int("tickets", enriched))
	return enriched, nil
}

// fetchThread walks one ticket's comment pages and resolves each
// author_id to a display name against the user index.
func (e *CommentEnricher) fetchThread(ctx context.Context, ticketID int64) ([]interface{}, error) {
	desc := record.Descriptor{
		Type:       "comments",
		Endpoint:   fmt.Sprintf("/tickets/%d/comments.json", ticketID),
		PayloadKey: "comments",
	}

	var thread []interface{}
	pg := paginate.New(e.fetcher, desc, nil, "")
	for pg.Next(ctx) {
		for _, rec := range pg.Page().Records {
			rec.Fields["author_name"] = e.authorName(rec)
			thread = append(thread, rec.Fields)
		}
	}
	if err := pg.Err(); err != nil {
		return nil, err
	}
	return thread, nil
}

func (e *CommentEnricher) authorName(comment *record.RawRecord) string {
	id, ok := comment.RefID("author_id")
	if !ok {
		return unknownAuthor
	}
	author, found := e.index.Get(record.EntityUsers, id)
	if !found {
		return unknownAuthor
	}
	if name := author.Record.StringField("name"); name != "" {
		return name
	}
	return unknownAuthor
}
