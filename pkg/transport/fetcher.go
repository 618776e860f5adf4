package transport

import (
	"context"
	"net/url"
)

// RetryingFetcher binds the client and the retrier into the fetch
// engine the paginator consumes: every fetch is quota-gated and retried
// per policy.
type RetryingFetcher struct {
	Client  *Client
	Retrier *Retrier
}

// Fetch fetches one page body with retries.
func (f *RetryingFetcher) Fetch(ctx context.Context, entity, endpoint string, params url.Values) ([]byte, error) {
	return f.Retrier.Execute(ctx, entity, func(ctx context.Context) ([]byte, error) {
		return f.Client.Get(ctx, endpoint, params)
	})
}
