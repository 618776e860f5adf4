// Package transport provides the quota-governed HTTP fetch engine: an
// API client with connection pooling and a retrier with exponential
// backoff and jitter.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/comet/pkg/errors"
	"github.com/ajitpratap0/comet/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"
)

// Credentials holds API authentication material. APIToken auth uses the
// helpdesk token scheme (base64 of "email/token:token"); OAuthToken
// switches the client to bearer authentication.
type Credentials struct {
	Email      string `yaml:"email" json:"email"`
	APIToken   string `yaml:"api_token" json:"api_token"`
	OAuthToken string `yaml:"oauth_token" json:"oauth_token"`
}

// ClientConfig configures the API client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. https://acme.zendesk.com/api/v2
	BaseURL     string
	Credentials Credentials

	// Connection settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	EnableHTTP2         bool

	// Timeouts apply per individual attempt, not per task
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	RequestTimeout        time.Duration
	KeepAlive             time.Duration

	UserAgent string
}

// DefaultClientConfig returns tuned defaults for a paginated REST API.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		RequestTimeout:        30 * time.Second,
		KeepAlive:             30 * time.Second,
		UserAgent:             "comet/" + Version,
	}
}

// Version is the client version reported in the User-Agent header.
var Version = "0.1.0"

// Client is an authenticated HTTP client for one API endpoint base.
// All error returns carry a typed classification so the retrier can
// decide between retry, task failure and run abort.
type Client struct {
	config      *ClientConfig
	logger      *zap.Logger
	httpClient  *http.Client
	transport   *http.Transport
	authHeader  string
	tokenSource oauth2.TokenSource

	totalRequests  int64
	failedRequests int64
}

// NewClient creates a new API client.
func NewClient(config *ClientConfig, logger *zap.Logger) (*Client, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.BaseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "endpoint base URL is required")
	}

	client := &Client{
		config: config,
		logger: logger.With(zap.String("component", "transport")),
	}

	client.transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	switch {
	case config.Credentials.OAuthToken != "":
		client.tokenSource = oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: config.Credentials.OAuthToken,
			TokenType:   "Bearer",
		})
	case config.Credentials.Email != "" && config.Credentials.APIToken != "":
		raw := config.Credentials.Email + "/token:" + config.Credentials.APIToken
		client.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "missing credentials: set email/api_token or oauth_token")
	}

	return client, nil
}

// Get fetches one resource. The endpoint may be a path relative to the
// base URL or an absolute URL handed back by the API as a page cursor;
// absolute URLs must stay on the configured host.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target, err := c.resolveURL(endpoint, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, c.classifyTransportError(endpoint, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	log := c.logger
	if runID, ok := ctx.Value(logger.RunIDKey).(string); ok {
		log = log.With(zap.String("run_id", runID))
	}
	log.Debug("request completed",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if err := c.classifyStatus(endpoint, resp); err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, err
	}
	if readErr != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, errors.Wrap(readErr, errors.ErrorTypeConnection, "failed to read response body").
			WithDetail("endpoint", endpoint)
	}

	return body, nil
}

// TestConnection verifies credentials against the current-user endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.Get(ctx, "/users/me.json", nil)
	return err
}

// Stats returns request counters.
func (c *Client) Stats() (total, failed int64) {
	return atomic.LoadInt64(&c.totalRequests), atomic.LoadInt64(&c.failedRequests)
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

func (c *Client) authorize(req *http.Request) error {
	if c.tokenSource != nil {
		tok, err := c.tokenSource.Token()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeAuth, "failed to obtain OAuth token")
		}
		tok.SetAuthHeader(req)
		return nil
	}
	req.Header.Set("Authorization", c.authHeader)
	return nil
}

func (c *Client) resolveURL(endpoint string, params url.Values) (string, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		base, err := url.Parse(c.config.BaseURL)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid base URL")
		}
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeData, "invalid cursor URL")
		}
		if u.Host != base.Host {
			return "", errors.Newf(errors.ErrorTypeData, "cursor URL host %q does not match endpoint base", u.Host)
		}
		return endpoint, nil
	}

	target := strings.TrimSuffix(c.config.BaseURL, "/") + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return target, nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy. 2xx
// returns nil.
func (c *Client) classifyStatus(endpoint string, resp *http.Response) error {
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return errors.New(errors.ErrorTypeAuth, "authentication failed, check API credentials").
			WithDetail("endpoint", endpoint).WithDetail("status", status)
	case status == http.StatusForbidden:
		return errors.New(errors.ErrorTypePermission, "access forbidden").
			WithDetail("endpoint", endpoint).WithDetail("status", status)
	case status == http.StatusNotFound:
		return errors.Newf(errors.ErrorTypeNotFound, "resource not found: %s", endpoint).
			WithDetail("endpoint", endpoint).WithDetail("status", status)
	case status == http.StatusTooManyRequests:
		err := errors.New(errors.ErrorTypeRateLimit, "rate limit exceeded").
			WithDetail("endpoint", endpoint).WithDetail("status", status)
		if ra := retryAfter(resp); ra > 0 {
			err = err.WithDetail("retry_after", ra)
		}
		return err
	case status == http.StatusUnprocessableEntity:
		return errors.New(errors.ErrorTypePagination, "pagination cursor rejected").
			WithDetail("endpoint", endpoint).WithDetail("status", status)
	case status >= 500:
		return errors.Newf(errors.ErrorTypeServer, "server error: %d", status).
			WithDetail("endpoint", endpoint).WithDetail("status", status)
	default:
		return errors.Newf(errors.ErrorTypeData, "unexpected status code: %d", status).
			WithDetail("endpoint", endpoint).WithDetail("status", status)
	}
}

// classifyTransportError maps net-level failures. Timeouts and
// connection resets are retryable.
func (c *Client) classifyTransportError(endpoint string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out").
			WithDetail("endpoint", endpoint)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
		WithDetail("endpoint", endpoint)
}

// retryAfter parses the Retry-After header as a duration of seconds.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
