// Package gateway is a small JSON-over-HTTP client for the auxiliary REST
// surface of the remote store: bulk export, collection fetch and webhooks.
package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 32 << 20

// Config configures a Gateway.
type Config struct {
	BaseURL        string
	AuthToken      string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	Logger    *slog.Logger
}

// Request describes one call. URL may be absolute or a path relative to
// Config.BaseURL. Zero Timeout or MaxRetries fall back to the gateway's
// defaults; a negative MaxRetries disables retries.
type Request struct {
	Method     string
	URL        string
	Body       any
	Timeout    time.Duration
	MaxRetries int
}

// Response is a completed 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return http.StatusText(e.StatusCode) + ": " + strings.TrimSpace(e.Body)
}

// Gateway performs JSON requests with retries and a client-side rate limit.
type Gateway struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "gateway"),
	}
}

func (g *Gateway) resolve(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return strings.TrimRight(g.cfg.BaseURL, "/") + "/" + strings.TrimLeft(u, "/")
}

// Do sends req. Network failures and 5xx responses are retried with
// exponential backoff; 4xx responses are returned immediately as
// *StatusError.
func (g *Gateway) Do(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		body = data
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}
	retries := req.MaxRetries
	if retries == 0 {
		retries = g.cfg.MaxRetries
	}
	if retries < 0 {
		retries = 0
	}
	url := g.resolve(req.URL)

	backoff := retry.NewExponential(g.cfg.InitialBackoff)
	backoff = retry.WithCappedDuration(g.cfg.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(retries), backoff)

	var resp *Response
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := g.send(ctx, req.Method, url, body, timeout)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode < 500 {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.Debug("request failed, retrying", "method", req.Method, "url", url, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, url)
	}
	return resp, nil
}

func (g *Gateway) send(ctx context.Context, method, url string, body []byte, timeout time.Duration) (*Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if g.cfg.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.AuthToken)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: string(data)}
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}
