// Package apiclient is the REST client used by API-level tests. It handles
// authentication, request correlation, compression, throttling and retries
// so tests only deal with paths and payloads.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/e2e-harness/internal/config"
	"github.com/xkilldash9x/e2e-harness/internal/wait"
)

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

var errRetryableStatus = errors.New("retryable status")

// Client sends requests relative to a base URL.
type Client struct {
	base    *url.URL
	http    *http.Client
	headers map[string]string
	tokens  TokenSource
	limiter *rate.Limiter
	backoff wait.Backoff
	logger  *zap.Logger
}

// New builds a client for baseURL using the api config section.
func New(baseURL string, cfg config.APIConfig, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid api base url %q", baseURL)
	}
	// Relative paths resolve under the base path, not beside it.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	tokens, err := tokenSourceFor(cfg.Auth)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	return &Client{
		base: base,
		http: &http.Client{
			Transport: &decodingTransport{next: http.DefaultTransport.(*http.Transport).Clone()},
			Timeout:   cfg.Timeout,
			Jar:       jar,
		},
		headers: cfg.Headers,
		tokens:  tokens,
		limiter: limiter,
		backoff: wait.Backoff{
			Initial: backoff,
			Max:     10 * backoff,
			Factor:  2,
			Steps:   cfg.MaxRetries + 1,
		},
		logger: logger.Named("api"),
	}, nil
}

// NewFromConfig builds a client pointed at app.api_url.
func NewFromConfig(cfg config.Interface, logger *zap.Logger) (*Client, error) {
	return New(cfg.App().APIURL, cfg.API(), logger)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Cookies returns the cookies the jar would send to path.
func (c *Client) Cookies(path string) []*http.Cookie {
	u, err := c.resolve(path, nil)
	if err != nil {
		return nil
	}
	return c.http.Jar.Cookies(u)
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	header  http.Header
	query   url.Values
	noAuth  bool
	noRetry bool
}

// WithHeader sets a header on the request, overriding client defaults.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(o *requestOptions) { o.query.Add(key, value) }
}

// WithoutAuth omits the Authorization header.
func WithoutAuth() RequestOption {
	return func(o *requestOptions) { o.noAuth = true }
}

// WithoutRetry sends the request exactly once.
func WithoutRetry() RequestOption {
	return func(o *requestOptions) { o.noRetry = true }
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do sends a request and reads the whole response. body may be nil, []byte,
// string, io.Reader, or any value that is encoded as JSON.
//
// Idempotent methods are retried on transport errors and on 502, 503 and 504.
// When retries run out on a retryable status the last response is returned
// without an error, so callers can assert on it.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	o := requestOptions{header: make(http.Header), query: make(url.Values)}
	for _, opt := range opts {
		opt(&o)
	}

	target, err := c.resolve(path, o.query)
	if err != nil {
		return nil, err
	}
	payload, contentType, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}

	requestID := uuid.NewString()
	log := c.logger.With(
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("url", target.String()),
	)

	backoff := c.backoff
	if o.noRetry || !idempotent(method) {
		backoff.Steps = 1
	}

	var (
		last    *Response
		attempt int
	)
	err = wait.Retry(ctx, backoff, func(ctx context.Context) error {
		attempt++
		req, err := c.newRequest(ctx, method, target, payload, contentType, requestID, o)
		if err != nil {
			return wait.Permanent(err)
		}

		resp, err := c.send(ctx, req)
		if err != nil {
			log.Warn("Request failed.", zap.Int("attempt", attempt), zap.Error(err))
			if ctx.Err() != nil {
				return wait.Permanent(err)
			}
			return err
		}

		last = resp
		log.Debug("Response received.",
			zap.Int("attempt", attempt),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", resp.Duration),
		)
		if retryableStatus(resp.StatusCode) {
			return fmt.Errorf("%w %d", errRetryableStatus, resp.StatusCode)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, errRetryableStatus) && last != nil && ctx.Err() == nil {
			return last, nil
		}
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	return last, nil
}

func (c *Client) newRequest(ctx context.Context, method string, target *url.URL, payload []byte, contentType, requestID string, o requestOptions) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.tokens != nil && !o.noAuth {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, vs := range o.header {
		req.Header[k] = vs
	}
	return req, nil
}

func (c *Client) send(ctx context.Context, req *http.Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		Method:     req.Method,
		URL:        req.URL.String(),
		RequestID:  req.Header.Get(RequestIDHeader),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

func (c *Client) resolve(path string, query url.Values) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	var u *url.URL
	if ref.IsAbs() {
		u = ref
	} else {
		// A leading slash would escape the base path.
		ref.Path = strings.TrimPrefix(ref.Path, "/")
		u = c.base.ResolveReference(ref)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "application/octet-stream", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read request body: %w", err)
		}
		return data, "application/octet-stream", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, "application/json", nil
	}
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
