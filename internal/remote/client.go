// Package remote talks to a duel authority over HTTP RPC and its realtime feed.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

// HeaderProvider allows injecting per-request headers.
type HeaderProvider func() map[string]string

type Client struct {
	baseURL     string
	realtimeURL string
	http        *fasthttp.Client
	headers     HeaderProvider
	apiKey      string
	token       string
	logger      *zap.Logger

	defaultTimeout time.Duration
	retryMax       int

	feedReconnects int
	feedDelay      time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithAPIKey sends key as the apikey header and, unless a session token is
// set, as the bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func WithSessionToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithRealtimeURL sets the websocket base, e.g. ws://host:8080/realtime.
func WithRealtimeURL(u string) Option {
	return func(c *Client) { c.realtimeURL = strings.TrimRight(strings.TrimSpace(u), "/") }
}

func WithFeedReconnect(maxAttempts int, delay time.Duration) Option {
	return func(c *Client) { c.feedReconnects, c.feedDelay = maxAttempts, delay }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		feedReconnects: 10,
		feedDelay:      time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.realtimeURL == "" {
		c.realtimeURL = deriveRealtimeURL(c.baseURL)
	}
	return c
}

// deriveRealtimeURL maps http(s)://host/x to ws(s)://host/x/realtime.
func deriveRealtimeURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	return u.String()
}

func (c *Client) authHeaders() map[string]string {
	h := map[string]string{}
	if c.apiKey != "" {
		h["apikey"] = c.apiKey
		h["Authorization"] = "Bearer " + c.apiKey
	}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	if c.headers != nil {
		for k, v := range c.headers() {
			h[k] = v
		}
	}
	return h
}

// call invokes procedure with named parameters in and decodes the result into out.
func (c *Client) call(ctx context.Context, procedure string, in any, out any, retry bool) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/rpc/"+procedure, in, out, retry)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	url := c.baseURL + path
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	req.Header.SetContentType("application/json")
	for k, v := range c.authHeaders() {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			req.Header.Set(k, v)
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		deadline := c.computeDeadline(ctx)
		err := c.http.DoDeadline(req, resp, deadline)
		if err != nil {
			if attempt == attempts || !retry {
				return fmt.Errorf("request %s failed: %w", path, err)
			}
			lastErr = err
			c.logger.Debug("rpc_retry", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			err := decodeError(status, resp.Body())
			if attempt == attempts || !retry || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
			c.logger.Debug("rpc_retry", zap.String("path", path), zap.Int("attempt", attempt), zap.Int("status", status))
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// decodeError prefers the authority's structured error body, which unwraps
// to the matching domain sentinel.
func decodeError(status int, body []byte) error {
	var e dueldto.Error
	if err := json.Unmarshal(body, &e); err == nil && e.Code != "" {
		return e
	}
	return fmt.Errorf("duel api error: status=%d body=%s", status, truncate(string(body), 512))
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.defaultTimeout)
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
