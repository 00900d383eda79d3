// Package resilience provides the outbound HTTP client shared by site adapters:
// a persistent session, a randomized courtesy delay, bounded retries with
// exponential backoff, and classification of terminal failures.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 45 * time.Second
	DefaultMaxRetries  = 5
	DefaultDelayMin    = 2 * time.Second
	DefaultDelayMax    = 5 * time.Second
	DefaultBackoffUnit = 1 * time.Second
	DefaultMaxBodySize = 10 << 20
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edge/120.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	Elapsed    time.Duration
}

// Client performs resilient GET requests on behalf of one source.
type Client struct {
	name        string
	session     *http.Client
	doer        Doer
	headers     http.Header
	maxRetries  int
	delayMin    time.Duration
	delayMax    time.Duration
	backoffUnit time.Duration
	maxBodySize int64
	sleep       SleepFunc
	jitter      func() float64
	logger      *slog.Logger

	hostRate  rate.Limit
	hostBurst int
	hostMu    sync.Mutex
	hosts     map[string]*rate.Limiter

	requestsMade    atomic.Int64
	propertiesFound atomic.Int64
	errorsCount     atomic.Int64
	statsMu         sync.Mutex
	startedAt       time.Time
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the per-attempt timeout of the session.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.session.Timeout = d
	}
}

// WithMaxRetries sets the total number of attempts per fetch.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithDelayRange sets the courtesy delay bounds. min > max is swapped.
func WithDelayRange(min, max time.Duration) ClientOption {
	return func(c *Client) {
		if min > max {
			min, max = max, min
		}
		c.delayMin, c.delayMax = min, max
	}
}

// WithBackoffUnit sets the unit of the 2^k + jitter backoff.
func WithBackoffUnit(d time.Duration) ClientOption {
	return func(c *Client) {
		c.backoffUnit = d
	}
}

// WithHTTPClient replaces the session.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.session = client
		c.doer = client
	}
}

// WithDoer replaces the transport used for attempts, e.g. with a test double.
func WithDoer(d Doer) ClientOption {
	return func(c *Client) {
		c.doer = d
	}
}

// WithHeader sets a default header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithHostRate paces attempts per host with a token bucket.
func WithHostRate(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.hostRate = rate.Limit(rps)
		c.hostBurst = burst
	}
}

// WithSleeper replaces the function used for courtesy and backoff waits.
func WithSleeper(fn SleepFunc) ClientOption {
	return func(c *Client) {
		c.sleep = fn
	}
}

// WithJitter replaces the [0,1) random source used for delays.
func WithJitter(fn func() float64) ClientOption {
	return func(c *Client) {
		c.jitter = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the named source.
func NewClient(name string, opts ...ClientOption) *Client {
	session := &http.Client{Timeout: DefaultTimeout}
	c := &Client{
		name:        name,
		session:     session,
		doer:        session,
		headers:     defaultHeaders(),
		maxRetries:  DefaultMaxRetries,
		delayMin:    DefaultDelayMin,
		delayMax:    DefaultDelayMax,
		backoffUnit: DefaultBackoffUnit,
		maxBodySize: DefaultMaxBodySize,
		sleep:       sleepContext,
		jitter:      rand.Float64,
		logger:      slog.Default(),
		hostRate:    rate.Inf,
		hosts:       make(map[string]*rate.Limiter),
		startedAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "resilience", "source", name)
	return c
}

func defaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Cache-Control", "max-age=0")
	h.Set("DNT", "1")
	return h
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Name returns the source name the client was created for.
func (c *Client) Name() string {
	return c.name
}

// MaxRetries returns the configured number of attempts.
func (c *Client) MaxRetries() int {
	return c.maxRetries
}

// RequestOption adjusts a single fetch.
type RequestOption func(*http.Request)

// WithRequestHeader sets a header on one fetch only.
func WithRequestHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// Fetch performs up to MaxRetries attempts, each preceded by the courtesy
// delay; retries additionally wait the backoff first.
// 429 and 403 end the loop at once. When all attempts fail the error is
// KindTimeout if any attempt timed out, KindConnection otherwise.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	start := time.Now()

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		c.errorsCount.Add(1)
		return nil, &Error{Kind: KindConnection, URL: rawURL, Err: fmt.Errorf("parse url: %w", errOrInvalid(err))}
	}

	var lastErr error
	timedOut := false

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			c.logger.Warn("retrying request",
				"attempt", attempt, "max_attempts", c.maxRetries, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, c.abort(rawURL, attempt-1, start, err)
			}
		}
		// every outbound request, retries included, is paced
		if err := c.courtesyDelay(ctx); err != nil {
			return nil, c.abort(rawURL, attempt-1, start, err)
		}

		if err := c.waitHost(ctx, u.Host); err != nil {
			return nil, c.abort(rawURL, attempt-1, start, err)
		}

		resp, err := c.do(ctx, rawURL, opts)
		if err == nil {
			resp.Attempts = attempt
			resp.Elapsed = time.Since(start)
			return resp, nil
		}

		var fe *Error
		if errors.As(err, &fe) && fe.Kind.Terminal() {
			fe.Attempts = attempt
			fe.Elapsed = time.Since(start)
			c.errorsCount.Add(1)
			observability.RecordFetchError(c.name, fe.Kind.String())
			return nil, fe
		}

		if isTimeout(err) {
			timedOut = true
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, c.abort(rawURL, attempt, start, ctx.Err())
		}
	}

	kind := KindConnection
	if timedOut {
		kind = KindTimeout
	}
	c.errorsCount.Add(1)
	observability.RecordFetchError(c.name, kind.String())
	return nil, &Error{
		Kind:     kind,
		URL:      rawURL,
		Attempts: c.maxRetries,
		Elapsed:  time.Since(start),
		Err:      fmt.Errorf("max retries exceeded: %w", lastErr),
	}
}

// do performs one attempt and classifies the response status.
func (c *Client) do(ctx context.Context, rawURL string, opts []RequestOption) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for _, opt := range opts {
		opt(req)
	}

	c.requestsMade.Add(1)
	attemptStart := time.Now()

	resp, err := c.doer.Do(req)
	if err != nil {
		observability.RecordFetchAttempt(c.name, "error", time.Since(attemptStart).Seconds())
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	observability.RecordFetchAttempt(c.name, strconvStatus(resp.StatusCode), time.Since(attemptStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:       KindRateLimited,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("rate limited by %s", req.URL.Host),
		}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &Error{
			Kind:       KindBlocked,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("blocked by %s", req.URL.Host),
		}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &Error{
			Kind:       KindConnection,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	return &Response{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// courtesyDelay waits a uniformly random duration in [delayMin, delayMax].
func (c *Client) courtesyDelay(ctx context.Context) error {
	span := c.delayMax - c.delayMin
	d := c.delayMin
	if span > 0 {
		d += time.Duration(c.jitter() * float64(span))
	}
	if d <= 0 {
		return ctx.Err()
	}
	c.logger.Debug("applying courtesy delay", "delay", d)
	return c.sleep(ctx, d)
}

// backoff returns the wait after failing attempt k: 2^k + rand[0,1) units.
func (c *Client) backoff(k int) time.Duration {
	units := math.Pow(2, float64(k)) + c.jitter()
	return time.Duration(units * float64(c.backoffUnit))
}

func (c *Client) waitHost(ctx context.Context, host string) error {
	if c.hostRate == rate.Inf {
		return nil
	}
	c.hostMu.Lock()
	l, ok := c.hosts[host]
	if !ok {
		l = rate.NewLimiter(c.hostRate, c.hostBurst)
		c.hosts[host] = l
	}
	c.hostMu.Unlock()

	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("host rate wait: %w", err)
	}
	return nil
}

// abort classifies a cancellation or deadline hit outside an attempt.
func (c *Client) abort(rawURL string, attempts int, start time.Time, err error) *Error {
	kind := KindConnection
	if isTimeout(err) {
		kind = KindTimeout
	}
	c.errorsCount.Add(1)
	observability.RecordFetchError(c.name, kind.String())
	return &Error{Kind: kind, URL: rawURL, Attempts: attempts, Elapsed: time.Since(start), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func errOrInvalid(err error) error {
	if err != nil {
		return err
	}
	return errors.New("missing host")
}

func strconvStatus(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// AddError counts a failure detected after a successful transfer, such as
// a page that could not be parsed.
func (c *Client) AddError() {
	c.errorsCount.Add(1)
}

// AddFound adds n to the properties-found counter.
func (c *Client) AddFound(n int) {
	c.propertiesFound.Add(int64(n))
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() domain.SourceStats {
	c.statsMu.Lock()
	started := c.startedAt
	c.statsMu.Unlock()
	return domain.SourceStats{
		Name:            c.name,
		RequestsMade:    c.requestsMade.Load(),
		PropertiesFound: c.propertiesFound.Load(),
		ErrorsCount:     c.errorsCount.Load(),
		StartedAt:       started,
	}
}

// ResetStats zeroes the counters and restarts the session clock.
func (c *Client) ResetStats() {
	c.requestsMade.Store(0)
	c.propertiesFound.Store(0)
	c.errorsCount.Store(0)
	c.statsMu.Lock()
	c.startedAt = time.Now().UTC()
	c.statsMu.Unlock()
}

// Close releases idle connections of the session.
func (c *Client) Close() error {
	c.session.CloseIdleConnections()
	c.logger.Info("closed client")
	return nil
}
