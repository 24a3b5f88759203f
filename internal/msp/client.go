// Package msp provides a client for the MSP portal API and the
// normalization layer that flattens its payload variants.
package msp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"grimm.is/boxwatch/internal/clock"
	"grimm.is/boxwatch/internal/logging"
)

const (
	// maxAttempts bounds retries for transient failures. The delay
	// schedule is indexed by attempt and capped at its last entry.
	maxAttempts = 3

	// maxErrorBody bounds how much of an error response we read back
	// into error messages.
	maxErrorBody = 2048
)

var retryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// Client talks to one MSP portal. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	gid        string
	httpClient *http.Client
	clk        clock.Clock
	log        *logging.Logger
	userAgent  string
	retryAuth  bool
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the derived base URL. Used by tests to point
// the client at a local server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithClock injects the clock used for retry backoff.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clk = clk
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithBoxGID scopes rule operations to one box.
func WithBoxGID(gid string) Option {
	return func(c *Client) {
		c.gid = gid
	}
}

// WithRetryAuth enables one extra attempt after a 401 before giving up.
// Useful when the portal invalidates tokens briefly during maintenance.
func WithRetryAuth(enabled bool) Option {
	return func(c *Client) {
		c.retryAuth = enabled
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a client for the given MSP domain and access token.
// The domain may be bare ("acme.firewalla.net") or carry a scheme.
func New(domain, token string, opts ...Option) (*Client, error) {
	if domain == "" {
		return nil, validationErr("new", "msp domain is required")
	}
	if token == "" {
		return nil, validationErr("new", "access token is required")
	}

	base := domain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasSuffix(base, "/v2") {
		base += "/v2"
	}

	c := &Client{
		baseURL:    base,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clk:        &clock.RealClock{},
		log:        logging.WithComponent("msp"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the resolved API base, for diagnostics.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs one API call with retry. Transient failures
// (connection errors, 429, 5xx) are retried up to maxAttempts with an
// escalating delay; 401 gets at most one extra attempt when retryAuth
// is set; other 4xx are terminal. The raw response body is returned so
// callers can pick a decode strategy per endpoint.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	op := method + " " + path

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Op: op, Message: "encode request body", Err: err}
		}
		payload = b
	}

	var lastErr error
	authRetried := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryDelays[min(attempt-1, len(retryDelays)-1)]
			c.log.Debug("retrying request", "op", op, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, &Error{Kind: KindConnection, Op: op, Message: "canceled", Err: ctx.Err()}
			case <-c.clk.After(delay):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Op: op, Message: "build request", Err: err}
		}
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &Error{Kind: KindConnection, Op: op, Message: "canceled", Err: ctx.Err()}
			}
			lastErr = &Error{Kind: KindConnection, Op: op, Message: "request failed", Err: err}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &Error{Kind: KindConnection, Op: op, Status: resp.StatusCode, Message: "read response", Err: readErr}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return respBody, nil

		case resp.StatusCode == http.StatusUnauthorized:
			authErr := &Error{Kind: KindAuth, Op: op, Status: resp.StatusCode, Message: "access token rejected"}
			if c.retryAuth && !authRetried {
				authRetried = true
				lastErr = authErr
				continue
			}
			return nil, authErr

		case resp.StatusCode == http.StatusForbidden:
			return nil, &Error{Kind: KindPermission, Op: op, Status: resp.StatusCode,
				Message: "token lacks permission: " + errorBody(respBody)}

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &Error{Kind: KindRateLimit, Op: op, Status: resp.StatusCode, Message: "rate limited"}
			if d := retryAfter(resp.Header); d > 0 {
				select {
				case <-ctx.Done():
					return nil, &Error{Kind: KindConnection, Op: op, Message: "canceled", Err: ctx.Err()}
				case <-c.clk.After(d):
				}
			}
			continue

		case resp.StatusCode >= 500:
			lastErr = &Error{Kind: KindServer, Op: op, Status: resp.StatusCode,
				Message: "server error: " + errorBody(respBody)}
			continue

		default:
			return nil, &Error{Kind: KindUpstream, Op: op, Status: resp.StatusCode,
				Message: errorBody(respBody)}
		}
	}

	return nil, lastErr
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func errorBody(body []byte) string {
	b := bytes.TrimSpace(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	// Error payloads are usually {"message": "..."} but not always.
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(b, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	return string(b)
}

// Authenticate probes the portal with the configured token. It is the
// startup credential check: a KindAuth error means the token is bad,
// anything transient surfaces as-is.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.GetBoxes(ctx)
	return err
}

// GetRules fetches all rules, optionally filtered by a portal query
// string such as "status:active box.id:<gid>". The skipped count is
// the number of malformed records dropped during normalization.
func (c *Client) GetRules(ctx context.Context, query string) ([]Rule, int, error) {
	path := "/rules"
	if query != "" {
		path += "?query=" + url.QueryEscape(query)
	}
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	rules, skipped, err := DecodeRules(body)
	if err != nil {
		return nil, 0, &Error{Kind: KindUpstream, Op: "GET /rules", Message: "decode rules", Err: err}
	}
	if skipped > 0 {
		c.log.Warn("skipped malformed rule records", "count", skipped)
	}
	return rules, skipped, nil
}

// GetRule fetches a single rule by id.
func (c *Client) GetRule(ctx context.Context, id string) (Rule, error) {
	if id == "" {
		return Rule{}, validationErr("GetRule", "rule id is required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/rules/"+url.PathEscape(id), nil)
	if err != nil {
		return Rule{}, err
	}
	rule, err := parseRule(body)
	if err != nil {
		return Rule{}, &Error{Kind: KindUpstream, Op: "GET /rules/" + id, Message: "decode rule", Err: err}
	}
	return rule, nil
}

// CreateRule creates a rule on the box. The portal assigns the id and
// returns the created rule, which may be wrapped in a results envelope.
func (c *Client) CreateRule(ctx context.Context, nr NewRule) (Rule, error) {
	if nr.Action == "" {
		return Rule{}, validationErr("CreateRule", "action is required")
	}
	if nr.GID == "" {
		nr.GID = c.gid
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/rules", nr)
	if err != nil {
		return Rule{}, err
	}

	rule, err := parseRule(body)
	if err == nil {
		return rule, nil
	}
	// Some portal versions wrap the created rule.
	rules, _, derr := DecodeRules(body)
	if derr == nil && len(rules) == 1 {
		return rules[0], nil
	}
	return Rule{}, &Error{Kind: KindUpstream, Op: "POST /rules", Message: "decode created rule", Err: err}
}

// PauseRule suspends enforcement of a rule without deleting it.
func (c *Client) PauseRule(ctx context.Context, id string) error {
	return c.ruleCommand(ctx, id, "pause")
}

// UnpauseRule resumes enforcement of a paused rule.
func (c *Client) UnpauseRule(ctx context.Context, id string) error {
	return c.ruleCommand(ctx, id, "unpause")
}

// ruleCommand posts a pause/unpause action. The portal acknowledges
// these with an empty or non-JSON 200 body; any 2xx is success.
func (c *Client) ruleCommand(ctx context.Context, id, action string) error {
	if id == "" {
		return validationErr(action, "rule id is required")
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/rules/"+url.PathEscape(id)+"/"+action, nil)
	return err
}

// GetDevices fetches devices known to the box.
func (c *Client) GetDevices(ctx context.Context) ([]Device, int, error) {
	path := "/devices"
	if c.gid != "" {
		path += "?box=" + url.QueryEscape(c.gid)
	}
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	devices, skipped, err := DecodeDevices(body)
	if err != nil {
		return nil, 0, &Error{Kind: KindUpstream, Op: "GET /devices", Message: "decode devices", Err: err}
	}
	if skipped > 0 {
		c.log.Warn("skipped malformed device records", "count", skipped)
	}
	return devices, skipped, nil
}

// GetBoxes fetches the boxes registered with the portal.
func (c *Client) GetBoxes(ctx context.Context) ([]Box, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/boxes", nil)
	if err != nil {
		return nil, err
	}
	boxes, err := DecodeBoxes(body)
	if err != nil {
		return nil, &Error{Kind: KindUpstream, Op: "GET /boxes", Message: "decode boxes", Err: err}
	}
	return boxes, nil
}

// RulesQuery builds the portal query string for the configured box and
// an optional status filter.
func (c *Client) RulesQuery(status string) string {
	var parts []string
	if status != "" {
		parts = append(parts, "status:"+status)
	}
	if c.gid != "" {
		parts = append(parts, "box.id:"+c.gid)
	}
	return strings.Join(parts, " ")
}
