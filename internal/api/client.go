// Package api issues authenticated requests against the readaloud backend and
// recovers from expired access tokens with a single shared refresh.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/readaloud/client/internal/logging"
	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/models"
	"github.com/readaloud/client/internal/session"
)

const (
	refreshPath = "auth/token/refresh"
	maxBodySize = 8 << 20

	// DefaultRefreshTimeout bounds a token refresh when Options leaves it unset.
	DefaultRefreshTimeout = 30 * time.Second
)

// Doer performs a single HTTP exchange. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Navigator is told to show the login screen after an unrecoverable auth failure.
type Navigator interface {
	GoToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) GoToLogin() { f() }

// Request describes one backend call. It carries no auth state.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// Public requests are sent without a token and never trigger a refresh.
	Public bool
}

// Result is a received response with its body fully read.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns an *APIError for non-2xx results and nil otherwise.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	return newAPIError(r.StatusCode, r.Body)
}

// Decode unmarshals the JSON body into v.
func (r *Result) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("api: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Doer        Doer
	State       *session.State
	Coordinator *session.Coordinator
	Navigator   Navigator
	Metrics     metrics.Recorder
	Logger      *slog.Logger

	// RefreshTimeout bounds the refresh call. It is independent of the
	// caller's context, so a caller giving up does not abandon the refresh.
	RefreshTimeout time.Duration
}

// Client attaches the session's bearer token to requests and transparently
// refreshes it on 401.
type Client struct {
	base    *url.URL
	doer    Doer
	state   *session.State
	coord   *session.Coordinator
	nav     Navigator
	metrics metrics.Recorder
	logger  *slog.Logger

	refreshTimeout time.Duration

	hooksMu     sync.Mutex
	logoutHooks []func(context.Context)
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api: base url %q must be absolute", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if opts.State == nil {
		return nil, errors.New("api: session state is required")
	}

	c := &Client{
		base:    base,
		doer:    opts.Doer,
		state:   opts.State,
		coord:   opts.Coordinator,
		nav:     opts.Navigator,
		metrics: metrics.OrNop(opts.Metrics),
		logger:  opts.Logger,

		refreshTimeout: opts.RefreshTimeout,
	}
	if c.doer == nil {
		c.doer = http.DefaultClient
	}
	if c.coord == nil {
		c.coord = session.NewCoordinator()
	}
	if c.nav == nil {
		c.nav = NavigatorFunc(func() {})
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = DefaultRefreshTimeout
	}
	return c, nil
}

// OnLogout registers fn to run whenever the session is cleared, before the
// navigator is invoked.
func (c *Client) OnLogout(fn func(context.Context)) {
	c.hooksMu.Lock()
	c.logoutHooks = append(c.logoutHooks, fn)
	c.hooksMu.Unlock()
}

// Session returns the session state the client reads from.
func (c *Client) Session() *session.State {
	return c.state
}

// Do sends req with the current access token. A 401 triggers at most one
// refresh across all concurrent callers, after which req is replayed once.
// Any other response, success or not, is returned unchanged.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, c.loggerFor(ctx))
	ctx, span := logging.StartSpan(ctx, req.Method+" "+req.Path)
	defer span.End()

	res, err := c.do(ctx, req)
	span.Fail(err)
	return res, err
}

func (c *Client) do(ctx context.Context, req Request) (*Result, error) {
	if req.Public {
		return c.send(ctx, req, "")
	}

	if err := c.coord.WaitUntilFree(ctx); err != nil {
		return nil, err
	}

	token := c.state.Get().AccessToken
	res, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusUnauthorized {
		return res, nil
	}

	return c.reauthenticate(ctx, req, token, res)
}

func (c *Client) reauthenticate(ctx context.Context, req Request, sentToken string, original *Result) (*Result, error) {
	logger := logging.FromContext(ctx)

	if !c.coord.TryAcquire() {
		logger.Debug("waiting for in-flight token refresh")
		if err := c.coord.WaitUntilFree(ctx); err != nil {
			return nil, err
		}
		return c.send(ctx, req, c.state.Get().AccessToken)
	}

	current := c.state.Get()

	// Another caller already refreshed or logged out after this request went out.
	if current.AccessToken != sentToken {
		c.coord.Release()
		c.metrics.RecordRefresh(metrics.RefreshSkipped)
		if !current.LoggedIn() {
			return original, nil
		}
		return c.send(ctx, req, current.AccessToken)
	}

	if current.RefreshToken == "" {
		logger.Info("no refresh token available, logging out")
		c.logout(ctx, current)
		c.coord.Release()
		return original, nil
	}

	// A cancelled caller must not abandon a rotation the server already made.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	err := c.refresh(refreshCtx, current.RefreshToken)
	cancel()
	if err != nil {
		logger.Warn("token refresh failed, logging out", "error", err)
		c.metrics.RecordRefresh(metrics.RefreshFailed)
		c.logout(ctx, current)
		c.coord.Release()
		return original, nil
	}

	c.metrics.RecordRefresh(metrics.RefreshSucceeded)
	c.coord.Release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.send(ctx, req, c.state.Get().AccessToken)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) error {
	res, err := c.send(ctx, Request{
		Method: http.MethodPost,
		Path:   refreshPath,
		Body:   models.RefreshRequest{RefreshToken: refreshToken},
	}, "")
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}

	var payload models.RefreshResponse
	if err := res.Decode(&payload); err != nil {
		return err
	}
	if payload.AccessToken == "" {
		return errors.New("api: refresh response carried no access token")
	}

	if err := c.state.Set(ctx, payload.Session()); err != nil {
		logging.FromContext(ctx).Warn("refreshed session not persisted", "error", err)
	}
	c.state.SetUser(payload.User)
	return nil
}

// logout clears the session, runs logout hooks and navigates to login. It is
// a no-op when the session was already empty.
func (c *Client) logout(ctx context.Context, current models.Session) {
	if current == (models.Session{}) {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if err := c.state.Clear(ctx); err != nil {
		logging.FromContext(ctx).Warn("clear session", "error", err)
	}

	c.hooksMu.Lock()
	hooks := append([]func(context.Context){}, c.logoutHooks...)
	c.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(ctx)
	}

	c.metrics.RecordLogout()
	c.nav.GoToLogin()
}

func (c *Client) send(ctx context.Context, req Request, token string) (*Result, error) {
	httpReq, err := c.newHTTPRequest(ctx, req, token)
	if err != nil {
		return nil, err
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("api: read %s %s response: %w", req.Method, req.Path, err)
	}

	c.metrics.RecordRequest(resp.StatusCode)

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request, token string) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.base.ResolveReference(&url.URL{Path: strings.TrimLeft(req.Path, "/")})
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("api: encode %s body: %w", req.Path, err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

func (c *Client) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != slog.Default() {
		return logger
	}
	return c.logger
}
