package verisure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/sync/cio"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "verisure",
})

const (
	DefaultBaseURL            = "https://mypages.verisure.com"
	defaultMinRefreshInterval = time.Second
	timeout                   = 10 * time.Second
)

const (
	pathLogin     = "/j_spring_security_check"
	pathStatus    = "/remotecontrol"
	pathSetStatus = "/remotecontrol/armstatechange.cmd"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// StatusError is returned when My Pages answers with a non-2xx status code.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
}

func isUnauthorized(err error) bool {
	var serr *StatusError
	return errors.As(err, &serr) &&
		(serr.Code == http.StatusUnauthorized || serr.Code == http.StatusForbidden)
}

// Client is a My Pages session.
type Client struct {
	baseURL    string
	username   string
	password   string
	http       *http.Client
	log        *logp.Logger
	minRefresh time.Duration
	backoff    func() backoff.BackOff
	now        func() time.Time

	mu          sync.Mutex
	status      statusTable
	lastRefresh time.Time
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient sets the HTTP client to use.
// A cookie jar is set on it if it has none.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithMinRefreshInterval(d time.Duration) Option {
	return func(c *Client) {
		c.minRefresh = d
	}
}

func WithLogger(l *logp.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) {
		c.backoff = fn
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Second * 5
	bo.MaxElapsedTime = time.Minute
	return bo
}

func NewClient(username, password string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		username:   username,
		password:   password,
		http:       &http.Client{Timeout: timeout},
		log:        log,
		minRefresh: defaultMinRefreshInterval,
		backoff:    defaultBackOff,
		now:        time.Now,
		status:     statusTable{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, _ := cookiejar.New(nil)
		c.http.Jar = jar
	}
	return c
}

// Login authenticates against My Pages.
func (c *Client) Login(ctx context.Context) error {
	return c.retry(ctx, "login", func() error {
		return permanentIfFatal(c.login(ctx))
	})
}

// Refresh fetches the status of all devices.
// Calls made within the minimum refresh interval of the last successful one
// are ignored.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	last := c.lastRefresh
	c.mu.Unlock()
	if !last.IsZero() && c.now().Sub(last) < c.minRefresh {
		c.log.Debug("refresh throttled", "last", last)
		return nil
	}

	var table statusTable
	if err := c.authed(ctx, "refresh", func() error {
		bts, err := c.request(ctx, http.MethodGet, pathStatus, nil)
		if err != nil {
			return err
		}
		table, err = statusFromJSON(bts, c.log)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("could not refresh status: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = table
	c.lastRefresh = c.now()
	return nil
}

// Status returns a copy of the last known status of the given device type,
// keyed by device ID.
func (c *Client) Status(device DeviceType) map[string]AlarmStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.get(device)
}

// SetAlarmStatus requests the alarm to change to the given status.
// The next refresh is never throttled after it.
func (c *Client) SetAlarmStatus(ctx context.Context, code string, status TargetStatus) error {
	if err := c.authed(ctx, "set alarm status", func() error {
		_, err := c.request(ctx, http.MethodPost, pathSetStatus, url.Values{
			"code":  {code},
			"state": {string(status)},
		})
		return err
	}); err != nil {
		return fmt.Errorf("could not set alarm status to %s: %w", status, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRefresh = time.Time{}
	return nil
}

func (c *Client) login(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodPost, pathLogin, url.Values{
		"j_username": {c.username},
		"j_password": {c.password},
	})
	if isUnauthorized(err) {
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, c.username)
	}
	if err != nil {
		return fmt.Errorf("could not login: %w", err)
	}
	c.log.Info("logged in", "username", c.username)
	return nil
}

// authed runs fn, logging in again once if the session was rejected.
func (c *Client) authed(ctx context.Context, op string, fn func() error) error {
	return c.retry(ctx, op, func() error {
		err := fn()
		if isUnauthorized(err) {
			c.log.Info("session expired, logging in again", "op", op)
			if err := c.login(ctx); err != nil {
				return permanentIfFatal(err)
			}
			err = fn()
		}
		return permanentIfFatal(err)
	})
}

func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	return backoff.RetryNotify(
		fn,
		backoff.WithContext(c.backoff(), ctx),
		func(err error, d time.Duration) {
			c.log.Warn("request failed, retrying", "op", op, "in", d, "err", err)
		},
	)
}

// permanentIfFatal marks errors that retrying won't fix.
func permanentIfFatal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidCredentials) {
		return backoff.Permanent(err)
	}
	var serr *StatusError
	if errors.As(err, &serr) && serr.Code >= 400 && serr.Code < 500 &&
		serr.Code != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

func (c *Client) request(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Error("could not close response body", "err", err)
		}
	}()

	bts, err := io.ReadAll(cio.TimeoutReader(resp.Body, timeout))
	if err != nil {
		return nil, fmt.Errorf("%s %s: could not read response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
		}
	}
	return bts, nil
}
