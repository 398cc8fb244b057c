package airqo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Auth modes, in the order the snapshot strategy tries them.
const (
	AuthBearer = "bearer"
	AuthQuery  = "query"
)

const (
	DefaultBaseURL     = "https://api.airqo.net/api/v2"
	DefaultMaxAttempts = 4
	DefaultBackoffUnit = 3 * time.Second
	DefaultPageDelay   = time.Second
	PreviewBytes       = 500

	maxPages = 1000
)

// Options configure a Client.
type Options struct {
	BaseURL     string
	Token       string
	CohortID    string
	MaxAttempts int
	// BackoffUnit scales the wait after failed attempt n to BackoffUnit*n*n.
	BackoffUnit time.Duration
	PageDelay   time.Duration
	UserAgent   string
	// OnAttempt, when set, is called after every HTTP request.
	OnAttempt func(authMode string, status int, err error)
}

// Client talks to the cohort measurements endpoints.
type Client struct {
	http  *http.Client
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Client; zero options fall back to the defaults.
func New(client *http.Client, opts Options) *Client {
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "airqo-archiver/1.0"
	}
	return &Client{http: client, opts: opts, sleep: sleepContext}
}

// Response is a successful fetch.
type Response struct {
	// Body is the JSON document kept as the recent snapshot.
	Body     []byte
	Items    []any
	AuthMode string
	Attempts int
	Pages    int
}

// FetchError is returned once every attempt has failed. It carries what the
// last attempt saw.
type FetchError struct {
	StatusCode  int
	AuthMode    string
	BodyPreview string
	Attempts    int
	Err         error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("airqo: fetch failed after %d attempt(s) (status=%d auth=%s): %v", e.Attempts, e.StatusCode, e.AuthMode, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (c *Client) endpoint(historical bool) string {
	u := strings.TrimRight(c.opts.BaseURL, "/") + "/devices/measurements/cohorts/" + url.PathEscape(c.opts.CohortID)
	if historical {
		u += "/historical"
	}
	return u
}

// FetchSnapshot reads the cohort's current measurements. Each attempt tries
// bearer auth and then the token query parameter; failed attempts are
// retried with quadratic backoff.
func (c *Client) FetchSnapshot(ctx context.Context) (*Response, error) {
	pg, mode, attempts, err := c.fetchPage(ctx, c.endpoint(false), nil, []string{AuthBearer, AuthQuery})
	if err != nil {
		return nil, err
	}
	return &Response{
		Body:     pg.body,
		Items:    pg.items,
		AuthMode: mode,
		Attempts: attempts,
		Pages:    1,
	}, nil
}

// FetchWindow reads every page of the historical endpoint for [start, end)
// using query-token auth. Pages are paced by PageDelay and each page gets the
// same bounded retry as FetchSnapshot; a page that still fails aborts the
// whole window.
func (c *Client) FetchWindow(ctx context.Context, start, end time.Time) (*Response, error) {
	endpoint := c.endpoint(true)
	var (
		first    *page
		raw      []json.RawMessage
		items    []any
		attempts int
	)

	pageNo := 1
	for {
		params := url.Values{}
		params.Set("startTime", start.UTC().Format(time.RFC3339))
		params.Set("endTime", end.UTC().Format(time.RFC3339))
		params.Set("page", strconv.Itoa(pageNo))

		pg, _, n, err := c.fetchPage(ctx, endpoint, params, []string{AuthQuery})
		attempts += n
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) {
				fe.Attempts = attempts
			}
			return nil, fmt.Errorf("airqo: page %d: %w", pageNo, err)
		}
		if first == nil {
			first = pg
		}
		raw = append(raw, pg.raw...)
		items = append(items, pg.items...)

		if pg.pages <= pageNo || pageNo >= maxPages {
			break
		}
		if err := c.sleep(ctx, c.opts.PageDelay); err != nil {
			return nil, err
		}
		pageNo++
	}

	body, err := first.withItems(raw)
	if err != nil {
		return nil, err
	}
	return &Response{
		Body:     body,
		Items:    items,
		AuthMode: AuthQuery,
		Attempts: attempts,
		Pages:    pageNo,
	}, nil
}

// fetchPage runs up to MaxAttempts attempts; each attempt walks modes in
// order and stops at the first decodable 2xx response.
func (c *Client) fetchPage(ctx context.Context, endpoint string, params url.Values, modes []string) (*page, string, int, error) {
	var last *FetchError
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		for _, mode := range modes {
			body, status, err := c.get(ctx, endpoint, params, mode)
			if err == nil {
				var pg *page
				if pg, err = decodePage(body); err == nil {
					return pg, mode, attempt, nil
				}
			}
			last = &FetchError{
				StatusCode:  status,
				AuthMode:    mode,
				BodyPreview: Preview(body, PreviewBytes),
				Attempts:    attempt,
				Err:         err,
			}
			if ctx.Err() != nil {
				return nil, mode, attempt, last
			}
		}
		if attempt < c.opts.MaxAttempts {
			wait := c.opts.BackoffUnit * time.Duration(attempt*attempt)
			if err := c.sleep(ctx, wait); err != nil {
				last.Err = err
				return nil, last.AuthMode, attempt, last
			}
		}
	}
	return nil, last.AuthMode, last.Attempts, last
}

// get performs one GET. The body is returned for non-2xx responses too so it
// can be previewed.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, mode string) ([]byte, int, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if mode == AuthQuery {
		q.Set("token", c.opts.Token)
	}
	u := endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if mode == AuthBearer {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(mode, 0, err)
		return nil, 0, fmt.Errorf("request measurements: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(mode, resp.StatusCode, err)
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("unexpected status %s", resp.Status)
		c.observe(mode, resp.StatusCode, err)
		return body, resp.StatusCode, err
	}
	c.observe(mode, resp.StatusCode, nil)
	return body, resp.StatusCode, nil
}

func (c *Client) observe(mode string, status int, err error) {
	if c.opts.OnAttempt != nil {
		c.opts.OnAttempt(mode, status, err)
	}
}

// Preview returns at most n bytes of b, cut on a rune boundary.
func Preview(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut])
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
