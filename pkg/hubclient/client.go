// Package hubclient talks to a design hub over HTTP/JSON. A Client
// implements remote.Reader, remote.DocumentHost and remote.Exporter.
package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kataras/total-export/pkg/logging"
	"github.com/kataras/total-export/pkg/remote"
	"github.com/kataras/total-export/pkg/retry"
)

const (
	defaultTimeout = 10 * time.Minute
	defaultBackoff = 2 * time.Second
	maxAttempts    = 3
)

// Client is a design hub API client. Idempotent reads are retried up to three
// times on rate limiting (429) and unavailability (503) with a linear pause;
// every other failure is returned to the caller for supervision.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	backoff    time.Duration
	httpClient *http.Client
	logger     logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout, which also bounds downloads.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithBackoff sets the pause unit between in-client read retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger receives in-client retry messages.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the hub API at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		userAgent: "total-export",
		backoff:   defaultBackoff,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends one request and returns a response with a 2xx status. The caller
// closes the body. GET requests are retried on 429 and 503.
func (c *Client) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	op := method + " " + path
	attempts := 1
	if method == http.MethodGet {
		attempts = maxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), nil)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("%s: failed to create request: %w", op, err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, remote.ConnectivityError(op, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		lastErr = statusError(op, resp)
		resp.Body.Close()

		if attempt < attempts && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
			pause := time.Duration(attempt) * c.backoff
			logging.OrNop(c.logger).Warnf("%s returned %d, retrying in %s", op, resp.StatusCode, pause)
			if err := sleep(ctx, pause); err != nil {
				return nil, remote.ConnectivityError(op, err)
			}
			continue
		}
		return nil, lastErr
	}

	return nil, lastErr
}

// statusError classifies a non-2xx response: server-side and throttling
// statuses are connectivity failures, other client errors are permanent.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	err := fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return remote.ConnectivityError(op, err)
	default:
		return retry.Permanent(fmt.Errorf("%s: %w", op, err))
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	return c.sendJSON(ctx, http.MethodGet, path, query, v)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, query url.Values, v any) error {
	resp, err := c.do(ctx, method, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return remote.ConnectivityError(method+" "+path, fmt.Errorf("failed to read response body: %w", err))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return retry.Permanent(fmt.Errorf("%s %s: failed to parse response: %w", method, path, err))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func segment(id string) string {
	return url.PathEscape(id)
}

// Hubs lists the hubs visible to the token.
func (c *Client) Hubs(ctx context.Context) ([]remote.Hub, error) {
	var hubs []remote.Hub
	if err := c.getJSON(ctx, "/hubs", nil, &hubs); err != nil {
		return nil, err
	}
	return hubs, nil
}

// Projects lists the projects of hub.
func (c *Client) Projects(ctx context.Context, hub remote.Hub) ([]remote.Project, error) {
	var projects []remote.Project
	if err := c.getJSON(ctx, "/hubs/"+segment(hub.ID)+"/projects", nil, &projects); err != nil {
		return nil, err
	}
	for i := range projects {
		projects[i].HubName = hub.Name
	}
	return projects, nil
}

// RootFolder reads the root folder of project.
func (c *Client) RootFolder(ctx context.Context, project remote.Project) (remote.Folder, error) {
	if project.RootFolderID == "" {
		return remote.Folder{}, retry.Permanent(fmt.Errorf("project %q has no root folder", project.Name))
	}
	var folder remote.Folder
	if err := c.getJSON(ctx, "/folders/"+segment(project.RootFolderID), nil, &folder); err != nil {
		return remote.Folder{}, err
	}
	return folder, nil
}

// Folders lists the child folders of folder.
func (c *Client) Folders(ctx context.Context, folder remote.Folder) ([]remote.Folder, error) {
	var folders []remote.Folder
	if err := c.getJSON(ctx, "/folders/"+segment(folder.ID)+"/folders", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// Files lists the data files of folder.
func (c *Client) Files(ctx context.Context, folder remote.Folder) ([]remote.DataFile, error) {
	var files []remote.DataFile
	if err := c.getJSON(ctx, "/folders/"+segment(folder.ID)+"/files", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Refresh re-reads the metadata of file.
func (c *Client) Refresh(ctx context.Context, file remote.DataFile) (remote.DataFile, error) {
	var fresh remote.DataFile
	if err := c.getJSON(ctx, "/files/"+segment(file.ID), nil, &fresh); err != nil {
		return file, err
	}
	return fresh, nil
}

var errForeignDocument = errors.New("document was not opened by this client")
