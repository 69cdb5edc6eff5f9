// Package emisapi is the typed client for the EMIS REST API.
package emisapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// SupportedYears lists the registry years that have business collections.
var SupportedYears = []int{2025, 2026}

// Observer receives the outcome of every upstream call. Status is 0 when the
// request failed before a response arrived.
type Observer func(endpoint string, status int, elapsed time.Duration)

// Client wraps interactions with the EMIS REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	observe    Observer
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithObserver installs a call observer, typically a metrics recorder.
func WithObserver(fn Observer) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// NewClient constructs a new client. timeout bounds JSON calls end to end
// and the wait for response headers on downloads; download bodies stream
// until the caller's context ends.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
		timeout:    timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download is a streamed binary response. Callers must close Body.
type Download struct {
	Body               io.ReadCloser
	ContentType        string
	ContentDisposition string
	ContentLength      int64
}

// Login exchanges credentials for a bearer token and the user record.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", "", body, &out); err != nil {
		return LoginResult{}, err
	}
	if out.Token == "" {
		return LoginResult{}, fmt.Errorf("emisapi: login response without token")
	}
	return out, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, password string) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", "", body, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// CheckEmail reports whether an account already uses email.
func (c *Client) CheckEmail(ctx context.Context, email string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/check-email", "", map[string]string{"email": email}, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// Logout ends the upstream session for token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// VerifyToken asks the API whether token is still valid.
func (c *Client) VerifyToken(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/verify-token", token, nil, nil)
}

// UpdateCurrentPage records which portal page the user is viewing.
func (c *Client) UpdateCurrentPage(ctx context.Context, token, page string) error {
	return c.doJSON(ctx, http.MethodPut, "/api/auth/current-page", token, map[string]string{"page": page}, nil)
}

// ListUsers returns every user with presence information.
func (c *Client) ListUsers(ctx context.Context, token string) ([]User, error) {
	var out []User
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/users", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProfilePicture streams the avatar of userID.
func (c *Client) ProfilePicture(ctx context.Context, token, userID string) (*Download, error) {
	return c.download(ctx, "/api/auth/profile-picture/"+url.PathEscape(userID), token)
}

// AuditLogs fetches one server-side page of audit entries.
func (c *Client) AuditLogs(ctx context.Context, token string, q AuditQuery) (AuditPage, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Action != "" {
		params.Set("action", q.Action)
	}
	if q.CollectionName != "" {
		params.Set("collectionName", q.CollectionName)
	}
	path := "/api/audit"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out AuditPage
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return AuditPage{}, err
	}
	return out, nil
}

// SearchAudit runs a free-text audit search.
func (c *Client) SearchAudit(ctx context.Context, token, query string) ([]AuditEntry, error) {
	var out []AuditEntry
	path := "/api/audit/search?" + url.Values{"q": {query}}.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BusinessStats fetches the dashboard aggregate of a registry year.
func (c *Client) BusinessStats(ctx context.Context, token string, year int) (BusinessStats, error) {
	if !slices.Contains(SupportedYears, year) {
		return BusinessStats{}, fmt.Errorf("%w: %d", ErrUnsupportedYear, year)
	}
	var out BusinessStats
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/business%d/stats", year), token, nil, &out); err != nil {
		return BusinessStats{}, err
	}
	return out, nil
}

// BusinessMap fetches the per-barangay map points of a registry year.
func (c *Client) BusinessMap(ctx context.Context, token string, year int) ([]MapPoint, error) {
	if !slices.Contains(SupportedYears, year) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedYear, year)
	}
	var out []MapPoint
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/business%d/map", year), token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AvailableYears lists the years that have downloadable reports.
func (c *Client) AvailableYears(ctx context.Context, token string) ([]int, error) {
	var out []int
	if err := c.doJSON(ctx, http.MethodGet, "/api/reports/available-years", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportCSV streams the yearly CSV report, optionally limited to businesses
// without payments.
func (c *Client) ReportCSV(ctx context.Context, token string, year int, noPayments bool) (*Download, error) {
	path := fmt.Sprintf("/api/reports/csv/%d", year)
	if noPayments {
		path += "/no-payments"
	}
	return c.download(ctx, path, token)
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	resp, err := c.send(ctx, method, path, token, body, "application/json")
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("emisapi: decode %s: %w", endpointName(path), err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, path, token string) (*Download, error) {
	resp, err := c.send(ctx, http.MethodGet, path, token, nil, "")
	if err != nil {
		return nil, err
	}
	return &Download{
		Body:               resp.Body,
		ContentType:        resp.Header.Get("Content-Type"),
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		ContentLength:      resp.ContentLength,
	}, nil
}

// send performs the request and converts non-2xx responses into *APIError.
// On success the caller owns resp.Body.
func (c *Client) send(ctx context.Context, method, path, token string, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := endpointName(path)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(endpoint, 0, start)
		return nil, fmt.Errorf("emisapi: %s: %w", endpoint, err)
	}
	c.record(endpoint, resp.StatusCode, start)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() {
			_ = resp.Body.Close()
		}()
		return nil, decodeError(endpoint, resp)
	}
	return resp, nil
}

func (c *Client) record(endpoint string, status int, start time.Time) {
	if c.observe != nil {
		c.observe(endpoint, status, time.Since(start))
	}
}

// endpointName strips the query string and path identifiers so metrics
// labels stay bounded.
func endpointName(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch {
	case strings.HasPrefix(path, "/api/auth/profile-picture/"):
		return "/api/auth/profile-picture/:userId"
	case strings.HasPrefix(path, "/api/reports/csv/"):
		if strings.HasSuffix(path, "/no-payments") {
			return "/api/reports/csv/:year/no-payments"
		}
		return "/api/reports/csv/:year"
	}
	return path
}
