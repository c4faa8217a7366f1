// Package client talks to the family history HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/history"
	"github.com/family-history/internal/ranking"
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the domain sentinel it stands for
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrPlayerNotFound
	case http.StatusConflict:
		return domain.ErrNicknameTaken
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return domain.ErrInvalidRequest
	default:
		return nil
	}
}

// Player is the evolution of one player plus their current rank
type Player struct {
	history.Detail
	Rank *int64 `json:"rank,omitempty"`
}

// HistoryQuery selects the window and filters of a history table
type HistoryQuery struct {
	From     domain.Date
	To       domain.Date
	Criteria ranking.Criteria
}

// Client is a family history API client bound to one session
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *Session

	renameBusy Busy
	importBusy Busy
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the API at baseURL
func New(baseURL string, session *Session, opts ...Option) *Client {
	if session == nil {
		session = &Session{}
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		session:    session,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session the client authenticates with
func (c *Client) Session() *Session {
	return c.session
}

// Login exchanges credentials for a token and persists the session
func (c *Client) Login(ctx context.Context, username, password string) (*domain.LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, "/auth/login", nil, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp domain.LoginResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	c.session.Set(resp)
	if err := c.session.Save(); err != nil {
		return &resp, err
	}
	return &resp, nil
}

// Logout revokes the token on the server and clears the session. The local
// session is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	var remoteErr error
	if c.session.LoggedIn() {
		req, err := c.newRequest(ctx, http.MethodPost, "/auth/logout", nil, nil)
		if err == nil {
			remoteErr = c.do(req, nil)
		} else {
			remoteErr = err
		}
	}
	if err := c.session.Clear(); err != nil {
		return err
	}
	if remoteErr != nil && !errors.Is(remoteErr, domain.ErrUnauthorized) {
		return remoteErr
	}
	return nil
}

// Me returns the user behind the current token
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var user domain.User
	if err := c.get(ctx, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Latest returns the ranked rows of the most recent snapshot
func (c *Client) Latest(ctx context.Context, family string, criteria ranking.Criteria, limit int) ([]domain.LatestRow, error) {
	query := criteriaValues(criteria)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var rows []domain.LatestRow
	if err := c.get(ctx, familyPath(family, "latest"), query, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Leaderboard returns the filtered leaderboard with its podium
func (c *Client) Leaderboard(ctx context.Context, family string, criteria ranking.Criteria) (*ranking.Board, error) {
	var board ranking.Board
	if err := c.get(ctx, familyPath(family, "leaderboard"), criteriaValues(criteria), &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// Snapshots returns the snapshot dates of a family in ascending order
func (c *Client) Snapshots(ctx context.Context, family string) ([]domain.Date, error) {
	var dates []domain.Date
	if err := c.get(ctx, familyPath(family, "snapshots"), nil, &dates); err != nil {
		return nil, err
	}
	return dates, nil
}

// History returns the per-player history table of a window
func (c *Client) History(ctx context.Context, family string, q HistoryQuery) (*history.Table, error) {
	query := criteriaValues(q.Criteria)
	setWindow(query, q.From, q.To)

	var table history.Table
	if err := c.get(ctx, familyPath(family, "history"), query, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// Player returns the detail of a player looked up by nickname
func (c *Client) Player(ctx context.Context, family, nickname string, from, to domain.Date) (*Player, error) {
	query := url.Values{}
	setWindow(query, from, to)

	var player Player
	path := familyPath(family, "player", "by-nickname", nickname)
	if err := c.get(ctx, path, query, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

// Rename changes a member nickname. A rename already in flight on this
// client makes the call fail with ErrBusy.
func (c *Client) Rename(ctx context.Context, family string, playerID int64, nickname string) (*domain.Member, error) {
	if err := c.renameBusy.TryAcquire(); err != nil {
		return nil, err
	}
	defer c.renameBusy.Release()

	body, err := json.Marshal(domain.NicknameUpdate{Nickname: nickname})
	if err != nil {
		return nil, fmt.Errorf("failed to encode nickname: %w", err)
	}

	path := familyPath(family, "player", strconv.FormatInt(playerID, 10), "nickname")
	req, err := c.newRequest(ctx, http.MethodPatch, path, nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var member domain.Member
	if err := c.do(req, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// Import uploads gmbr and gexp exports as the snapshot of date. A zero date
// lets the server use today. An import already in flight on this client makes
// the call fail with ErrBusy.
func (c *Client) Import(ctx context.Context, family string, date domain.Date, gmbr, gexp io.Reader) (*domain.ImportResult, error) {
	if err := c.importBusy.TryAcquire(); err != nil {
		return nil, err
	}
	defer c.importBusy.Release()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := addFile(mw, "gmbr", "gmbr.txt", gmbr); err != nil {
		return nil, err
	}
	if gexp != nil {
		if err := addFile(mw, "gexp", "gexp.txt", gexp); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload: %w", err)
	}

	query := url.Values{}
	if !date.IsZero() {
		query.Set("snapshot_date", date.String())
	}

	req, err := c.newRequest(ctx, http.MethodPost, familyPath(family, "import"), query, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result domain.ImportResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func addFile(mw *multipart.Writer, field, name string, r io.Reader) error {
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		return fmt.Errorf("failed to add %s file: %w", field, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to read %s file: %w", field, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.session.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// decodeError reads the {"success": false, "error": "..."} envelope
func decodeError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == "" {
		envelope.Error = strings.TrimSpace(string(body))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
}

func familyPath(family string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/family/")
	b.WriteString(url.PathEscape(family))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func criteriaValues(c ranking.Criteria) url.Values {
	query := url.Values{}
	if c.Query != "" {
		query.Set("q", c.Query)
	}
	if c.ClassID != "" {
		query.Set("class", c.ClassID)
	}
	return query
}

func setWindow(query url.Values, from, to domain.Date) {
	if !from.IsZero() {
		query.Set("from_date", from.String())
	}
	if !to.IsZero() {
		query.Set("to_date", to.String())
	}
}
