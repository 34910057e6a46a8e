// Package apiclient talks to the board REST API and its live-update
// socket on behalf of the reconciliation engine.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CrowderSoup/boardsync/board"
	"github.com/gorilla/websocket"
)

// APIError is a non-2xx response from the board API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// Client implements board.API over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

var _ board.API = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each request. Zero leaves the client without a
// timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
		dialer:  websocket.DefaultDialer,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}
	c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func errorMessage(body []byte) string {
	if o, ok := asObject(body); ok {
		if msg := o.str("error", "message"); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) ListBoards(ctx context.Context, projectID string) ([]board.Summary, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/boards", nil)
	if err != nil {
		return nil, err
	}
	return decodeSummaries(data)
}

// CreateBoard is served by the development API only.
func (c *Client) CreateBoard(ctx context.Context, projectID, name string) (*board.Summary, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/boards",
		map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return decodeSummary(data)
}

func (c *Client) GetBoard(ctx context.Context, boardID string) (*board.Board, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID)+"/columns", nil)
	if err != nil {
		return nil, err
	}
	return decodeBoard(data, boardID)
}

func (c *Client) CreateTask(ctx context.Context, boardID string, task board.NewTask) (*board.Task, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/boards/"+url.PathEscape(boardID)+"/tasks", task)
	if err != nil {
		return nil, err
	}
	return decodeSingleTask(data)
}

func (c *Client) ReorderTask(ctx context.Context, req board.ReorderRequest) error {
	_, err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(req.TaskID)+"/reorder", req)
	return err
}

func (c *Client) AddColumn(ctx context.Context, boardID, name string) (*board.Column, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/boards/"+url.PathEscape(boardID)+"/columns",
		map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return decodeSingleColumn(data)
}

func (c *Client) RenameColumn(ctx context.Context, columnID, name string) (*board.Column, error) {
	data, err := c.do(ctx, http.MethodPut, "/api/columns/"+url.PathEscape(columnID),
		map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return decodeSingleColumn(data)
}

func (c *Client) DeleteColumn(ctx context.Context, boardID, columnID string) error {
	_, err := c.do(ctx, http.MethodDelete,
		"/api/boards/"+url.PathEscape(boardID)+"/columns/"+url.PathEscape(columnID), nil)
	return err
}
