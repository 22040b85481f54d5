// Package apiclient talks to the JSON task API. A Client can back an
// optimistic.Dispatcher directly, which keeps the list view on the caller's
// side of the network.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/auth"
	"taskify/backend/internal/models"
	"taskify/backend/internal/services"
	"taskify/backend/internal/validation"
)

const defaultTimeout = 10 * time.Second

// ErrNoToken is returned by task calls made before Login.
var ErrNoToken = errors.New("apiclient: not logged in")

// APIError is a non-2xx response that was not a validation failure.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) UserMessage() string {
	return e.Message
}

type Client struct {
	baseURL string
	http    *http.Client
	log     logrus.FieldLogger

	mu     sync.RWMutex
	token  string
	filter url.Values
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logrus.StandardLogger(),
		filter:  url.Values{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "apiclient")
	return c
}

// SetToken installs a bearer token obtained elsewhere.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetFilter sets the dueDate and status query used by FetchTasks. Empty
// values are left out.
func (c *Client) SetFilter(dueDate, status string) {
	q := url.Values{}
	if dueDate != "" {
		q.Set("dueDate", dueDate)
	}
	if status != "" {
		q.Set("status", status)
	}
	c.mu.Lock()
	c.filter = q
	c.mu.Unlock()
}

type errorBody struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}, needAuth bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if needAuth && token == "" {
		return ErrNoToken
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)

	if resp.StatusCode == http.StatusBadRequest && len(body.Fields) > 0 {
		errs := validation.NewErrors()
		for field, messages := range body.Fields {
			for _, m := range messages {
				errs.Add(field, m)
			}
		}
		return errs
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, email, password string) (auth.User, error) {
	var out struct {
		User auth.User `json:"user"`
	}
	in := validation.CredentialsInput{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", nil, in, &out, false); err != nil {
		return auth.User{}, err
	}
	return out.User, nil
}

// Login exchanges credentials for a bearer token and keeps it for later
// calls.
func (c *Client) Login(ctx context.Context, email, password string) (auth.User, error) {
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
		User      auth.User `json:"user"`
	}
	in := validation.CredentialsInput{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, in, &out, false); err != nil {
		return auth.User{}, err
	}
	c.SetToken(out.Token)
	c.log.WithField("expires_at", out.ExpiresAt).Debug("logged in")
	return out.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil, true); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

func (c *Client) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	var out models.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", nil, services.InputFromTask(task), &out, true)
	return out, err
}

func (c *Client) UpdateTask(ctx context.Context, id uuid.UUID, patch models.TaskPatch) (models.Task, error) {
	var out models.Task
	q := url.Values{"id": {id.String()}}
	err := c.do(ctx, http.MethodPut, "/api/tasks", q, services.UpdateInputFromPatch(id, patch), &out, true)
	return out, err
}

func (c *Client) DeleteTask(ctx context.Context, id uuid.UUID) error {
	q := url.Values{"id": {id.String()}}
	return c.do(ctx, http.MethodDelete, "/api/tasks", q, nil, nil, true)
}

func (c *Client) GetTask(ctx context.Context, id uuid.UUID) (models.Task, error) {
	var out models.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+id.String(), nil, nil, &out, true)
	return out, err
}

// FetchTasks lists tasks under the current filter.
func (c *Client) FetchTasks(ctx context.Context) ([]models.Task, error) {
	c.mu.RLock()
	q := url.Values{}
	for k, v := range c.filter {
		q[k] = v
	}
	c.mu.RUnlock()

	var out struct {
		Tasks []models.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", q, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}
