// Package client is a small Go client for the task queue's HTTP ingress,
// for applications that would rather not hand-roll the request shape
// themselves: one struct wrapping an *http.Client and a base address,
// with one method per endpoint.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Task mirrors the JSON shape returned by the ingress API.
type Task struct {
	ID         int64     `json:"id"`
	Status     string    `json:"status"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	RetryCount int       `json:"retry_count"`
	Due        time.Time `json:"due"`
	Created    time.Time `json:"created"`
	Modified   time.Time `json:"modified"`
}

// Client talks to one ntorque deployment.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client against baseURL (e.g. "http://localhost:8080"),
// authenticating with apiKey if non-empty.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// EnqueueOptions are the optional parameters of an Enqueue call; the
// zero value uses every server-side default.
type EnqueueOptions struct {
	Timeout     time.Duration
	Method      string
	ContentType string
	Body        string
	Passthrough map[string]string
}

// Enqueue submits a new task and returns its initial state.
func (c *Client) Enqueue(ctx context.Context, webhookURL string, opts EnqueueOptions) (*Task, error) {
	q := url.Values{}
	q.Set("url", webhookURL)
	if opts.Timeout > 0 {
		q.Set("timeout", strconv.Itoa(int(opts.Timeout.Seconds())))
	}
	if opts.Method != "" {
		q.Set("method", opts.Method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/?"+q.Encode(), strings.NewReader(opts.Body))
	if err != nil {
		return nil, fmt.Errorf("client: new request: %w", err)
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	for name, value := range opts.Passthrough {
		req.Header.Set("NTORQUE-PASSTHROUGH-"+name, value)
	}
	c.authenticate(req)

	return c.doTask(req, http.StatusCreated)
}

// GetTask fetches the current state of a task by id.
func (c *Client) GetTask(ctx context.Context, id int64) (*Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/tasks/%d", c.baseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("client: new request: %w", err)
	}
	c.authenticate(req)

	return c.doTask(req, http.StatusOK)
}

// Push re-notifies the consumer about an existing task.
func (c *Client) Push(ctx context.Context, id int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/tasks/%d/push", c.baseURL, id), nil)
	if err != nil {
		return fmt.Errorf("client: new request: %w", err)
	}
	c.authenticate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("client: push: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authenticate(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Ntorque-Api-Key", c.apiKey)
	}
}

func (c *Client) doTask(req *http.Request, wantStatus int) (*Task, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("client: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var task Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("client: decode: %w", err)
	}
	return &task, nil
}
