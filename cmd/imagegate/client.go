package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type generateRequest struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Model       string `json:"model,omitempty"`
	Async       bool   `json:"async,omitempty"`
}

type generationResult struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
	TaskID   string `json:"taskId"`
	GUID     string `json:"guid,omitempty"`
}

type generationTask struct {
	TaskID    string   `json:"taskId"`
	Status    string   `json:"status"`
	Generated []string `json:"generated,omitempty"`
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// apiError is the server's {code, message} error body.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("error (%d) %s: %s", e.Status, e.Code, e.Message)
}

func newClient(baseURL, token string, timeout time.Duration) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON sends body and decodes a 2xx response into out.
func (c *client) doJSON(ctx context.Context, method, path string, body any, out any) (int, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return resp.StatusCode, decodeAPIError(resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) generate(ctx context.Context, req generateRequest) (*generationResult, *generationTask, error) {
	if req.Async {
		var out envelope[generationTask]
		if _, err := c.doJSON(ctx, http.MethodPost, "/images/generate", req, &out); err != nil {
			return nil, nil, err
		}
		return nil, &out.Data, nil
	}
	var out envelope[generationResult]
	if _, err := c.doJSON(ctx, http.MethodPost, "/images/generate", req, &out); err != nil {
		return nil, nil, err
	}
	return &out.Data, nil, nil
}

func (c *client) taskStatus(ctx context.Context, taskID string) (*generationTask, error) {
	var out envelope[generationTask]
	if _, err := c.doJSON(ctx, http.MethodGet, "/images/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// download streams target into the writer returned by sink. target is either
// an absolute URL (the remote CDN) or a path on the imagegate server.
func (c *client) download(ctx context.Context, target string, sink func(size int64) io.Writer) (string, error) {
	var (
		req *http.Request
		err error
	)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	} else {
		req, err = c.newRequest(ctx, http.MethodGet, target, nil)
	}
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", decodeAPIError(resp.StatusCode, raw)
	}
	if _, err := io.Copy(sink(resp.ContentLength), resp.Body); err != nil {
		return "", err
	}
	return resp.Header.Get("Content-Type"), nil
}

func decodeAPIError(status int, raw []byte) error {
	e := &apiError{Status: status}
	if err := json.Unmarshal(raw, e); err != nil || (e.Code == "" && e.Message == "") {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}
