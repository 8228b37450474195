package freepik

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osvaldoandrade/imagegate/pkg/domain"
)

type fakeMystic struct {
	t        *testing.T
	creates  atomic.Int32
	statuses atomic.Int32

	createStatus int
	createReply  string
	// statusFor returns the remote status for the n-th check (1-based).
	statusFor  func(n int) string
	generated  []string
	statusCode int

	mu         sync.Mutex
	lastBody   map[string]any
	lastAPIKey string
}

func (f *fakeMystic) seen() (map[string]any, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody, f.lastAPIKey
}

func (f *fakeMystic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.lastAPIKey = r.Header.Get("x-freepik-api-key")
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/ai/mystic":
		f.creates.Add(1)
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		_ = json.Unmarshal(b, &f.lastBody)
		f.mu.Unlock()
		if f.createStatus != 0 && f.createStatus != http.StatusOK {
			w.WriteHeader(f.createStatus)
			_, _ = io.WriteString(w, f.createReply)
			return
		}
		if f.createReply != "" {
			_, _ = io.WriteString(w, f.createReply)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"task_id":"task-1","status":"CREATED"}}`)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/ai/mystic/"):
		n := int(f.statuses.Add(1))
		if f.statusCode != 0 {
			w.WriteHeader(f.statusCode)
			_, _ = io.WriteString(w, `{"message":"upstream unavailable"}`)
			return
		}
		status := f.statusFor(n)
		payload := map[string]any{"data": map[string]any{
			"task_id": strings.TrimPrefix(r.URL.Path, "/v1/ai/mystic/"),
			"status":  status,
		}}
		if status == "COMPLETED" {
			payload["data"].(map[string]any)["generated"] = f.generated
		}
		_ = json.NewEncoder(w).Encode(payload)
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, f *fakeMystic, apiKey string) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: apiKey, BaseURL: srv.URL + "/v1/ai/mystic/"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fastPolling(n int) []WaitOption {
	return []WaitOption{WithPollInterval(time.Millisecond), WithMaxAttempts(n)}
}

func TestGenerateAndWaitCompletedOnFirstCheck(t *testing.T) {
	f := &fakeMystic{t: t, statusFor: func(int) string { return "COMPLETED" }, generated: []string{"https://cdn.example/a.png", "https://cdn.example/b.png"}}
	c := newTestClient(t, f, "key-1")

	res, err := c.GenerateAndWait(context.Background(), "a red fox", domain.GenerationOptions{}, fastPolling(30)...)
	if err != nil {
		t.Fatalf("GenerateAndWait: %v", err)
	}
	if !res.Success || res.ImageURL != "https://cdn.example/a.png" || res.TaskID != "task-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := f.creates.Load(); got != 1 {
		t.Fatalf("create calls = %d, want 1", got)
	}
	if got := f.statuses.Load(); got != 1 {
		t.Fatalf("status calls = %d, want 1", got)
	}
	body, apiKey := f.seen()
	if apiKey != "key-1" {
		t.Fatalf("api key header = %q", apiKey)
	}
	want := map[string]any{"prompt": "a red fox", "resolution": "2k", "aspect_ratio": "square_1_1", "model": "realism"}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body[%s] = %v, want %v", k, body[k], v)
		}
	}
}

func TestGenerateAndWaitForwardsOptions(t *testing.T) {
	f := &fakeMystic{t: t, statusFor: func(int) string { return "COMPLETED" }, generated: []string{"https://cdn.example/a.png"}}
	c := newTestClient(t, f, "key")

	opts := domain.GenerationOptions{Resolution: "4k", AspectRatio: "widescreen_16_9", Model: "fluid"}
	if _, err := c.GenerateAndWait(context.Background(), "p", opts, fastPolling(3)...); err != nil {
		t.Fatalf("GenerateAndWait: %v", err)
	}
	body, _ := f.seen()
	if body["resolution"] != "4k" || body["aspect_ratio"] != "widescreen_16_9" || body["model"] != "fluid" {
		t.Fatalf("options not forwarded: %v", body)
	}
}

func TestGenerateAndWaitCompletesAfterProgress(t *testing.T) {
	f := &fakeMystic{t: t, generated: []string{"https://cdn.example/x.png"}, statusFor: func(n int) string {
		if n < 3 {
			return "IN_PROGRESS"
		}
		return "COMPLETED"
	}}
	c := newTestClient(t, f, "key")

	res, err := c.GenerateAndWait(context.Background(), "p", domain.GenerationOptions{}, fastPolling(5)...)
	if err != nil {
		t.Fatalf("GenerateAndWait: %v", err)
	}
	if res.ImageURL != "https://cdn.example/x.png" {
		t.Fatalf("ImageURL = %q", res.ImageURL)
	}
	if got := f.statuses.Load(); got != 3 {
		t.Fatalf("status calls = %d, want 3", got)
	}
}

func TestGenerateAndWaitTimesOutAfterMaxAttempts(t *testing.T) {
	f := &fakeMystic{t: t, statusFor: func(int) string { return "IN_PROGRESS" }}
	c := newTestClient(t, f, "key")

	_, err := c.GenerateAndWait(context.Background(), "p", domain.GenerationOptions{}, fastPolling(4)...)
	if domain.CodeOf(err) != domain.CodeTimeout || !domain.IsKind(err, domain.KindGeneration) {
		t.Fatalf("expected ERR_TIMEOUT generation error, got %v", err)
	}
	if got := f.statuses.Load(); got != 4 {
		t.Fatalf("status calls = %d, want 4", got)
	}
	if got := f.creates.Load(); got != 1 {
		t.Fatalf("create calls = %d, want 1", got)
	}
}

func TestGenerateAndWaitFailedOnSecondCheck(t *testing.T) {
	f := &fakeMystic{t: t, statusFor: func(n int) string {
		if n == 1 {
			return "IN_PROGRESS"
		}
		return "FAILED"
	}}
	c := newTestClient(t, f, "key")

	_, err := c.GenerateAndWait(context.Background(), "p", domain.GenerationOptions{}, fastPolling(30)...)
	if domain.CodeOf(err) != domain.CodeGenerationFailed {
		t.Fatalf("expected ERR_GENERATION_FAILED, got %v", err)
	}
	de, _ := domain.AsError(err)
	if de.Data == nil {
		t.Fatalf("expected status payload on failure")
	}
	if got := f.statuses.Load(); got != 2 {
		t.Fatalf("status calls = %d, want 2 (no polling after a terminal status)", got)
	}
}

func TestGenerateAndWaitEmptyGenerated(t *testing.T) {
	f := &fakeMystic{t: t, statusFor: func(int) string { return "COMPLETED" }}
	c := newTestClient(t, f, "key")

	_, err := c.GenerateAndWait(context.Background(), "p", domain.GenerationOptions{}, fastPolling(3)...)
	if domain.CodeOf(err) != domain.CodeEmptyResponse {
		t.Fatalf("expected ERR_EMPTY_RESPONSE, got %v", err)
	}
}

func TestCreateTaskRejectsBlankPromptWithoutNetwork(t *testing.T) {
	f := &fakeMystic{t: t}
	c := newTestClient(t, f, "key")

	for _, p := range []string{"", "   ", "\n\t"} {
		_, err := c.CreateTask(context.Background(), p, domain.GenerationOptions{})
		if domain.CodeOf(err) != domain.CodePromptRequired || !domain.IsKind(err, domain.KindValidation) {
			t.Fatalf("prompt %q: expected ERR_PROMPT_REQUIRED, got %v", p, err)
		}
	}
	if _, err := c.GenerateAndWait(context.Background(), "", domain.GenerationOptions{}); domain.CodeOf(err) != domain.CodePromptRequired {
		t.Fatalf("GenerateAndWait: expected ERR_PROMPT_REQUIRED, got %v", err)
	}
	if f.creates.Load() != 0 || f.statuses.Load() != 0 {
		t.Fatalf("no network call expected, got %d creates, %d statuses", f.creates.Load(), f.statuses.Load())
	}
}

func TestCreateTaskRequiresAPIKey(t *testing.T) {
	f := &fakeMystic{t: t}
	c := newTestClient(t, f, "  ")

	_, err := c.CreateTask(context.Background(), "p", domain.GenerationOptions{})
	if !domain.IsKind(err, domain.KindAPIKey) || domain.CodeOf(err) != domain.CodeAPIKeyMissing {
		t.Fatalf("expected ERR_API_KEY_MISSING, got %v", err)
	}
	if f.creates.Load() != 0 {
		t.Fatalf("no network call expected")
	}
}

func TestCreateTaskRemoteErrorCarriesPayload(t *testing.T) {
	f := &fakeMystic{t: t, createStatus: http.StatusUnauthorized, createReply: `{"message":"Invalid API key"}`}
	c := newTestClient(t, f, "bad")

	_, err := c.CreateTask(context.Background(), "p", domain.GenerationOptions{})
	if domain.CodeOf(err) != domain.CodeFreepikCreate {
		t.Fatalf("expected ERR_FREEPIK_CREATE, got %v", err)
	}
	de, _ := domain.AsError(err)
	payload, ok := de.Data.(map[string]any)
	if !ok || payload["message"] != "Invalid API key" {
		t.Fatalf("expected remote payload, got %#v", de.Data)
	}
}

func TestCreateTaskWithoutTaskID(t *testing.T) {
	f := &fakeMystic{t: t, createReply: `{"data":{}}`}
	c := newTestClient(t, f, "key")

	_, err := c.CreateTask(context.Background(), "p", domain.GenerationOptions{})
	if domain.CodeOf(err) != domain.CodeFreepikCreate {
		t.Fatalf("expected ERR_FREEPIK_CREATE, got %v", err)
	}
}

func TestCreateTaskDefaultsStatus(t *testing.T) {
	f := &fakeMystic{t: t, createReply: `{"data":{"task_id":"abc"}}`}
	c := newTestClient(t, f, "key")

	task, err := c.CreateTask(context.Background(), "p", domain.GenerationOptions{})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.TaskID != "abc" || task.Status != domain.StatusCreated {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestGetTaskStatusValidation(t *testing.T) {
	f := &fakeMystic{t: t}
	c := newTestClient(t, f, "key")

	_, err := c.GetTaskStatus(context.Background(), " ")
	if domain.CodeOf(err) != domain.CodeTaskIDRequired {
		t.Fatalf("expected ERR_TASK_ID_REQUIRED, got %v", err)
	}
	if f.statuses.Load() != 0 {
		t.Fatalf("no network call expected")
	}
}

func TestGetTaskStatusRemoteError(t *testing.T) {
	f := &fakeMystic{t: t, statusCode: http.StatusBadGateway}
	c := newTestClient(t, f, "key")

	_, err := c.GetTaskStatus(context.Background(), "task-1")
	if domain.CodeOf(err) != domain.CodeFreepikStatus {
		t.Fatalf("expected ERR_FREEPIK_STATUS, got %v", err)
	}
	if got := f.statuses.Load(); got != 1 {
		t.Fatalf("status calls = %d, want exactly 1 (no retry)", got)
	}
}

func TestGetTaskStatusLargeBody(t *testing.T) {
	generated := make([]string, 2000)
	for i := range generated {
		generated[i] = fmt.Sprintf("https://cdn.example/images/%04d/%s.png", i, strings.Repeat("x", 40))
	}
	f := &fakeMystic{t: t, statusFor: func(int) string { return "COMPLETED" }, generated: generated}
	c := newTestClient(t, f, "key")

	task, err := c.GetTaskStatus(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if len(task.Generated) != len(generated) {
		t.Fatalf("generated = %d, want %d", len(task.Generated), len(generated))
	}
	if got := task.Generated[len(generated)-1]; got != generated[len(generated)-1] {
		t.Fatalf("last url = %q", got)
	}
}

func TestGenerateAndWaitDeadlineIsTimeout(t *testing.T) {
	f := &fakeMystic{t: t, statusFor: func(int) string { return "IN_PROGRESS" }}
	c := newTestClient(t, f, "key")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.GenerateAndWait(ctx, "p", domain.GenerationOptions{}, WithPollInterval(time.Second), WithMaxAttempts(30))
	if domain.CodeOf(err) != domain.CodeTimeout {
		t.Fatalf("expected ERR_TIMEOUT on deadline, got %v", err)
	}
	if got := f.statuses.Load(); got != 1 {
		t.Fatalf("status calls = %d, want 1", got)
	}
}

func TestGenerateAndWaitCancellation(t *testing.T) {
	f := &fakeMystic{t: t, statusFor: func(int) string { return "IN_PROGRESS" }}
	c := newTestClient(t, f, "key")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := c.GenerateAndWait(ctx, "p", domain.GenerationOptions{}, WithPollInterval(time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if domain.CodeOf(err) != "" {
		t.Fatalf("cancellation must not be mapped to a domain code, got %q", domain.CodeOf(err))
	}
}

func TestWithPollPolicyIgnoresUnknown(t *testing.T) {
	w := waitConfig{policy: "fixed"}
	WithPollPolicy("random", 0)(&w)
	if w.policy != "fixed" {
		t.Fatalf("policy = %q", w.policy)
	}
	WithPollPolicy("exponential", 5*time.Second)(&w)
	if w.policy != "exponential" || w.maxInterval != 5*time.Second {
		t.Fatalf("unexpected wait config %+v", w)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{}, nil)
	if c.cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %q", c.cfg.BaseURL)
	}
	if c.HasAPIKey() {
		t.Fatalf("expected no api key")
	}
	if c.http.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v", c.http.Timeout)
	}
}
