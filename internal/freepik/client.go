package freepik

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osvaldoandrade/imagegate/internal/backoff"
	"github.com/osvaldoandrade/imagegate/internal/metrics"
	"github.com/osvaldoandrade/imagegate/internal/tracing"
	"github.com/osvaldoandrade/imagegate/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL      = "https://api.freepik.com/v1/ai/mystic"
	DefaultResolution   = "2k"
	DefaultAspectRatio  = "square_1_1"
	DefaultModel        = "realism"
	DefaultPollInterval = 2000 * time.Millisecond
	DefaultMaxAttempts  = 30

	apiKeyHeader = "x-freepik-api-key"

	// Caps on buffered response bodies. Error bodies are kept for logs only.
	maxBody      = 4 << 20
	maxErrorBody = 64 << 10
)

// Config is injected once at construction and never mutated.
type Config struct {
	APIKey      string
	BaseURL     string
	HTTPTimeout time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	tracer trace.Tracer
}

type ClientOption func(*Client)

// WithHTTPClient replaces the transport used for remote calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(cfg Config, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With("component", "freepik"),
		tracer: otel.Tracer("imagegate/freepik"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HasAPIKey reports whether remote calls can be authenticated.
func (c *Client) HasAPIKey() bool { return c.cfg.APIKey != "" }

type createBody struct {
	Prompt      string `json:"prompt"`
	Resolution  string `json:"resolution"`
	AspectRatio string `json:"aspect_ratio"`
	Model       string `json:"model"`
}

type taskEnvelope struct {
	Data struct {
		TaskID    string   `json:"task_id"`
		Status    string   `json:"status"`
		Generated []string `json:"generated"`
	} `json:"data"`
}

// CreateTask submits a generation task. Blank prompts and a missing API key
// are rejected before any network call.
func (c *Client) CreateTask(ctx context.Context, prompt string, opts domain.GenerationOptions) (*domain.GenerationTask, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.NewValidationError(domain.CodePromptRequired, "prompt is required")
	}
	if !c.HasAPIKey() {
		return nil, domain.NewAPIKeyError("freepik api key is not configured")
	}

	opts = WithDefaults(opts)
	body, err := json.Marshal(createBody{
		Prompt:      prompt,
		Resolution:  opts.Resolution,
		AspectRatio: opts.AspectRatio,
		Model:       opts.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("freepik: encode create body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("freepik: build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, raw, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("freepik: create task: %w", err)
	}
	if status < 200 || status > 299 {
		c.logger.Error("freepik create failed", "httpStatus", status, "body", truncate(raw))
		return nil, domain.NewGenerationError(domain.CodeFreepikCreate, "failed to create generation task").
			WithData(decodePayload(raw))
	}

	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || strings.TrimSpace(env.Data.TaskID) == "" {
		return nil, domain.NewGenerationError(domain.CodeFreepikCreate, "create response carried no task id").
			WithData(decodePayload(raw))
	}

	metrics.GenerationTasksCreatedTotal.WithLabelValues(opts.Model).Inc()
	task := &domain.GenerationTask{
		TaskID: env.Data.TaskID,
		Status: domain.ParseTaskStatus(env.Data.Status),
	}
	c.logger.Info("freepik task created", "taskId", task.TaskID, "status", task.Status, "model", opts.Model)
	return task, nil
}

// GetTaskStatus performs one status check. It never retries.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, domain.NewValidationError(domain.CodeTaskIDRequired, "task id is required")
	}
	if !c.HasAPIKey() {
		return nil, domain.NewAPIKeyError("freepik api key is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("freepik: build status request: %w", err)
	}

	status, raw, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("freepik: task status %s: %w", taskID, err)
	}
	if status < 200 || status > 299 {
		c.logger.Error("freepik status failed", "taskId", taskID, "httpStatus", status, "body", truncate(raw))
		return nil, domain.NewGenerationError(domain.CodeFreepikStatus, "failed to read generation task status").
			WithData(decodePayload(raw))
	}

	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.NewGenerationError(domain.CodeFreepikStatus, "malformed task status response").
			WithCause(err)
	}
	task := &domain.GenerationTask{
		TaskID:    taskID,
		Status:    domain.ParseTaskStatus(env.Data.Status),
		Generated: env.Data.Generated,
	}
	metrics.GenerationPollsTotal.WithLabelValues(string(task.Status)).Inc()
	return task, nil
}

type waitConfig struct {
	interval    time.Duration
	maxInterval time.Duration
	maxAttempts int
	policy      string
}

type WaitOption func(*waitConfig)

func WithPollInterval(d time.Duration) WaitOption {
	return func(w *waitConfig) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithMaxAttempts(n int) WaitOption {
	return func(w *waitConfig) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithPollPolicy selects how the wait grows between checks. maxInterval caps
// the growing policies and is ignored by fixed.
func WithPollPolicy(policy string, maxInterval time.Duration) WaitOption {
	return func(w *waitConfig) {
		if backoff.Valid(policy) {
			w.policy = policy
		}
		if maxInterval > 0 {
			w.maxInterval = maxInterval
		}
	}
}

// GenerateAndWait creates a task and polls it sequentially until it reaches a
// terminal status, attempts run out, or ctx ends.
func (c *Client) GenerateAndWait(ctx context.Context, prompt string, opts domain.GenerationOptions, wopts ...WaitOption) (*domain.GenerationResult, error) {
	w := waitConfig{
		interval:    DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
		policy:      backoff.PolicyFixed,
	}
	for _, o := range wopts {
		o(&w)
	}

	ctx, span := c.tracer.Start(ctx, "imagegate.freepik.generate_and_wait",
		trace.WithAttributes(
			attribute.Int("imagegate.poll.max_attempts", w.maxAttempts),
			attribute.String("imagegate.poll.policy", w.policy),
		),
	)
	defer span.End()

	start := time.Now()
	finish := func(outcome string, err error) {
		metrics.GenerationFinishedTotal.WithLabelValues(outcome).Inc()
		metrics.GenerationLatencySeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.String("imagegate.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
	}

	task, err := c.CreateTask(ctx, prompt, opts)
	if err != nil {
		err = c.contextError(ctx, "", err)
		finish(outcomeOf(err), err)
		return nil, err
	}
	span.SetAttributes(attribute.String("imagegate.task_id", task.TaskID))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		st, err := c.GetTaskStatus(ctx, task.TaskID)
		if err != nil {
			err = c.contextError(ctx, task.TaskID, err)
			finish(outcomeOf(err), err)
			return nil, err
		}
		c.logger.Debug("freepik task polled", "taskId", task.TaskID, "attempt", attempt+1, "status", st.Status)

		switch st.Status {
		case domain.StatusCompleted:
			if len(st.Generated) == 0 || strings.TrimSpace(st.Generated[0]) == "" {
				err := domain.NewGenerationError(domain.CodeEmptyResponse, "task completed without generated images").
					WithData(st)
				finish("empty", err)
				return nil, err
			}
			finish("completed", nil)
			c.logger.Info("freepik task completed", "taskId", task.TaskID, "attempts", attempt+1)
			return &domain.GenerationResult{
				Success:  true,
				ImageURL: st.Generated[0],
				TaskID:   task.TaskID,
			}, nil
		case domain.StatusFailed:
			err := domain.NewGenerationError(domain.CodeGenerationFailed, "image generation failed").WithData(st)
			finish("failed", err)
			c.logger.Warn("freepik task failed", "taskId", task.TaskID, "attempts", attempt+1)
			return nil, err
		}

		if attempt == w.maxAttempts-1 {
			break
		}
		wait := backoff.Compute(w.policy, w.interval, w.maxInterval, attempt, rng)
		if err := sleepCtx(ctx, wait); err != nil {
			err = c.contextError(ctx, task.TaskID, err)
			finish(outcomeOf(err), err)
			return nil, err
		}
	}

	err = domain.NewGenerationError(domain.CodeTimeout, "timed out waiting for image generation").
		WithData(map[string]any{"taskId": task.TaskID, "attempts": w.maxAttempts})
	finish("timeout", err)
	c.logger.Warn("freepik task timed out", "taskId", task.TaskID, "attempts", w.maxAttempts)
	return nil, err
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	tracing.InjectHeaders(req.Context(), req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	limit := int64(maxBody)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit = maxErrorBody
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// contextError turns a deadline into ERR_TIMEOUT and keeps cancellation as a
// wrapped ctx.Err(). Other errors pass through.
func (c *Client) contextError(ctx context.Context, taskID string, err error) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.logger.Warn("freepik wait deadline exceeded", "taskId", taskID)
		return domain.NewGenerationError(domain.CodeTimeout, "timed out waiting for image generation").
			WithData(map[string]any{"taskId": taskID}).
			WithCause(err)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("freepik: wait for task %q: %w", taskID, ctx.Err())
	}
	return err
}

func outcomeOf(err error) string {
	if err == nil {
		return "completed"
	}
	if domain.CodeOf(err) == domain.CodeTimeout {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}

// WithDefaults fills empty options with the remote defaults.
func WithDefaults(opts domain.GenerationOptions) domain.GenerationOptions {
	if strings.TrimSpace(opts.Resolution) == "" {
		opts.Resolution = DefaultResolution
	}
	if strings.TrimSpace(opts.AspectRatio) == "" {
		opts.AspectRatio = DefaultAspectRatio
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	return opts
}

func decodePayload(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func truncate(raw []byte) string {
	const max = 512
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
