package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/osvaldoandrade/imagegate/internal/freepik"
	"github.com/osvaldoandrade/imagegate/internal/providers"
	"github.com/osvaldoandrade/imagegate/pkg/domain"
	"github.com/osvaldoandrade/imagegate/pkg/persistence"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Generator is the remote generation API as seen by the service.
type Generator interface {
	HasAPIKey() bool
	CreateTask(ctx context.Context, prompt string, opts domain.GenerationOptions) (*domain.GenerationTask, error)
	GetTaskStatus(ctx context.Context, taskID string) (*domain.GenerationTask, error)
	GenerateAndWait(ctx context.Context, prompt string, opts domain.GenerationOptions, wopts ...freepik.WaitOption) (*domain.GenerationResult, error)
}

type GenerationService interface {
	// Generate validates the request, creates a remote task and waits for it.
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
	// Submit validates the request and only creates the remote task.
	Submit(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationTask, error)
	// TaskStatus passes one status check through to the remote API.
	TaskStatus(ctx context.Context, taskID string) (*domain.GenerationTask, error)
}

type GenerationSettings struct {
	// Template wraps the prompt at its %s; empty disables wrapping.
	Template        string
	MaxPromptLength int

	Defaults            domain.GenerationOptions
	AllowedResolutions  []string
	AllowedAspectRatios []string
	AllowedModels       []string

	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollPolicy      string
	MaxAttempts     int
	// Deadline bounds one Generate call; zero means no extra deadline.
	Deadline time.Duration

	Mirror    bool
	MirrorDir string
}

type generationService struct {
	gen        Generator
	settings   GenerationSettings
	store      persistence.ImageStorage
	uploader   providers.Uploader
	downloader providers.Downloader
	logger     *slog.Logger
	now        func() time.Time
	newGUID    func() string
	tracer     trace.Tracer
}

// NewGenerationService wires the service. store, uploader and downloader are
// only used when settings.Mirror is true and may be nil otherwise.
func NewGenerationService(gen Generator, settings GenerationSettings, store persistence.ImageStorage, uploader providers.Uploader, downloader providers.Downloader, logger *slog.Logger, now func() time.Time) GenerationService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if settings.MaxPromptLength <= 0 {
		settings.MaxPromptLength = 1000
	}
	settings.Defaults = freepik.WithDefaults(settings.Defaults)
	if settings.MirrorDir == "" {
		settings.MirrorDir = "generated"
	}
	if settings.Mirror && (store == nil || uploader == nil || downloader == nil) {
		logger.Warn("image mirroring disabled: storage, uploader or downloader missing")
		settings.Mirror = false
	}
	return &generationService{
		gen:        gen,
		settings:   settings,
		store:      store,
		uploader:   uploader,
		downloader: downloader,
		logger:     logger.With("component", "generation"),
		now:        now,
		newGUID:    func() string { return uuid.NewString() },
		tracer:     otel.Tracer("imagegate/generation"),
	}
}

func (s *generationService) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	prompt, opts, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "imagegate.generate",
		trace.WithAttributes(
			attribute.String("imagegate.model", opts.Model),
			attribute.String("imagegate.resolution", opts.Resolution),
			attribute.String("imagegate.aspect_ratio", opts.AspectRatio),
		),
	)
	defer span.End()

	if s.settings.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.Deadline)
		defer cancel()
	}

	res, err := s.gen.GenerateAndWait(ctx, prompt, opts,
		freepik.WithPollInterval(s.settings.PollInterval),
		freepik.WithMaxAttempts(s.settings.MaxAttempts),
		freepik.WithPollPolicy(s.settings.PollPolicy, s.settings.PollMaxInterval),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.CodeOf(err))
		s.logger.Warn("image generation failed", "code", domain.CodeOf(err), "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("imagegate.task_id", res.TaskID))

	if s.settings.Mirror {
		guid, err := s.mirror(ctx, res.ImageURL)
		if err != nil {
			// The remote URL is still valid, so the generation succeeds without a guid.
			s.logger.Warn("mirror generated image failed", "taskId", res.TaskID, "err", err)
		} else {
			res.GUID = guid
		}
	}

	s.logger.Info("image generated", "taskId", res.TaskID, "guid", res.GUID)
	return res, nil
}

func (s *generationService) Submit(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationTask, error) {
	prompt, opts, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	task, err := s.gen.CreateTask(ctx, prompt, opts)
	if err != nil {
		s.logger.Warn("generation task submit failed", "code", domain.CodeOf(err), "err", err)
		return nil, err
	}
	return task, nil
}

func (s *generationService) TaskStatus(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, domain.NewValidationError(domain.CodeTaskIDRequired, "task id is required")
	}
	if !s.gen.HasAPIKey() {
		return nil, domain.NewAPIKeyError("freepik api key is not configured")
	}
	return s.gen.GetTaskStatus(ctx, taskID)
}

// prepare validates req and returns the prompt and options to send.
func (s *generationService) prepare(req domain.GenerationRequest) (string, domain.GenerationOptions, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", domain.GenerationOptions{}, domain.NewValidationError(domain.CodePromptRequired, "prompt is required")
	}
	if n := utf8.RuneCountInString(prompt); n > s.settings.MaxPromptLength {
		return "", domain.GenerationOptions{}, domain.NewValidationError(domain.CodePromptTooLong,
			fmt.Sprintf("prompt must be at most %d characters", s.settings.MaxPromptLength))
	}

	opts, err := s.options(req)
	if err != nil {
		return "", domain.GenerationOptions{}, err
	}

	if !s.gen.HasAPIKey() {
		return "", domain.GenerationOptions{}, domain.NewAPIKeyError("freepik api key is not configured")
	}

	if req.Style != "" {
		s.logger.Debug("style accepted but not forwarded", "style", req.Style)
	}
	if tpl := s.settings.Template; tpl != "" {
		prompt = strings.Replace(tpl, "%s", prompt, 1)
	}
	return prompt, opts, nil
}

func (s *generationService) options(req domain.GenerationRequest) (domain.GenerationOptions, error) {
	opts := s.settings.Defaults
	pick := func(field, value string, allowed []string, dst *string) error {
		value = strings.TrimSpace(value)
		if value == "" {
			return nil
		}
		if len(allowed) > 0 && !contains(allowed, value) {
			return domain.NewValidationError(domain.CodeInvalidOption,
				fmt.Sprintf("%s must be one of %s", field, strings.Join(allowed, ", ")))
		}
		*dst = value
		return nil
	}
	if err := pick("resolution", req.Resolution, s.settings.AllowedResolutions, &opts.Resolution); err != nil {
		return opts, err
	}
	if err := pick("aspect_ratio", req.AspectRatio, s.settings.AllowedAspectRatios, &opts.AspectRatio); err != nil {
		return opts, err
	}
	if err := pick("model", req.Model, s.settings.AllowedModels, &opts.Model); err != nil {
		return opts, err
	}
	return opts, nil
}

func (s *generationService) mirror(ctx context.Context, imageURL string) (string, error) {
	data, contentType, err := s.downloader.Download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	guid := s.newGUID()
	objectPath := path.Join(s.settings.MirrorDir, guid+providers.ExtensionFor(contentType, imageURL))
	rel, err := s.uploader.UploadBytes(ctx, objectPath, contentType, data)
	if err != nil {
		return "", fmt.Errorf("store mirrored image: %w", err)
	}
	rec := domain.ImageRecord{
		GUID:        guid,
		URL:         rel,
		ContentType: contentType,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return "", fmt.Errorf("save image record: %w", err)
	}
	return guid, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// IsClientCanceled reports whether err came from the caller going away.
func IsClientCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
