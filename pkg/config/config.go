package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/osvaldoandrade/imagegate/internal/backoff"
	"github.com/osvaldoandrade/imagegate/internal/ratelimit"
	"github.com/osvaldoandrade/imagegate/internal/tracing"
	"gopkg.in/yaml.v3"
)

const DefaultPromptTemplate = "beautiful picture: %s. Modern, stylish, high quality."

type AssetsConfig struct {
	Root            string `yaml:"root"`
	MirrorGenerated bool   `yaml:"mirrorGenerated"`
	MirrorDir       string `yaml:"mirrorDir"`
	AuditCron       string `yaml:"auditCron"`
	MaxDownloadMB   int    `yaml:"maxDownloadMb"`
}

type StorageConfig struct {
	// Backend is one of memory, redis, postgres, sqlite.
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

type RateLimitConfig struct {
	Generate ratelimit.Bucket `yaml:"generate"`
}

type AuthConfig struct {
	// Provider is empty (open), static or jwks.
	Provider      string         `yaml:"provider"`
	Config        map[string]any `yaml:"config"`
	RequiredScope string         `yaml:"requiredScope"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port      int    `yaml:"port"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Timezone  string `yaml:"timezone"`

	FreepikAPIKey      string `yaml:"freepikApiKey"`
	FreepikBaseURL     string `yaml:"freepikBaseUrl"`
	HTTPTimeoutSeconds int    `yaml:"httpTimeoutSeconds"`

	PollIntervalMs    int    `yaml:"pollIntervalMs"`
	PollMaxAttempts   int    `yaml:"pollMaxAttempts"`
	PollPolicy        string `yaml:"pollPolicy"`
	PollMaxIntervalMs int    `yaml:"pollMaxIntervalMs"`
	DeadlineGraceMs   int    `yaml:"deadlineGraceMs"`

	// PromptTemplate wraps the user prompt at %s. nil means the default
	// template; an explicit empty string disables wrapping.
	PromptTemplate      *string  `yaml:"promptTemplate"`
	MaxPromptLength     int      `yaml:"maxPromptLength"`
	DefaultResolution   string   `yaml:"defaultResolution"`
	DefaultAspectRatio  string   `yaml:"defaultAspectRatio"`
	DefaultModel        string   `yaml:"defaultModel"`
	AllowedResolutions  []string `yaml:"allowedResolutions"`
	AllowedAspectRatios []string `yaml:"allowedAspectRatios"`
	AllowedModels       []string `yaml:"allowedModels"`

	Assets  AssetsConfig  `yaml:"assets"`
	Storage StorageConfig `yaml:"storage"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Auth      AuthConfig      `yaml:"auth"`
	Tracing   TracingConfig   `yaml:"tracing"`

	ShutdownTimeoutSeconds int `yaml:"shutdownTimeoutSeconds"`
}

// LoadConfig reads a required YAML file, then applies .env, environment
// overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return load(data)
}

// LoadConfigOptional behaves like LoadConfig but tolerates an empty path or a
// missing file; the configuration then comes from the environment alone.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		return load(nil)
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return load(nil)
	}
	if err != nil {
		return nil, err
	}
	return load(data)
}

func load(data []byte) (*Config, error) {
	var c Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// loadDotEnv loads ENV_FILE (default .env) without overriding variables that
// are already set. A missing default file is ignored.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func (c *Config) applyEnv() error {
	envInt("PORT", &c.Port)
	envString("ENV", &c.Env)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("TIMEZONE", &c.Timezone)

	envString("FREEPIK_API_KEY", &c.FreepikAPIKey)
	envString("FREEPIK_BASE_URL", &c.FreepikBaseURL)
	envInt("FREEPIK_HTTP_TIMEOUT_SECONDS", &c.HTTPTimeoutSeconds)

	envInt("POLL_INTERVAL_MS", &c.PollIntervalMs)
	envInt("POLL_MAX_ATTEMPTS", &c.PollMaxAttempts)
	envString("POLL_POLICY", &c.PollPolicy)
	envInt("POLL_MAX_INTERVAL_MS", &c.PollMaxIntervalMs)
	envInt("DEADLINE_GRACE_MS", &c.DeadlineGraceMs)

	// Set-but-empty PROMPT_TEMPLATE disables wrapping.
	if v, ok := os.LookupEnv("PROMPT_TEMPLATE"); ok {
		c.PromptTemplate = &v
	}
	envInt("MAX_PROMPT_LENGTH", &c.MaxPromptLength)
	envString("DEFAULT_RESOLUTION", &c.DefaultResolution)
	envString("DEFAULT_ASPECT_RATIO", &c.DefaultAspectRatio)
	envString("DEFAULT_MODEL", &c.DefaultModel)

	envString("ASSET_ROOT", &c.Assets.Root)
	envBool("ASSET_MIRROR_GENERATED", &c.Assets.MirrorGenerated)
	envString("ASSET_MIRROR_DIR", &c.Assets.MirrorDir)
	envString("ASSET_AUDIT_CRON", &c.Assets.AuditCron)
	envInt("ASSET_MAX_DOWNLOAD_MB", &c.Assets.MaxDownloadMB)

	envString("STORAGE_BACKEND", &c.Storage.Backend)
	envString("STORAGE_DSN", &c.Storage.DSN)

	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)

	envInt("RATE_LIMIT_GENERATE_RPM", &c.RateLimit.Generate.RequestsPerMinute)
	envInt("RATE_LIMIT_GENERATE_BURST", &c.RateLimit.Generate.BurstSize)

	envString("AUTH_PROVIDER", &c.Auth.Provider)
	envString("AUTH_REQUIRED_SCOPE", &c.Auth.RequiredScope)
	if v := strings.TrimSpace(os.Getenv("AUTH_CONFIG")); v != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return fmt.Errorf("AUTH_CONFIG must be a JSON object: %w", err)
		}
		c.Auth.Config = m
	}

	envBool("TRACING_ENABLED", &c.Tracing.Enabled)
	envString("OTEL_SERVICE_NAME", &c.Tracing.ServiceName)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.OTLPEndpoint)
	envBool("OTEL_EXPORTER_OTLP_INSECURE", &c.Tracing.OTLPInsecure)
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		c.Tracing.SampleRatio = tracing.ParseSampleRatio(v)
	}

	envInt("SHUTDOWN_TIMEOUT_SECONDS", &c.ShutdownTimeoutSeconds)
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.HTTPTimeoutSeconds <= 0 {
		c.HTTPTimeoutSeconds = 30
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 2000
	}
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = 30
	}
	if c.PollPolicy == "" {
		c.PollPolicy = backoff.PolicyFixed
	}
	if c.PollMaxIntervalMs <= 0 {
		c.PollMaxIntervalMs = 10000
	}
	if c.DeadlineGraceMs <= 0 {
		c.DeadlineGraceMs = 5000
	}
	if c.PromptTemplate == nil {
		tpl := DefaultPromptTemplate
		c.PromptTemplate = &tpl
	}
	if c.MaxPromptLength <= 0 {
		c.MaxPromptLength = 1000
	}
	if c.DefaultResolution == "" {
		c.DefaultResolution = "2k"
	}
	if c.DefaultAspectRatio == "" {
		c.DefaultAspectRatio = "square_1_1"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "realism"
	}
	if len(c.AllowedResolutions) == 0 {
		c.AllowedResolutions = []string{"1k", "2k", "4k"}
	}
	if len(c.AllowedAspectRatios) == 0 {
		c.AllowedAspectRatios = []string{
			"square_1_1", "classic_4_3", "traditional_3_4", "widescreen_16_9",
			"social_story_9_16", "smartphone_horizontal_20_9", "smartphone_vertical_9_20",
			"standard_3_2", "portrait_2_3", "horizontal_2_1", "vertical_1_2",
			"social_5_4", "social_post_4_5",
		}
	}
	if len(c.AllowedModels) == 0 {
		c.AllowedModels = []string{"realism", "fluid", "zen", "flexible", "super_real", "editorial_portraits"}
	}
	if c.Assets.Root == "" {
		c.Assets.Root = "./public"
	}
	if c.Assets.MirrorDir == "" {
		c.Assets.MirrorDir = "generated"
	}
	if c.Assets.MaxDownloadMB <= 0 {
		c.Assets.MaxDownloadMB = 32
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = tracing.DefaultServiceName
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = 15
	}
}

// Validate rejects configurations the server cannot start with. A missing
// API key only warns: requests then fail with ERR_API_KEY_MISSING.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be in 1..65535")
	}
	if c.PollIntervalMs <= 0 {
		errs = append(errs, "pollIntervalMs must be > 0")
	}
	if c.PollMaxAttempts <= 0 {
		errs = append(errs, "pollMaxAttempts must be > 0")
	}
	if !backoff.Valid(c.PollPolicy) {
		errs = append(errs, fmt.Sprintf("pollPolicy %q is not one of fixed, linear, exponential, exp_full_jitter", c.PollPolicy))
	}
	if tpl := c.Template(); tpl != "" && strings.Count(tpl, "%s") != 1 {
		errs = append(errs, "promptTemplate must contain exactly one %s")
	}
	if !contains(c.AllowedResolutions, c.DefaultResolution) {
		errs = append(errs, "defaultResolution is not in allowedResolutions")
	}
	if !contains(c.AllowedAspectRatios, c.DefaultAspectRatio) {
		errs = append(errs, "defaultAspectRatio is not in allowedAspectRatios")
	}
	if !contains(c.AllowedModels, c.DefaultModel) {
		errs = append(errs, "defaultModel is not in allowedModels")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}

	switch c.Storage.Backend {
	case "memory", "sqlite":
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, "storage backend redis requires redisAddr")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, "storage backend postgres requires storage.dsn")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Auth.Provider {
	case "":
	case "static", "jwks":
		if len(c.Auth.Config) == 0 {
			errs = append(errs, fmt.Sprintf("auth provider %s requires auth.config", c.Auth.Provider))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown auth provider %q", c.Auth.Provider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}

	if strings.TrimSpace(c.FreepikAPIKey) == "" {
		slog.Warn("freepik api key is not configured; generation requests will fail with ERR_API_KEY_MISSING")
	}
	if c.Env != "dev" && c.Auth.Provider == "" {
		slog.Warn("auth provider is not configured; generation endpoint is open", "env", c.Env)
	}
	return nil
}

// Template returns the effective prompt template ("" disables wrapping).
func (c *Config) Template() string {
	if c.PromptTemplate == nil {
		return DefaultPromptTemplate
	}
	return *c.PromptTemplate
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) PollMaxInterval() time.Duration {
	return time.Duration(c.PollMaxIntervalMs) * time.Millisecond
}

// GenerationDeadline bounds one create-and-wait cycle: the fixed-policy
// polling budget plus a grace period for the create call and round trips.
func (c *Config) GenerationDeadline() time.Duration {
	per := c.PollInterval()
	if c.PollPolicy != backoff.PolicyFixed && c.PollMaxInterval() > per {
		per = c.PollMaxInterval()
	}
	return per*time.Duration(c.PollMaxAttempts) + time.Duration(c.DeadlineGraceMs)*time.Millisecond
}

// AuthConfigJSON renders auth.config for the auth provider registry.
func (c *Config) AuthConfigJSON() (json.RawMessage, error) {
	if len(c.Auth.Config) == 0 {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(c.Auth.Config)
	if err != nil {
		return nil, fmt.Errorf("encode auth.config: %w", err)
	}
	return b, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
