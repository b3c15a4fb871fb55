package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Accounts    AccountsConfig  `toml:"accounts"`
	Browser     BrowserConfig   `toml:"browser"`
	Chat        ChatConfig      `toml:"chat"`
	Worker      WorkerConfig    `toml:"worker"`
	Extractor   ExtractorConfig `toml:"extractor"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig configures the observability endpoint (log stream)
type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lt=65536"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SchedulerConfig tunes the tick loop. Concurrency has no dedicated knob:
// it is implicitly capped by the number of available accounts.
type SchedulerConfig struct {
	PollInterval string `toml:"poll_interval"` // e.g. "2s" - tick loop period
	// DefaultMaxRetries is applied to tasks submitted without an explicit cap
	DefaultMaxRetries int `toml:"default_max_retries" validate:"gte=0"`
	// LaunchesPerMinute bounds worker launches so a deep queue at cold
	// start does not spawn a herd of browser processes at once (0 = unbounded)
	LaunchesPerMinute int `toml:"launches_per_minute"`
	// MaintenanceSchedule is a cron expression for the administrative
	// sweep (expired cooldowns, stuck processing tasks)
	MaintenanceSchedule string `toml:"maintenance_schedule"`
	// StuckTaskThreshold requeues processing tasks older than this during
	// the maintenance sweep
	StuckTaskThreshold string `toml:"stuck_task_threshold"`
}

// PollIntervalDuration parses the tick period with a safe fallback
func (c *SchedulerConfig) PollIntervalDuration() time.Duration {
	return parseDuration(c.PollInterval, 2*time.Second)
}

// StuckTaskThresholdDuration parses the stuck-task threshold
func (c *SchedulerConfig) StuckTaskThresholdDuration() time.Duration {
	return parseDuration(c.StuckTaskThreshold, 30*time.Minute)
}

// AccountsConfig tunes the rotation pool
type AccountsConfig struct {
	// RateLimitCooldown is the fixed cooldown applied when an account
	// hits a rate limit. Always a flat duration, never exponential.
	RateLimitCooldown string `toml:"rate_limit_cooldown"`
	// RotationStrategy: "first_available", "round_robin", "random", "lru"
	RotationStrategy string `toml:"rotation_strategy" validate:"omitempty,oneof=first_available round_robin random lru"`
	// SessionEnvVar names an environment variable holding a shared
	// session blob (base64), used when an account has no persisted state
	SessionEnvVar string `toml:"session_env_var"`
	// SessionFile points at a shared session-state file, the last
	// fallback before interactive login
	SessionFile string `toml:"session_file"`
	// CredentialKey decrypts Account.EncryptedCredential (hex-encoded AES key)
	CredentialKey string `toml:"credential_key"`
}

// RateLimitCooldownDuration parses the cooldown with the 1h default
func (c *AccountsConfig) RateLimitCooldownDuration() time.Duration {
	return parseDuration(c.RateLimitCooldown, time.Hour)
}

// BrowserConfig configures the chromedp driver
type BrowserConfig struct {
	Headless   bool   `toml:"headless"`
	UserAgent  string `toml:"user_agent"`
	Stealth    bool   `toml:"stealth"`     // fingerprint normalization on new sessions
	NavTimeout string `toml:"nav_timeout"` // navigation timeout, e.g. "45s"
	NoSandbox  bool   `toml:"no_sandbox"`
	DisableGPU bool   `toml:"disable_gpu"`
}

// NavTimeoutDuration parses the navigation timeout
func (c *BrowserConfig) NavTimeoutDuration() time.Duration {
	return parseDuration(c.NavTimeout, 45*time.Second)
}

// ChatConfig describes the upstream conversational UI
type ChatConfig struct {
	BaseURL string `toml:"base_url" validate:"required,url"`
	// NewConversationURL forces a fresh conversation when set; otherwise
	// the new-chat control is clicked
	NewConversationURL string `toml:"new_conversation_url"`
	LoginURL           string `toml:"login_url"`
}

// WorkerConfig tunes the per-task lifecycle
type WorkerConfig struct {
	// GenerationStartTimeout bounds the wait for a "generating" indicator
	// after submit
	GenerationStartTimeout string `toml:"generation_start_timeout"`
	// GenerationCompleteTimeout is the hard ceiling on the completion
	// poll; timing out is a warning, extraction is still attempted
	GenerationCompleteTimeout string `toml:"generation_complete_timeout"`
	// InjectVerifyRatio is the minimum landed/source length ratio before
	// the secondary injection fallback kicks in
	InjectVerifyRatio float64 `toml:"inject_verify_ratio"`
}

func (c *WorkerConfig) GenerationStartTimeoutDuration() time.Duration {
	return parseDuration(c.GenerationStartTimeout, 15*time.Second)
}

func (c *WorkerConfig) GenerationCompleteTimeoutDuration() time.Duration {
	return parseDuration(c.GenerationCompleteTimeout, 2*time.Minute)
}

// ExtractorConfig tunes JSON candidate selection
type ExtractorConfig struct {
	// SentinelStart/SentinelEnd are the custom delimiters the prompt asks
	// the model to wrap its JSON answer in
	SentinelStart string `toml:"sentinel_start"`
	SentinelEnd   string `toml:"sentinel_end"`
	// MinCandidateLength discards JSON candidates below this floor - real
	// payloads run into the thousands of characters, small matches are
	// almost always the echoed prompt template
	MinCandidateLength int `toml:"min_candidate_length"`
	// MinContainerLength filters response containers before candidate
	// extraction
	MinContainerLength int `toml:"min_container_length"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for stability; only operator
// tuning knobs belong in noctua.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8090,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Scheduler: SchedulerConfig{
			PollInterval:        "2s",
			DefaultMaxRetries:   3,
			LaunchesPerMinute:   12,
			MaintenanceSchedule: "0 */10 * * * *", // every 10 minutes
			StuckTaskThreshold:  "30m",
		},
		Accounts: AccountsConfig{
			RateLimitCooldown: "1h",
			RotationStrategy:  "first_available",
			SessionEnvVar:     "NOCTUA_SESSION_STATE",
		},
		Browser: BrowserConfig{
			Headless:   true,
			Stealth:    true,
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			NavTimeout: "45s",
			DisableGPU: true,
		},
		Chat: ChatConfig{
			BaseURL: "https://gemini.google.com/app",
		},
		Worker: WorkerConfig{
			GenerationStartTimeout:    "15s",
			GenerationCompleteTimeout: "2m",
			InjectVerifyRatio:         0.9,
		},
		Extractor: ExtractorConfig{
			SentinelStart:      "<<<JSON_START>>>",
			SentinelEnd:        "<<<JSON_END>>>",
			MinCandidateLength: 150,
			MinContainerLength: 400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 ->
// file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("NOCTUA_ENV"); env != "" {
		config.Environment = env
	}
	if port := os.Getenv("NOCTUA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("NOCTUA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if path := os.Getenv("NOCTUA_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if interval := os.Getenv("NOCTUA_POLL_INTERVAL"); interval != "" {
		config.Scheduler.PollInterval = interval
	}
	if cooldown := os.Getenv("NOCTUA_RATE_LIMIT_COOLDOWN"); cooldown != "" {
		config.Accounts.RateLimitCooldown = cooldown
	}
	if strategy := os.Getenv("NOCTUA_ROTATION_STRATEGY"); strategy != "" {
		config.Accounts.RotationStrategy = strategy
	}
	if baseURL := os.Getenv("NOCTUA_CHAT_BASE_URL"); baseURL != "" {
		config.Chat.BaseURL = baseURL
	}
	if headless := os.Getenv("NOCTUA_BROWSER_HEADLESS"); headless != "" {
		config.Browser.Headless = headless == "true" || headless == "1"
	}
	if level := os.Getenv("NOCTUA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("NOCTUA_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// parseDuration parses a duration string with a fallback for empty or
// malformed values
func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
