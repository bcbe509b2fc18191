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
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Scraper     ScraperConfig   `toml:"scraper"`
	Research    ResearchConfig  `toml:"research"`
	Search      SearchConfig    `toml:"search"`
	LLM         LLMConfig       `toml:"llm"`
	Billing     BillingConfig   `toml:"billing"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Variables   VariablesConfig `toml:"variables"`
}

// VariablesConfig points at operator-provided variable files that are loaded
// into the key/value store at startup. API keys resolved at wiring time fall
// back to these when the environment and config file leave them unset.
type VariablesConfig struct {
	// Dir holds TOML variable files, one [key_name] table per variable with
	// a 'value' and optional 'description' field.
	Dir string `toml:"dir"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host" validate:"required"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "500ms" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency" validate:"gte=1"`
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "5m" - claim duration before redelivery
	MaxReceive        int    `toml:"max_receive" validate:"gte=1"` // receive budget before dead-letter
	QueueName         string `toml:"queue_name"`
	RetryBackoffBase  string `toml:"retry_backoff_base"` // first retry delay, doubles per attempt
	RetryBackoffMax   string `toml:"retry_backoff_max"`
	// DefaultTeamConcurrency bounds in-flight jobs per team when the crawl
	// request does not set its own lane width. 0 disables lanes.
	DefaultTeamConcurrency int `toml:"default_team_concurrency" validate:"gte=0"`
}

// PollIntervalDuration parses the poll interval with a safe fallback.
func (q QueueConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(q.PollInterval, 500*time.Millisecond)
}

// VisibilityTimeoutDuration parses the visibility timeout with a safe fallback.
func (q QueueConfig) VisibilityTimeoutDuration() time.Duration {
	return parseDurationOr(q.VisibilityTimeout, 5*time.Minute)
}

// RetryBackoffBaseDuration parses the base retry delay with a safe fallback.
func (q QueueConfig) RetryBackoffBaseDuration() time.Duration {
	return parseDurationOr(q.RetryBackoffBase, 1*time.Second)
}

// RetryBackoffMaxDuration parses the max retry delay with a safe fallback.
func (q QueueConfig) RetryBackoffMaxDuration() time.Duration {
	return parseDurationOr(q.RetryBackoffMax, 30*time.Second)
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	// FrontierBackend selects where frontier state lives: "badger" for a
	// single process, "redis" when several worker processes share one crawl.
	FrontierBackend string      `toml:"frontier_backend" validate:"oneof=badger redis"`
	Redis           RedisConfig `toml:"redis"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // delete database on startup for clean test runs
}

type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// CrawlerConfig holds frontier-expansion defaults applied when a crawl
// request leaves them unset.
type CrawlerConfig struct {
	MaxDepth     int           `toml:"max_depth" validate:"gte=0"`
	Limit        int           `toml:"limit" validate:"gte=0"` // max pages per crawl
	LockTTL      time.Duration `toml:"lock_ttl"`               // per-URL processing claim expiry
	RequestDelay time.Duration `toml:"request_delay"`          // politeness delay between fetches per domain
}

// ScraperConfig controls the fetch-and-convert pipeline.
type ScraperConfig struct {
	UserAgent      string        `toml:"user_agent"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	MaxBodySize    int           `toml:"max_body_size" validate:"gte=0"`
	// RateLimit is the per-host request rate for the HTTP engine.
	RateLimit       float64       `toml:"rate_limit" validate:"gte=0"`
	BrowserEnabled  bool          `toml:"browser_enabled"`
	BrowserWaitTime time.Duration `toml:"browser_wait_time"`
	// AltTextEnabled turns on the best-effort image alt-text side chain.
	AltTextEnabled bool `toml:"alt_text_enabled"`
}

// ResearchConfig holds budget defaults for research runs.
type ResearchConfig struct {
	MaxDepth          int           `toml:"max_depth" validate:"gte=1"`
	TimeLimit         time.Duration `toml:"time_limit"`
	MaxURLs           int           `toml:"max_urls" validate:"gte=1"`
	MaxFailedAttempts int           `toml:"max_failed_attempts" validate:"gte=1"`
	ResultsPerQuery   int           `toml:"results_per_query" validate:"gte=1"`
}

type SearchConfig struct {
	Provider   string `toml:"provider"` // "gemini" or "none"
	MaxResults int    `toml:"max_results" validate:"gte=1"`
}

type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float64 `toml:"temperature"`
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float64 `toml:"temperature"`
}

// LLMProvider identifies which LLM backend to use
type LLMProvider string

const (
	LLMProviderGemini LLMProvider = "gemini"
	LLMProviderClaude LLMProvider = "claude"
)

type LLMConfig struct {
	DefaultProvider LLMProvider  `toml:"default_provider" validate:"oneof=gemini claude"`
	Gemini          GeminiConfig `toml:"gemini"`
	Claude          ClaudeConfig `toml:"claude"`
}

type BillingConfig struct {
	Enabled bool `toml:"enabled"`
	// DefaultCredits seeds a team ledger on first sight.
	DefaultCredits int `toml:"default_credits" validate:"gte=0"`
	// MaxCostPerRun caps billed units for a single crawl or research run.
	// Zero means uncapped.
	MaxCostPerRun int `toml:"max_cost_per_run" validate:"gte=0"`
}

type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
	// DefinitionsPath points at the YAML file of scheduled crawls.
	DefinitionsPath string `toml:"definitions_path"`
	// StaleCheckInterval is how often running crawls are checked for stalls.
	StaleCheckInterval time.Duration `toml:"stale_check_interval"`
	// StaleThreshold marks a running crawl failed after this much silence.
	StaleThreshold time.Duration `toml:"stale_threshold"`
}

type LoggingConfig struct {
	Level         string   `toml:"level" validate:"oneof=debug info warn error"`
	Format        string   `toml:"format"` // "json" or "text"
	Output        []string `toml:"output"` // "stdout", "file"
	MinEventLevel string   `toml:"min_event_level"` // minimum level republished as events
}

type WebSocketConfig struct {
	// AllowedEvents whitelists event types broadcast to clients; empty allows all.
	AllowedEvents []string `toml:"allowed_events"`
	// ThrottleIntervals caps high-frequency event types, e.g. crawl_progress = "1s".
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// NewDefaultConfig returns the default configuration
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:           "500ms",
			Concurrency:            4,
			VisibilityTimeout:      "5m",
			MaxReceive:             3,
			QueueName:              "messor",
			RetryBackoffBase:       "1s",
			RetryBackoffMax:        "30s",
			DefaultTeamConcurrency: 0,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/messor",
				ResetOnStartup: false,
			},
			FrontierBackend: "badger",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "messor",
			},
		},
		Crawler: CrawlerConfig{
			MaxDepth:     3,
			Limit:        100,
			LockTTL:      2 * time.Minute,
			RequestDelay: 500 * time.Millisecond,
		},
		Scraper: ScraperConfig{
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout:  30 * time.Second,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			RateLimit:       2,
			BrowserEnabled:  true,
			BrowserWaitTime: 3 * time.Second,
			AltTextEnabled:  false,
		},
		Research: ResearchConfig{
			MaxDepth:          7,
			TimeLimit:         270 * time.Second,
			MaxURLs:           15,
			MaxFailedAttempts: 3,
			ResultsPerQuery:   5,
		},
		Search: SearchConfig{
			Provider:   "gemini",
			MaxResults: 10,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
			Gemini: GeminiConfig{
				Model:       "gemini-2.0-flash",
				Timeout:     "5m",
				RateLimit:   "4s",
				Temperature: 0.7,
			},
			Claude: ClaudeConfig{
				Model:       "claude-sonnet-4-20250514",
				MaxTokens:   8192,
				Timeout:     "5m",
				Temperature: 0.7,
			},
		},
		Billing: BillingConfig{
			Enabled:        false,
			DefaultCredits: 1000,
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			DefinitionsPath:    "",
			StaleCheckInterval: 5 * time.Minute,
			StaleThreshold:     30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout"},
			MinEventLevel: "info",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"crawl_progress": "1s",
			},
		},
		Variables: VariablesConfig{
			Dir: "./variables",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones;
// environment variables override all files.
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

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MESSOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("MESSOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MESSOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("MESSOR_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("MESSOR_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("MESSOR_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("MESSOR_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}
	if queueName := os.Getenv("MESSOR_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	// Storage configuration
	if badgerPath := os.Getenv("MESSOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if variablesDir := os.Getenv("MESSOR_VARIABLES_DIR"); variablesDir != "" {
		config.Variables.Dir = variablesDir
	}
	if backend := os.Getenv("MESSOR_FRONTIER_BACKEND"); backend != "" {
		config.Storage.FrontierBackend = backend
	}
	if redisAddr := os.Getenv("MESSOR_REDIS_ADDR"); redisAddr != "" {
		config.Storage.Redis.Addr = redisAddr
	}
	if redisPassword := os.Getenv("MESSOR_REDIS_PASSWORD"); redisPassword != "" {
		config.Storage.Redis.Password = redisPassword
	}

	// Crawler configuration
	if maxDepth := os.Getenv("MESSOR_CRAWLER_MAX_DEPTH"); maxDepth != "" {
		if md, err := strconv.Atoi(maxDepth); err == nil {
			config.Crawler.MaxDepth = md
		}
	}
	if limit := os.Getenv("MESSOR_CRAWLER_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.Crawler.Limit = l
		}
	}
	if lockTTL := os.Getenv("MESSOR_CRAWLER_LOCK_TTL"); lockTTL != "" {
		if d, err := time.ParseDuration(lockTTL); err == nil {
			config.Crawler.LockTTL = d
		}
	}

	// Scraper configuration
	if userAgent := os.Getenv("MESSOR_SCRAPER_USER_AGENT"); userAgent != "" {
		config.Scraper.UserAgent = userAgent
	}
	if requestTimeout := os.Getenv("MESSOR_SCRAPER_REQUEST_TIMEOUT"); requestTimeout != "" {
		if rt, err := time.ParseDuration(requestTimeout); err == nil {
			config.Scraper.RequestTimeout = rt
		}
	}
	if browserEnabled := os.Getenv("MESSOR_SCRAPER_BROWSER_ENABLED"); browserEnabled != "" {
		if be, err := strconv.ParseBool(browserEnabled); err == nil {
			config.Scraper.BrowserEnabled = be
		}
	}

	// LLM configuration
	if provider := os.Getenv("MESSOR_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if geminiKey := os.Getenv("MESSOR_GEMINI_API_KEY"); geminiKey != "" {
		config.LLM.Gemini.APIKey = geminiKey
	} else if geminiKey := os.Getenv("GEMINI_API_KEY"); geminiKey != "" {
		config.LLM.Gemini.APIKey = geminiKey
	}
	if claudeKey := os.Getenv("MESSOR_CLAUDE_API_KEY"); claudeKey != "" {
		config.LLM.Claude.APIKey = claudeKey
	} else if claudeKey := os.Getenv("ANTHROPIC_API_KEY"); claudeKey != "" {
		config.LLM.Claude.APIKey = claudeKey
	}

	// Logging configuration
	if level := os.Getenv("MESSOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("MESSOR_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("MESSOR_LOG_OUTPUT"); output != "" {
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

// ApplyFlagOverrides applies command-line flag values, the highest priority.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
