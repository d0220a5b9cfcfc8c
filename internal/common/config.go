package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // quota timezones must resolve on hosts without zoneinfo

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "FILINGWATCH_"

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Quota       QuotaConfig     `toml:"quota"`
	Discovery   DiscoveryConfig `toml:"discovery"`
	Drain       DrainConfig     `toml:"drain"`
	Edgar       EdgarConfig     `toml:"edgar"`
	Analysis    AnalysisConfig  `toml:"analysis"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Telegram    TelegramConfig  `toml:"telegram"`
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"` // Operator API on/off
	Port    int    `toml:"port" validate:"min=0,max=65535"`
	Host    string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
}

// QuotaConfig bounds how many analyses may run per day and per drain cycle
type QuotaConfig struct {
	DailyLimit     int    `toml:"daily_limit" validate:"min=1"`
	PerMinuteLimit int    `toml:"per_minute_limit" validate:"min=1"`
	Timezone       string `toml:"timezone"` // IANA zone of the provider's quota day (default: "UTC")
	// Also charge jobs whose analysis call reached the provider but failed
	ChargeFailedAttempts bool `toml:"charge_failed_attempts"`
}

type DiscoveryConfig struct {
	Schedule    string `toml:"schedule"`                              // cron expression (default: "@every 1m")
	MaxPerCycle int    `toml:"max_per_cycle" validate:"min=1,max=50"` // Max new filings enqueued per identifier per cycle
	RunOnStart  bool   `toml:"run_on_start"`
}

type DrainConfig struct {
	Schedule   string `toml:"schedule"` // cron expression (default: "@every 80s")
	MaxRetries int    `toml:"max_retries" validate:"min=1"`
}

// EdgarConfig configures the SEC EDGAR client
type EdgarConfig struct {
	UserAgent       string  `toml:"user_agent"` // SEC requires "Company contact@example.com"
	SubmissionsURL  string  `toml:"submissions_url" validate:"url"`
	FactsURL        string  `toml:"facts_url" validate:"url"`
	ArchivesURL     string  `toml:"archives_url" validate:"url"`
	TickersURL      string  `toml:"tickers_url" validate:"url"`
	RateLimit       float64 `toml:"rate_limit" validate:"gt=0"` // requests per second
	Timeout         string  `toml:"timeout"`                    // duration string (default: "30s")
	RefreshSchedule string  `toml:"refresh_schedule"`           // ticker directory refresh (default: "@every 24h")
	MaxTextChars    int     `toml:"max_text_chars" validate:"min=1000"`
}

type AnalysisConfig struct {
	Language string `toml:"language" validate:"required"` // Output language of the analysis (default: "Korean")
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`    // default: "gemini-2.5-flash"
	Timeout     string  `toml:"timeout"`  // duration string (default: "5m")
	BaseURL     string  `toml:"base_url"` // optional endpoint override (proxies, tests)
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	BaseURL     string  `toml:"base_url"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig selects the analysis provider
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider" validate:"oneof=gemini claude"`
}

// TelegramConfig configures the delivery channel and the subscription bot
type TelegramConfig struct {
	BotToken         string `toml:"bot_token"`
	MaxMessageLength int    `toml:"max_message_length" validate:"min=200,max=4096"`
	CommandsEnabled  bool   `toml:"commands_enabled"` // Poll for /sub, /unsub, /list commands
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Enabled: true,
			Port:    8090,
			Host:    "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Quota: QuotaConfig{
			DailyLimit:     50, // Gemini free tier daily request cap
			PerMinuteLimit: 2,
			Timezone:       "UTC",
		},
		Discovery: DiscoveryConfig{
			Schedule:    "@every 1m",
			MaxPerCycle: 3,
		},
		Drain: DrainConfig{
			Schedule:   "@every 80s", // > 60s so the per-minute cap holds even when a cycle runs long
			MaxRetries: 3,
		},
		Edgar: EdgarConfig{
			SubmissionsURL:  "https://data.sec.gov/submissions",
			FactsURL:        "https://data.sec.gov/api/xbrl/companyfacts",
			ArchivesURL:     "https://www.sec.gov/Archives/edgar/data",
			TickersURL:      "https://www.sec.gov/files/company_tickers.json",
			RateLimit:       8, // SEC fair access allows 10 req/s
			Timeout:         "30s",
			RefreshSchedule: "@every 24h",
			MaxTextChars:    60000,
		},
		Analysis: AnalysisConfig{
			Language: "Korean",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Timeout:     "5m",
			Temperature: 0.4,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   4096,
			Timeout:     "5m",
			Temperature: 0.4,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
		Telegram: TelegramConfig{
			MaxMessageLength: 4096,
			CommandsEnabled:  true,
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv(EnvPrefix + "ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv(EnvPrefix + "SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv(EnvPrefix + "SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if enabled := os.Getenv(EnvPrefix + "SERVER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Server.Enabled = e
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv(EnvPrefix + "BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv(EnvPrefix + "LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv(EnvPrefix + "LOG_OUTPUT"); output != "" {
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

	// Quota configuration
	if daily := os.Getenv(EnvPrefix + "QUOTA_DAILY_LIMIT"); daily != "" {
		if d, err := strconv.Atoi(daily); err == nil {
			config.Quota.DailyLimit = d
		}
	}
	if perMinute := os.Getenv(EnvPrefix + "QUOTA_PER_MINUTE_LIMIT"); perMinute != "" {
		if pm, err := strconv.Atoi(perMinute); err == nil {
			config.Quota.PerMinuteLimit = pm
		}
	}
	if tz := os.Getenv(EnvPrefix + "QUOTA_TIMEZONE"); tz != "" {
		config.Quota.Timezone = tz
	}

	// Scheduling
	if schedule := os.Getenv(EnvPrefix + "DISCOVERY_SCHEDULE"); schedule != "" {
		config.Discovery.Schedule = schedule
	}
	if maxPerCycle := os.Getenv(EnvPrefix + "DISCOVERY_MAX_PER_CYCLE"); maxPerCycle != "" {
		if m, err := strconv.Atoi(maxPerCycle); err == nil {
			config.Discovery.MaxPerCycle = m
		}
	}
	if schedule := os.Getenv(EnvPrefix + "DRAIN_SCHEDULE"); schedule != "" {
		config.Drain.Schedule = schedule
	}
	if maxRetries := os.Getenv(EnvPrefix + "DRAIN_MAX_RETRIES"); maxRetries != "" {
		if m, err := strconv.Atoi(maxRetries); err == nil {
			config.Drain.MaxRetries = m
		}
	}

	// EDGAR configuration (SEC_USER_AGENT kept for parity with existing deployments)
	if ua := os.Getenv(EnvPrefix + "EDGAR_USER_AGENT"); ua != "" {
		config.Edgar.UserAgent = ua
	} else if ua := os.Getenv("SEC_USER_AGENT"); ua != "" {
		config.Edgar.UserAgent = ua
	}

	// LLM configuration
	if provider := os.Getenv(EnvPrefix + "LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
	}
	if apiKey := ResolveSecret(config.Gemini.APIKey, EnvPrefix+"GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv(EnvPrefix + "GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if apiKey := ResolveSecret(config.Claude.APIKey, EnvPrefix+"CLAUDE_API_KEY", "ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if model := os.Getenv(EnvPrefix + "CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	// Telegram configuration
	if token := ResolveSecret(config.Telegram.BotToken, EnvPrefix+"TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"); token != "" {
		config.Telegram.BotToken = token
	}
	if commands := os.Getenv(EnvPrefix + "TELEGRAM_COMMANDS_ENABLED"); commands != "" {
		if c, err := strconv.ParseBool(commands); err == nil {
			config.Telegram.CommandsEnabled = c
		}
	}
}

// ResolveSecret returns the first non-empty environment variable among envNames, falling back
// to the configured value. Environment always wins over files.
func ResolveSecret(configValue string, envNames ...string) string {
	for _, name := range envNames {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return configValue
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string, logLevel string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}

var configValidator = validator.New()

// Validate checks struct constraints, schedules and the quota timezone
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, schedule := range map[string]string{
		"discovery.schedule":     c.Discovery.Schedule,
		"drain.schedule":         c.Drain.Schedule,
		"edgar.refresh_schedule": c.Edgar.RefreshSchedule,
	} {
		if err := ValidateSchedule(schedule); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if _, err := c.QuotaLocation(); err != nil {
		return err
	}
	return nil
}

// QuotaLocation resolves the quota timezone
func (c *Config) QuotaLocation() (*time.Location, error) {
	name := c.Quota.Timezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid quota.timezone %q: %w", name, err)
	}
	return loc, nil
}

// ValidateSchedule validates a cron spec, including descriptors such as "@every 80s"
func ValidateSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return fmt.Errorf("schedule is empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// ParseDuration parses a duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
