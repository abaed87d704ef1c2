package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Logging     LoggingConfig  `toml:"logging"`
	Browser     BrowserConfig  `toml:"browser"`
	Pipeline    PipelineConfig `toml:"pipeline"`
	Queue       QueueConfig    `toml:"queue"`
	Storage     StorageConfig  `toml:"storage"`
	Uploads     UploadsConfig  `toml:"uploads"`
	Telegram    TelegramConfig `toml:"telegram"`
	SMTP        SMTPConfig     `toml:"smtp"`
	Prompts     PromptsConfig  `toml:"prompts"`
}

type ServerConfig struct {
	Port         int      `toml:"port"`
	Host         string   `toml:"host"`
	ReadTimeout  Duration `toml:"read_timeout"`  // Covers the multipart upload body
	WriteTimeout Duration `toml:"write_timeout"`
	CORSOrigins  []string `toml:"cors_origins"` // "*" allows any origin
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// BrowserConfig controls the shared chromedp browser session
type BrowserConfig struct {
	Headless      bool     `toml:"headless"`
	EntryURL      string   `toml:"entry_url"`      // Page each job starts from
	CookiesPath   string   `toml:"cookies_path"`   // JSON cookie snapshot of a logged-in session
	LaunchTimeout Duration `toml:"launch_timeout"` // Max wait for the browser websocket on launch
	ProbeTimeout  Duration `toml:"probe_timeout"`  // Liveness probe bound
	UserAgent     string   `toml:"user_agent"`     // Empty keeps Chrome's own
	ExecPath      string   `toml:"exec_path"`      // Empty lets chromedp find Chrome
}

// PipelineConfig holds per-stage bounds and settle delays for the automation script.
// Settle delays are empirical; there is no completion signal to wait on instead.
type PipelineConfig struct {
	NavigationTimeout    Duration        `toml:"navigation_timeout"`
	UploadWaitTimeout    Duration        `toml:"upload_wait_timeout"`
	UploadSettle         Duration        `toml:"upload_settle"`
	InputSettle          Duration        `toml:"input_settle"`
	InteractionTimeout   Duration        `toml:"interaction_timeout"` // typing, submit, attribute reads, page scrape
	GenerationTimeout    Duration        `toml:"generation_timeout"`
	PostGenerationSettle Duration        `toml:"post_generation_settle"`
	ResultTimeout        Duration        `toml:"result_timeout"`
	Selectors            SelectorsConfig `toml:"selectors"`
	ImageURLPatterns     []string        `toml:"image_url_patterns"` // Regexps for best-guess image URLs
}

// SelectorsConfig lists the CSS selectors used against the target page
type SelectorsConfig struct {
	FileInput           string `toml:"file_input"`
	PromptInput         string `toml:"prompt_input"`
	GeneratingIndicator string `toml:"generating_indicator"`
	ResultImage         string `toml:"result_image"`
	AssistantMessage    string `toml:"assistant_message"`
}

type QueueConfig struct {
	NotifyTimeout Duration `toml:"notify_timeout"` // Bound on one fan-out round
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
	GCSchedule     string `toml:"gc_schedule"` // Value log GC, cron format with seconds; empty disables
}

// UploadsConfig controls where uploads land and how orphans are swept
type UploadsConfig struct {
	Dir           string   `toml:"dir"`
	MaxSizeMB     int      `toml:"max_size_mb"`
	SweepSchedule string   `toml:"sweep_schedule"` // Cron format with seconds; empty disables
	MaxAge        Duration `toml:"max_age"`
}

type TelegramConfig struct {
	BotToken  string   `toml:"bot_token"`
	ChatID    int64    `toml:"chat_id"`
	RateLimit Duration `toml:"rate_limit"` // Minimum spacing between sends
	Proxy     string   `toml:"proxy"`
}

type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	Secure   bool   `toml:"secure"` // Implicit TLS (465); false uses STARTTLS when offered
}

// PromptsConfig holds preset prompt texts
type PromptsConfig struct {
	Ghibli    string `toml:"ghibli"`
	CatHuman  string `toml:"cat_human"`
	Irasutoya string `toml:"irasutoya"`
}

// Duration is a time.Duration written as a Go duration string in TOML ("90s")
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns the value as a time.Duration
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:         3000,
			Host:         "0.0.0.0",
			ReadTimeout:  Duration(60 * time.Second),
			WriteTimeout: Duration(15 * time.Second),
			CORSOrigins:  []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Browser: BrowserConfig{
			Headless:      true,
			EntryURL:      "https://chatgpt.com/?model=gpt-4o",
			CookiesPath:   "./cookies.json",
			LaunchTimeout: Duration(60 * time.Second),
			ProbeTimeout:  Duration(5 * time.Second),
		},
		Pipeline: PipelineConfig{
			NavigationTimeout:    Duration(90 * time.Second),
			UploadWaitTimeout:    Duration(20 * time.Second),
			UploadSettle:         Duration(15 * time.Second),
			InputSettle:          Duration(5 * time.Second),
			InteractionTimeout:   Duration(30 * time.Second),
			GenerationTimeout:    Duration(240 * time.Second),
			PostGenerationSettle: Duration(5 * time.Second),
			ResultTimeout:        Duration(10 * time.Second),
			Selectors: SelectorsConfig{
				FileInput:           `input[type="file"]`,
				PromptInput:         `textarea`,
				GeneratingIndicator: `button[aria-label*="Stop streaming"]`,
				ResultImage:         `img[alt="Generated image"]`,
				AssistantMessage:    `[data-message-author-role="assistant"]`,
			},
			ImageURLPatterns: []string{`^blob:`, `^https`, `files\.oaiusercontent\.com`},
		},
		Queue: QueueConfig{
			NotifyTimeout: Duration(60 * time.Second),
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:       "./data/db",
				GCSchedule: "0 30 3 * * *", // Daily at 03:30
			},
		},
		Uploads: UploadsConfig{
			Dir:           "./data/uploads",
			MaxSizeMB:     20,
			SweepSchedule: "0 0 * * * *", // Hourly
			MaxAge:        Duration(6 * time.Hour),
		},
		Telegram: TelegramConfig{
			RateLimit: Duration(1 * time.Second),
		},
		SMTP: SMTPConfig{
			Port:     465,
			Secure:   true,
			FromName: "GhibliFlow Studio",
		},
		Prompts: PromptsConfig{
			Ghibli:    "Convert this image into a Studio Ghibli style illustration. Remove the text in the bottom-right corner and keep the original aspect ratio.",
			CatHuman:  "Reimagine the cat in this image as a human. Remove the text in the bottom-right corner and keep the original aspect ratio.",
			Irasutoya: "Redraw this image in the Japanese irasutoya clip-art style. No text in the bottom-right corner, keep the original aspect ratio.",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
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

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) error {
	if env := os.Getenv("GHIBLIFLOW_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("GHIBLIFLOW_SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("GHIBLIFLOW_SERVER_PORT: %w", err)
		}
		config.Server.Port = p
	}
	if host := os.Getenv("GHIBLIFLOW_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if origins := os.Getenv("GHIBLIFLOW_CORS_ORIGINS"); origins != "" {
		config.Server.CORSOrigins = splitList(origins)
	}

	// Logging
	if level := os.Getenv("GHIBLIFLOW_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("GHIBLIFLOW_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitList(output)
	}

	// Browser
	if headless := os.Getenv("GHIBLIFLOW_HEADLESS"); headless != "" {
		config.Browser.Headless = headless != "false"
	}
	if entryURL := os.Getenv("GHIBLIFLOW_ENTRY_URL"); entryURL != "" {
		config.Browser.EntryURL = entryURL
	}
	if cookiesPath := os.Getenv("GHIBLIFLOW_COOKIES_PATH"); cookiesPath != "" {
		config.Browser.CookiesPath = cookiesPath
	}
	if execPath := os.Getenv("GHIBLIFLOW_CHROME_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}

	// Pipeline timeouts accept either a duration string or plain milliseconds
	durations := map[string]*Duration{
		"GHIBLIFLOW_NAVIGATION_TIMEOUT": &config.Pipeline.NavigationTimeout,
		"GHIBLIFLOW_UPLOAD_TIMEOUT":     &config.Pipeline.UploadWaitTimeout,
		"GHIBLIFLOW_UPLOAD_SETTLE":      &config.Pipeline.UploadSettle,
		"GHIBLIFLOW_INPUT_SETTLE":       &config.Pipeline.InputSettle,
		"GHIBLIFLOW_GENERATION_TIMEOUT": &config.Pipeline.GenerationTimeout,
		"GHIBLIFLOW_RESULT_TIMEOUT":     &config.Pipeline.ResultTimeout,
	}
	for name, target := range durations {
		if value := os.Getenv(name); value != "" {
			d, err := parseEnvDuration(value)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*target = Duration(d)
		}
	}

	// Storage / uploads
	if badgerPath := os.Getenv("GHIBLIFLOW_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if uploadsDir := os.Getenv("GHIBLIFLOW_UPLOADS_DIR"); uploadsDir != "" {
		config.Uploads.Dir = uploadsDir
	}

	// Telegram
	if token := os.Getenv("GHIBLIFLOW_TELEGRAM_BOT_TOKEN"); token != "" {
		config.Telegram.BotToken = token
	}
	if chatID := os.Getenv("GHIBLIFLOW_TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return fmt.Errorf("GHIBLIFLOW_TELEGRAM_CHAT_ID: %w", err)
		}
		config.Telegram.ChatID = id
	}
	if proxy := os.Getenv("GHIBLIFLOW_PROXY"); proxy != "" {
		config.Telegram.Proxy = proxy
	}

	// SMTP
	if host := os.Getenv("GHIBLIFLOW_SMTP_HOST"); host != "" {
		config.SMTP.Host = host
	}
	if port := os.Getenv("GHIBLIFLOW_SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("GHIBLIFLOW_SMTP_PORT: %w", err)
		}
		config.SMTP.Port = p
	}
	if secure := os.Getenv("GHIBLIFLOW_SMTP_SECURE"); secure != "" {
		config.SMTP.Secure = secure == "true" || secure == "1"
	}
	if user := os.Getenv("GHIBLIFLOW_SMTP_USER"); user != "" {
		config.SMTP.Username = user
	}
	if pass := os.Getenv("GHIBLIFLOW_SMTP_PASS"); pass != "" {
		config.SMTP.Password = pass
	}
	if from := os.Getenv("GHIBLIFLOW_SMTP_FROM"); from != "" {
		config.SMTP.From = from
	}

	// Prompt presets
	if p := os.Getenv("GHIBLIFLOW_PROMPT_GHIBLI"); p != "" {
		config.Prompts.Ghibli = p
	}
	if p := os.Getenv("GHIBLIFLOW_PROMPT_CAT_HUMAN"); p != "" {
		config.Prompts.CatHuman = p
	}
	if p := os.Getenv("GHIBLIFLOW_PROMPT_IRASUTOYA"); p != "" {
		config.Prompts.Irasutoya = p
	}

	return nil
}

// ApplyFlagOverrides applies command-line flag overrides to config
// Zero values mean "not set" and leave the config untouched
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction reports whether the environment is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// parseEnvDuration accepts "90s" style strings or bare milliseconds ("90000")
func parseEnvDuration(value string) (time.Duration, error) {
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}

func splitList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
