package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for maxrelay.
type Config struct {
	Max      MaxConfig      `yaml:"max"`
	Telegram TelegramConfig `yaml:"telegram"`
	Relay    RelayConfig    `yaml:"relay"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// LegacyChatIDs holds the old CHAT_IDS=a:b,c:d mapping. It is read only
	// to reject it with a useful message.
	LegacyChatIDs string `yaml:"-" env:"CHAT_IDS"`
}

type MaxConfig struct {
	Phone   string `yaml:"phone" env:"MAX_PHONE_NUMBER"`
	WorkDir string `yaml:"workDir" env:"MAX_WORK_DIR"`
	URL     string `yaml:"url" env:"MAX_WS_URL"`
}

type TelegramConfig struct {
	Token        string `yaml:"token" env:"TG_BOT_TOKEN"`
	TargetUserID int64  `yaml:"targetUserId" env:"TG_TARGET_USER_ID"`
	APIEndpoint  string `yaml:"apiEndpoint,omitempty" env:"TG_API_ENDPOINT"`

	// SendsPerMinute paces deliveries to the recipient; 0 disables pacing.
	SendsPerMinute float64 `yaml:"sendsPerMinute" env:"TG_SENDS_PER_MINUTE"`
	SendBurst      int     `yaml:"sendBurst" env:"TG_SEND_BURST"`
}

type RelayConfig struct {
	Workers            int           `yaml:"workers" env:"RELAY_WORKERS"`
	QueueSize          int           `yaml:"queueSize" env:"RELAY_QUEUE_SIZE"`
	FetchTimeout       time.Duration `yaml:"fetchTimeout" env:"RELAY_FETCH_TIMEOUT"`
	MaxAttachmentBytes int64         `yaml:"maxAttachmentBytes" env:"RELAY_MAX_ATTACHMENT_BYTES"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // text | json
	File   string `yaml:"file,omitempty" env:"LOG_FILE"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Listen  string `yaml:"listen" env:"METRICS_LISTEN"`
}

// Error is returned when the configuration cannot be used. The process must
// not start with it.
type Error struct {
	Problems []string
	Err      error
}

func (e *Error) Error() string {
	if len(e.Problems) == 0 && e.Err != nil {
		return "config: " + e.Err.Error()
	}
	return "config: " + strings.Join(e.Problems, "; ")
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultConfigDir returns the default config directory (~/.maxrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maxrelay"
	}
	return filepath.Join(home, ".maxrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment, in that order, and validates the result. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation. config show uses it so that a broken
// config can still be inspected.
func Read(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = expandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Err: fmt.Errorf("cannot read config file %s: %w", path, err)}
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &Error{Err: fmt.Errorf("cannot parse config file %s: %w", path, err)}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, &Error{Err: fmt.Errorf("environment: %w", err)}
	}

	cfg.Max.WorkDir = expandPath(cfg.Max.WorkDir)
	cfg.Log.File = expandPath(cfg.Log.File)
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as YAML, creating the directory. Secrets are written as
// given; the file is created 0600.
func Save(path string, cfg *Config) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values. All problems are
// reported together in one *Error.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Max.Phone) == "" {
		errs = append(errs, "max.phone (MAX_PHONE_NUMBER) is required")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, "telegram.token (TG_BOT_TOKEN) is required")
	}
	if cfg.Telegram.TargetUserID == 0 {
		if cfg.LegacyChatIDs != "" {
			errs = append(errs, "CHAT_IDS mappings are not supported: set telegram.targetUserId (TG_TARGET_USER_ID) to the single recipient")
		} else {
			errs = append(errs, "telegram.targetUserId (TG_TARGET_USER_ID) is required")
		}
	}
	if envVarPattern.MatchString(cfg.Max.Phone) {
		errs = append(errs, "max.phone references an unset environment variable: "+cfg.Max.Phone)
	}
	if envVarPattern.MatchString(cfg.Telegram.Token) {
		errs = append(errs, "telegram.token references an unset environment variable")
	}
	if cfg.Telegram.SendsPerMinute < 0 {
		errs = append(errs, "telegram.sendsPerMinute must be >= 0")
	}
	if cfg.Max.WorkDir == "" {
		errs = append(errs, "max.workDir must not be empty")
	}
	if cfg.Max.URL != "" && !strings.HasPrefix(cfg.Max.URL, "ws://") && !strings.HasPrefix(cfg.Max.URL, "wss://") {
		errs = append(errs, "max.url must be a ws:// or wss:// URL")
	}

	if cfg.Relay.Workers < 1 || cfg.Relay.Workers > 64 {
		errs = append(errs, "relay.workers must be between 1 and 64")
	}
	if cfg.Relay.QueueSize < 1 {
		errs = append(errs, "relay.queueSize must be >= 1")
	}
	if cfg.Relay.FetchTimeout <= 0 {
		errs = append(errs, "relay.fetchTimeout must be positive")
	}
	if cfg.Relay.MaxAttachmentBytes < 1 {
		errs = append(errs, "relay.maxAttachmentBytes must be >= 1")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
		// valid
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return &Error{Problems: errs}
	}
	return nil
}

// IsConfigError reports whether err came from loading or validating config.
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
