package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Paths     PathsConfig     `yaml:"paths"`
	Retention RetentionConfig `yaml:"retention"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the status server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TelegramConfig holds the chat layer configuration
type TelegramConfig struct {
	Token    string  `yaml:"token"`
	AdminIDs []int64 `yaml:"admin_ids"`
	Debug    bool    `yaml:"debug"`
	// UpdateTimeout is the long-poll timeout in seconds.
	UpdateTimeout int `yaml:"update_timeout"`
}

// IsAdmin reports whether id is in the admin allowlist.
func (c TelegramConfig) IsAdmin(id int64) bool {
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

// SMTPConfig holds outbound mail server settings
type SMTPConfig struct {
	Server         string `yaml:"server"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	FromName       string `yaml:"from_name"`
	Ports          []int  `yaml:"ports"` // empty = derived from the server host
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-attempt dial/IO timeout
func (c SMTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DeliveryConfig holds retry, fan-out and recipient settings
type DeliveryConfig struct {
	MaxRetries        int             `yaml:"max_retries"`
	Concurrency       int             `yaml:"concurrency"`
	RatePerSecond     float64         `yaml:"rate_per_second"` // 0 = unlimited
	PersonalEmail     string          `yaml:"personal_email"`
	DefaultRecipients []string        `yaml:"default_recipients"`
	Templates         TemplatesConfig `yaml:"templates"`
}

// TemplatesConfig overrides the built-in mail templates. Empty fields keep
// the defaults.
type TemplatesConfig struct {
	GroupSubject  string `yaml:"group_subject"`
	GroupBody     string `yaml:"group_body"`
	BundleSubject string `yaml:"bundle_subject"`
	BundleBody    string `yaml:"bundle_body"`
}

// PathsConfig holds the flat-file layout. Empty sub-directories are derived
// from DataDir.
type PathsConfig struct {
	DataDir   string `yaml:"data_dir"`
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
	GroupsDir string `yaml:"groups_dir"`
	LogsDir   string `yaml:"logs_dir"`
}

// CatalogPath returns the location of groups.json.
func (c PathsConfig) CatalogPath() string {
	return filepath.Join(c.GroupsDir, "groups.json")
}

// Ensure creates every configured directory.
func (c PathsConfig) Ensure() error {
	for _, dir := range []string{c.DataDir, c.InputDir, c.OutputDir, c.GroupsDir, c.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// RetentionConfig holds the cleanup sweeper settings
type RetentionConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
	InputHours      int  `yaml:"input_hours"`
	OutputDays      int  `yaml:"output_days"`
	LogDays         int  `yaml:"log_days"`
	BackupDays      int  `yaml:"backup_days"`
}

// Interval returns the sweep interval as a duration
func (c RetentionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ArchiveConfig holds the optional S3 bundle archive settings
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Region  string `yaml:"s3_region"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"` // empty = default credential chain
	SecretKey string `yaml:"secret_key"`
}

// RedisConfig holds the optional Redis connection used for locking
type RedisConfig struct {
	URL string `yaml:"url"` // empty = in-process locks
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads and parses the configuration file and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 10000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Telegram.UpdateTimeout == 0 {
		cfg.Telegram.UpdateTimeout = 60
	}
	if cfg.SMTP.Server == "" {
		cfg.SMTP.Server = "smtp.gmail.com"
	}
	if cfg.SMTP.TimeoutSeconds == 0 {
		cfg.SMTP.TimeoutSeconds = 30
	}
	if cfg.SMTP.FromName == "" {
		cfg.SMTP.FromName = "Excel Bot"
	}
	if cfg.Delivery.MaxRetries == 0 {
		cfg.Delivery.MaxRetries = 2
	}
	if cfg.Delivery.Concurrency == 0 {
		cfg.Delivery.Concurrency = 8
	}
	if len(cfg.Delivery.DefaultRecipients) == 0 {
		cfg.Delivery.DefaultRecipients = []string{"admin@example.com"}
	}
	cfg.Paths.derive()
	if cfg.Retention.IntervalMinutes == 0 {
		cfg.Retention.IntervalMinutes = 60
	}
	if cfg.Retention.InputHours == 0 {
		cfg.Retention.InputHours = 24
	}
	if cfg.Retention.OutputDays == 0 {
		cfg.Retention.OutputDays = 7
	}
	if cfg.Retention.LogDays == 0 {
		cfg.Retention.LogDays = 30
	}
	if cfg.Retention.BackupDays == 0 {
		cfg.Retention.BackupDays = 30
	}
	if cfg.Archive.S3Region == "" {
		cfg.Archive.S3Region = "eu-central-1"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "bundles/"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func (c *PathsConfig) derive() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.InputDir == "" {
		c.InputDir = filepath.Join(c.DataDir, "input")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.DataDir, "output")
	}
	if c.GroupsDir == "" {
		c.GroupsDir = filepath.Join(c.DataDir, "groups")
	}
	if c.LogsDir == "" {
		c.LogsDir = filepath.Join(c.DataDir, "logs")
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars.
// A missing YAML file is not an error: env-only deployments start from
// the defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
	} else if err != nil {
		return nil, err
	}

	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ADMIN_CHAT_IDS"); v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_CHAT_IDS: %w", err)
		}
		cfg.Telegram.AdminIDs = ids
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		cfg.SMTP.Server = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_PORTS"); v != "" {
		ports, err := parsePorts(v)
		if err != nil {
			return nil, fmt.Errorf("SMTP_PORTS: %w", err)
		}
		cfg.SMTP.Ports = ports
	}
	if v := os.Getenv("PERSONAL_EMAIL"); v != "" {
		cfg.Delivery.PersonalEmail = v
	}
	if v := os.Getenv("DEFAULT_EMAIL_RECIPIENTS"); v != "" {
		cfg.Delivery.DefaultRecipients = splitList(v)
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		// Sub-directories follow the new root unless set explicitly.
		cfg.Paths = PathsConfig{DataDir: v}
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3Region = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parsePorts(s string) ([]int, error) {
	var ports []int
	for _, part := range splitList(s) {
		p, err := strconv.Atoi(part)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid port %q", part)
		}
		ports = append(ports, p)
	}
	return ports, nil
}
