package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override,
// e.g. TASKREMINDER_MAIL_SMTP_HOST.
const EnvPrefix = "TASKREMINDER"

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SMTPConfig holds the outgoing mail transport settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// From is the sender address, e.g. "Task Reminders <noreply@example.com>".
	From string `mapstructure:"from" yaml:"from"`

	// TLS selects implicit TLS (port 465). When false the transport
	// upgrades with STARTTLS if the server offers it.
	TLS bool `mapstructure:"tls" yaml:"tls"`
}

// IMAPConfig optionally points at the mailbox where sent reminders are
// archived. Archiving is off when Host or SentMailbox is empty.
type IMAPConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        string `mapstructure:"port" yaml:"port"`
	TLS         bool   `mapstructure:"tls" yaml:"tls"`
	SentMailbox string `mapstructure:"sent_mailbox" yaml:"sent_mailbox"`
}

// MailConfig groups the email dispatcher settings.
type MailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
	IMAP IMAPConfig `mapstructure:"imap" yaml:"imap"`

	// Timezone is the IANA zone used to display due times in emails.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// PushConfig holds the Web Push (VAPID) settings.
type PushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key" yaml:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key" yaml:"vapid_private_key"`

	// Subject is the contact put in the VAPID token (mailto: or https: URL).
	Subject string `mapstructure:"subject" yaml:"subject"`

	TTLSec int    `mapstructure:"ttl_sec" yaml:"ttl_sec"`
	Icon   string `mapstructure:"icon" yaml:"icon"`
	URL    string `mapstructure:"url" yaml:"url"`

	// PruneExpired deletes subscriptions whose endpoint answers 404/410.
	PruneExpired bool `mapstructure:"prune_expired" yaml:"prune_expired"`
}

// SchedulerConfig controls the polling jobs.
type SchedulerConfig struct {
	Enabled             bool `mapstructure:"enabled" yaml:"enabled"`
	DueNowIntervalSec   int  `mapstructure:"due_now_interval_sec" yaml:"due_now_interval_sec"`
	UpcomingIntervalSec int  `mapstructure:"upcoming_interval_sec" yaml:"upcoming_interval_sec"`
	UpcomingHorizonMin  int  `mapstructure:"upcoming_horizon_min" yaml:"upcoming_horizon_min"`
	SendTimeoutSec      int  `mapstructure:"send_timeout_sec" yaml:"send_timeout_sec"`
	RunTimeoutSec       int  `mapstructure:"run_timeout_sec" yaml:"run_timeout_sec"`
	Concurrency         int  `mapstructure:"concurrency" yaml:"concurrency"`
	RunAtStart          bool `mapstructure:"run_at_start" yaml:"run_at_start"`
}

// DueNowInterval returns the due-now job cadence.
func (c SchedulerConfig) DueNowInterval() time.Duration {
	return time.Duration(c.DueNowIntervalSec) * time.Second
}

// UpcomingInterval returns the upcoming-reminder job cadence.
func (c SchedulerConfig) UpcomingInterval() time.Duration {
	return time.Duration(c.UpcomingIntervalSec) * time.Second
}

// UpcomingHorizon returns how far ahead the reminder job looks.
func (c SchedulerConfig) UpcomingHorizon() time.Duration {
	return time.Duration(c.UpcomingHorizonMin) * time.Minute
}

// SendTimeout bounds a single email or push send.
func (c SchedulerConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

// RunTimeout bounds one run of a job with the given interval. Zero
// run_timeout_sec bounds each run by its own interval.
func (c SchedulerConfig) RunTimeout(interval time.Duration) time.Duration {
	if c.RunTimeoutSec > 0 {
		return time.Duration(c.RunTimeoutSec) * time.Second
	}
	return interval
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Mail      MailConfig      `mapstructure:"mail" yaml:"mail"`
	Push      PushConfig      `mapstructure:"push" yaml:"push"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// MailEnabled reports whether enough SMTP settings are present to send.
func (c *AppConfig) MailEnabled() bool {
	return c.Mail.SMTP.Host != "" && c.Mail.SMTP.From != ""
}

// PushEnabled reports whether a VAPID keypair is configured.
func (c *AppConfig) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}

// Validate rejects settings the scheduler cannot run with.
func (c *AppConfig) Validate() error {
	s := c.Scheduler
	var errs []error
	if s.DueNowIntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.due_now_interval_sec must be positive, got %d", s.DueNowIntervalSec))
	}
	if s.UpcomingIntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.upcoming_interval_sec must be positive, got %d", s.UpcomingIntervalSec))
	}
	if s.UpcomingHorizonMin <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.upcoming_horizon_min must be positive, got %d", s.UpcomingHorizonMin))
	}
	if s.SendTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.send_timeout_sec must be positive, got %d", s.SendTimeoutSec))
	}
	if s.RunTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("scheduler.run_timeout_sec must not be negative, got %d", s.RunTimeoutSec))
	}
	if s.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.concurrency must be positive, got %d", s.Concurrency))
	}
	if _, err := time.LoadLocation(c.Mail.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("mail.timezone: %w", err))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path must not be empty"))
	}
	return errors.Join(errs...)
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/taskreminder/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "taskreminder", "config.yaml")
}

// defaultDatabasePath places the database next to the default config.
func defaultDatabasePath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "tasks.db")
}

// defaults lists every key with its default value. Listing empty strings
// too lets AutomaticEnv resolve them during Unmarshal.
var defaults = map[string]any{
	"database.path": "",

	"mail.smtp.host":         "",
	"mail.smtp.port":         "587",
	"mail.smtp.username":     "",
	"mail.smtp.password":     "",
	"mail.smtp.from":         "",
	"mail.smtp.tls":          false,
	"mail.imap.host":         "",
	"mail.imap.port":         "993",
	"mail.imap.tls":          true,
	"mail.imap.sent_mailbox": "",
	"mail.timezone":          "UTC",

	"push.vapid_public_key":  "",
	"push.vapid_private_key": "",
	"push.subject":           "mailto:admin@localhost",
	"push.ttl_sec":           60,
	"push.icon":              "/icons/icon-192x192.png",
	"push.url":               "/tasks",
	"push.prune_expired":     false,

	"scheduler.enabled":               true,
	"scheduler.due_now_interval_sec":  60,
	"scheduler.upcoming_interval_sec": 300,
	"scheduler.upcoming_horizon_min":  30,
	"scheduler.send_timeout_sec":      10,
	"scheduler.run_timeout_sec":       0,
	"scheduler.concurrency":           4,
	"scheduler.run_at_start":          true,

	"server.enabled": true,
	"server.addr":    ":3000",

	"log.level":  "info",
	"log.format": "text",
}

// legacyEnv maps keys to the unprefixed variable names older deployments used.
var legacyEnv = map[string]string{
	"mail.smtp.host":         "EMAIL_HOST",
	"mail.smtp.port":         "EMAIL_PORT",
	"mail.smtp.username":     "EMAIL_USER",
	"mail.smtp.password":     "EMAIL_PASS",
	"mail.smtp.from":         "EMAIL_FROM",
	"push.vapid_public_key":  "PUBLIC_VAPID_KEY",
	"push.vapid_private_key": "PRIVATE_VAPID_KEY",
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// then applies environment overrides. A missing file is not an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("database.path", defaultDatabasePath())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("mail", cfg.Mail)
	v.Set("push", cfg.Push)
	v.Set("scheduler", cfg.Scheduler)
	v.Set("server", cfg.Server)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
