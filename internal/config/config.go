package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription source holding the shared
// calendar's entries.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// BookingSignature describes how calendar entries mirrored from app bookings
// are recognized by title.
type BookingSignature struct {
	Prefix       string `yaml:"prefix" json:"prefix"`
	Emoji        string `yaml:"emoji" json:"emoji"`
	PricePattern string `yaml:"price_pattern" json:"price_pattern"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the admin API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone every instant is normalized into before it
	// becomes a calendar date (e.g. "Europe/Paris").
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// DatabaseURL is a pgx connection string. Empty selects the in-memory stores.
	DatabaseURL string `yaml:"database_url" json:"database_url"`

	// RabbitURL enables the booking lifecycle consumer and the mail hand-off.
	RabbitURL       string `yaml:"rabbit_url" json:"rabbit_url"`
	BookingExchange string `yaml:"booking_exchange" json:"booking_exchange"`
	BookingQueue    string `yaml:"booking_queue" json:"booking_queue"`
	MailExchange    string `yaml:"mail_exchange" json:"mail_exchange"`

	// PaddingDays widens every source query beyond the requested window so
	// turnover neighbours just outside it are seen.
	PaddingDays int `yaml:"padding_days" json:"padding_days"`

	// MaxIterationDays caps day-by-day iteration per interval.
	MaxIterationDays int `yaml:"max_iteration_days" json:"max_iteration_days"`

	// LookbackDays / HorizonDays define the detection window around today.
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`

	// DetectTimeout bounds one full detection pass.
	DetectTimeout time.Duration `yaml:"detect_timeout" json:"detect_timeout"`

	// MaintenanceCron schedules the periodic notification pass.
	MaintenanceCron string `yaml:"maintenance_cron" json:"maintenance_cron"`

	// InfoColorTag marks informational calendar entries that never block days.
	InfoColorTag string `yaml:"info_color_tag" json:"info_color_tag"`

	BookingSignature BookingSignature `yaml:"booking_signature" json:"booking_signature"`

	// AdminRecipients receive one mail per new HIGH conflict.
	AdminRecipients []string `yaml:"admin_recipients" json:"admin_recipients"`

	// ICS is the list of subscribed calendar feeds.
	ICS         []ICSConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string      `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// envOverrides are read from CALRECON_* variables and win over the file.
type envOverrides struct {
	Listen      string `envconfig:"LISTEN"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	RabbitURL   string `envconfig:"RABBIT_URL"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	Timezone    string `envconfig:"TIMEZONE"`
}

const (
	defaultListen          = "127.0.0.1:8080"
	defaultTimezone        = "Europe/Paris"
	defaultPricePattern    = `\d+\s*€\s*/\s*\d+\s*€`
	defaultMaintenanceCron = "*/30 * * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           defaultListen,
		Timezone:         defaultTimezone,
		LogLevel:         "info",
		BookingExchange:  "booking.exchange",
		BookingQueue:     "calrecon.booking.q",
		MailExchange:     "mail.exchange",
		PaddingDays:      1,
		MaxIterationDays: 1000,
		LookbackDays:     1,
		HorizonDays:      365,
		DetectTimeout:    30 * time.Second,
		MaintenanceCron:  defaultMaintenanceCron,
		InfoColorTag:     "8",
		BookingSignature: BookingSignature{
			Prefix:       "Booking:",
			Emoji:        "🏠",
			PricePattern: defaultPricePattern,
		},
		AdminRecipients: []string{},
		ICS:             []ICSConfig{},
		ICSCacheDir:     "./var/ics-cache",
		BasicAuth:       nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.BookingExchange == "" {
		c.BookingExchange = def.BookingExchange
	}
	if c.BookingQueue == "" {
		c.BookingQueue = def.BookingQueue
	}
	if c.MailExchange == "" {
		c.MailExchange = def.MailExchange
	}
	if c.PaddingDays <= 0 {
		c.PaddingDays = def.PaddingDays
	}
	if c.MaxIterationDays <= 0 {
		c.MaxIterationDays = def.MaxIterationDays
	}
	if c.LookbackDays < 0 {
		c.LookbackDays = 0
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = def.DetectTimeout
	}
	if c.MaintenanceCron == "" {
		c.MaintenanceCron = def.MaintenanceCron
	}
	if c.BookingSignature.PricePattern == "" {
		c.BookingSignature.PricePattern = defaultPricePattern
	}
	if c.AdminRecipients == nil {
		c.AdminRecipients = []string{}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = def.ICSCacheDir
	}
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			return fmt.Errorf("config: ics[%d] missing url", i)
		}
	}
	return nil
}

// Location resolves Timezone. Validate has already rejected unknown zones, so
// the UTC fallback only covers configs that skipped validation.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplyEnv overlays CALRECON_* environment variables.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process("CALRECON", &env); err != nil {
		return fmt.Errorf("config: read environment: %w", err)
	}
	if env.Listen != "" {
		c.Listen = env.Listen
	}
	if env.DatabaseURL != "" {
		c.DatabaseURL = env.DatabaseURL
	}
	if env.RabbitURL != "" {
		c.RabbitURL = env.RabbitURL
	}
	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}
	if env.Timezone != "" {
		c.Timezone = env.Timezone
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
//   - In both cases CALRECON_* environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Even if save fails, return cfg with error so caller can decide.
			return cfg, err
		}
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calrecon-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
