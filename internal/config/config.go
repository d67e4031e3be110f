package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the main dialer configuration
type Config struct {
	ARI      ARIConfig      `yaml:"ari"`
	Database DatabaseConfig `yaml:"database"`
	Dialer   DialerConfig   `yaml:"dialer"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

type ARIConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	Application       string `yaml:"application"`
	TLS               bool   `yaml:"tls"`
	ReconnectInterval int    `yaml:"reconnect_interval"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// DialerConfig holds the call-control engine tunables.
type DialerConfig struct {
	CampaignPollSeconds   int    `yaml:"campaign_poll_seconds"`
	ProcessIntervalMs     int    `yaml:"process_interval_ms"`
	AgentDialTimeout      int    `yaml:"agent_dial_timeout"`
	QueueContext          string `yaml:"queue_context"`
	SoundsPrefix          string `yaml:"sounds_prefix"`
	RecordingMaxDuration  int    `yaml:"recording_max_duration"`
	MaxIVRHops            int    `yaml:"max_ivr_hops"`
	StaleGraceSeconds     int    `yaml:"stale_grace_seconds"`
	ReaperIntervalSeconds int    `yaml:"reaper_interval_seconds"`
	RecoverOrphansOnStart bool   `yaml:"recover_orphans_on_start"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads the YAML config at path. A .env file in the working directory
// is loaded first so that its variables can override file values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes, applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overrideWithEnv uses the variable names of the existing dialer .env files
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("ARI_HOST"); v != "" {
		cfg.ARI.Host = v
	}
	if v := envInt("ARI_PORT"); v > 0 {
		cfg.ARI.Port = v
	}
	if v := os.Getenv("ARI_USERNAME"); v != "" {
		cfg.ARI.Username = v
	}
	if v := os.Getenv("ARI_PASSWORD"); v != "" {
		cfg.ARI.Password = v
	}
	if v := os.Getenv("ARI_APP_NAME"); v != "" {
		cfg.ARI.Application = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := envInt("CAMPAIGN_PROCESS_INTERVAL"); v > 0 {
		cfg.Dialer.ProcessIntervalMs = v
	}
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func applyDefaults(cfg *Config) {
	if cfg.ARI.Port == 0 {
		cfg.ARI.Port = 8088
	}
	if cfg.ARI.Application == "" {
		cfg.ARI.Application = "dialer"
	}
	if cfg.ARI.ReconnectInterval == 0 {
		cfg.ARI.ReconnectInterval = 5
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 3306
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}

	d := &cfg.Dialer
	if d.CampaignPollSeconds == 0 {
		d.CampaignPollSeconds = 10
	}
	if d.ProcessIntervalMs == 0 {
		d.ProcessIntervalMs = 100
	}
	if d.AgentDialTimeout == 0 {
		d.AgentDialTimeout = 30
	}
	if d.QueueContext == "" {
		d.QueueContext = "from-internal"
	}
	if d.SoundsPrefix == "" {
		d.SoundsPrefix = "sound:dialer/"
	}
	if d.RecordingMaxDuration == 0 {
		d.RecordingMaxDuration = 3600
	}
	if d.MaxIVRHops == 0 {
		d.MaxIVRHops = 8
	}
	if d.StaleGraceSeconds == 0 {
		d.StaleGraceSeconds = 30
	}
	if d.ReaperIntervalSeconds == 0 {
		d.ReaperIntervalSeconds = 15
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9090
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	if c.ARI.Host == "" {
		return errors.New("ari.host is required")
	}
	if c.ARI.Username == "" {
		return errors.New("ari.username is required")
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		return errors.New("database.host and database.database are required")
	}
	if c.Dialer.MaxIVRHops < 1 {
		return fmt.Errorf("dialer.max_ivr_hops must be positive, got %d", c.Dialer.MaxIVRHops)
	}
	return nil
}

// URL returns the ARI REST base URL
func (a ARIConfig) URL() string {
	scheme := "http"
	if a.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/ari", scheme, a.Host, a.Port)
}

// WebsocketURL returns the ARI event stream URL
func (a ARIConfig) WebsocketURL() string {
	scheme := "ws"
	if a.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/ari/events", scheme, a.Host, a.Port)
}

// DSN returns the MySQL Data Source Name
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&multiStatements=true",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

// Address returns the monitor HTTP listen address
func (h HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

func (d DialerConfig) CampaignPollInterval() time.Duration {
	return time.Duration(d.CampaignPollSeconds) * time.Second
}

func (d DialerConfig) ProcessInterval() time.Duration {
	return time.Duration(d.ProcessIntervalMs) * time.Millisecond
}

func (d DialerConfig) ReaperInterval() time.Duration {
	return time.Duration(d.ReaperIntervalSeconds) * time.Second
}
