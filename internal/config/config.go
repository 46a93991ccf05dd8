// Package config provides configuration management for hisui using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 7000
	defaultServerTimeout   = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 6
	defaultMaxIdleConns    = 3
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultBackendTimeout    = 15 * time.Second
	defaultBackendTCPAddress = "127.0.0.1:4510"

	defaultMaxAliveTime    = 20 * time.Second
	defaultEncoderType     = "ffmpeg"
	defaultDefaultQuality  = "1080p"
	defaultEPGRefreshCron  = "0 */30 * * * *"
	defaultScanConcurrency = 1
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Encoder  EncoderConfig  `mapstructure:"encoder"`
	Recorded RecordedConfig `mapstructure:"recorded"`
	EPG      EPGConfig      `mapstructure:"epg"`
}

// ServerConfig holds HTTP server configuration. There is no write
// timeout setting: live stream responses stay open indefinitely.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BackendConfig holds recorder-daemon backend configuration.
//
// The EDCB backend speaks a binary length-prefixed RPC over TCP or,
// when running on the same host, over a UNIX domain socket (the
// Windows named pipe equivalent).
type BackendConfig struct {
	// Type selects the backend implementation. Only "edcb" is supported.
	Type string `mapstructure:"type"`

	// TCPAddress is the host:port of the EDCB CtrlCmd TCP endpoint.
	TCPAddress string `mapstructure:"tcp_address"`

	// PipePath is the path of the local duplex socket. When set it is
	// preferred over TCPAddress.
	PipePath string `mapstructure:"pipe_path"`

	// Timeout bounds a single connect-and-roundtrip.
	Timeout time.Duration `mapstructure:"timeout"`
}

// EncoderConfig holds transcoder process configuration.
type EncoderConfig struct {
	// Type selects the encoder binary: ffmpeg, qsvencc, nvencc, vceencc, rkmppenc.
	Type string `mapstructure:"type"`

	// FFmpegPath / FFprobePath / TsreadexPath / HWEncCPath locate the
	// external binaries (empty = resolve from PATH).
	FFmpegPath   string `mapstructure:"ffmpeg_path"`
	FFprobePath  string `mapstructure:"ffprobe_path"`
	TsreadexPath string `mapstructure:"tsreadex_path"`
	HWEncCPath   string `mapstructure:"hwencc_path"`

	// MaxAliveTime is how long an idling live stream keeps its encoder
	// (and tuner) before shutting down.
	MaxAliveTime time.Duration `mapstructure:"max_alive_time"`

	// DefaultQuality is the quality profile used when a client does not
	// request one.
	DefaultQuality string `mapstructure:"default_quality"`
}

// RecordedConfig holds recorded-file scanning configuration.
type RecordedConfig struct {
	// Roots are the directories scanned for recorded TS files.
	Roots []string `mapstructure:"roots"`

	// Watch enables the filesystem watcher in addition to batch scans.
	Watch bool `mapstructure:"watch"`

	// ScanConcurrencyPerDevice caps concurrent heavy-I/O metadata jobs
	// per physical disk.
	ScanConcurrencyPerDevice int `mapstructure:"scan_concurrency_per_device"`
}

// EPGConfig holds EPG refresh configuration.
type EPGConfig struct {
	// RefreshCron is a 6-field cron expression for periodic EPG refresh.
	RefreshCron string `mapstructure:"refresh_cron"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HISUI_ and use underscores for
// nesting. Example: HISUI_SERVER_PORT=7000.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hisui")
		v.AddConfigPath("$HOME/.hisui")
	}

	v.SetEnvPrefix("HISUI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "hisui.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("backend.type", "edcb")
	v.SetDefault("backend.tcp_address", defaultBackendTCPAddress)
	v.SetDefault("backend.pipe_path", "")
	v.SetDefault("backend.timeout", defaultBackendTimeout)

	v.SetDefault("encoder.type", defaultEncoderType)
	v.SetDefault("encoder.ffmpeg_path", "")
	v.SetDefault("encoder.ffprobe_path", "")
	v.SetDefault("encoder.tsreadex_path", "")
	v.SetDefault("encoder.hwencc_path", "")
	v.SetDefault("encoder.max_alive_time", defaultMaxAliveTime)
	v.SetDefault("encoder.default_quality", defaultDefaultQuality)

	v.SetDefault("recorded.roots", []string{})
	v.SetDefault("recorded.watch", true)
	v.SetDefault("recorded.scan_concurrency_per_device", defaultScanConcurrency)

	v.SetDefault("epg.refresh_cron", defaultEPGRefreshCron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Backend.Type != "edcb" {
		return fmt.Errorf("backend.type must be edcb")
	}
	if c.Backend.TCPAddress == "" && c.Backend.PipePath == "" {
		return fmt.Errorf("backend.tcp_address or backend.pipe_path is required for the edcb backend")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}

	validEncoders := map[string]bool{
		"ffmpeg": true, "qsvencc": true, "nvencc": true, "vceencc": true, "rkmppenc": true,
	}
	if !validEncoders[c.Encoder.Type] {
		return fmt.Errorf("encoder.type must be one of: ffmpeg, qsvencc, nvencc, vceencc, rkmppenc")
	}

	if c.Recorded.ScanConcurrencyPerDevice < 1 {
		return fmt.Errorf("recorded.scan_concurrency_per_device must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
