package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "whiteboard"
	envPrefix  = "WHITEBOARD"
)

// Keys
const (
	KeyServerHost        = "server.host"
	KeyServerPort        = "server.port"
	KeyStaticDir         = "server.static_dir"
	KeyDBPath            = "db.path"
	KeySendBuffer        = "session.send_buffer"
	KeyRate              = "session.rate"
	KeyBurst             = "session.burst"
	KeyMaxViolations     = "session.max_violations"
	KeyRetentionInterval = "retention.interval"
	KeyRetentionMaxAge   = "retention.max_age"
	KeyMDNSEnabled       = "mdns.enabled"
	KeyMDNSInstance      = "mdns.instance"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
)

type Config struct {
	Server    ServerConfig
	DBPath    string
	Session   SessionConfig
	Retention RetentionConfig
	MDNS      MDNSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	StaticDir string
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SessionConfig struct {
	SendBuffer    int
	Rate          float64
	Burst         int
	MaxViolations int
}

type RetentionConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
}

type MDNSConfig struct {
	Enabled  bool
	Instance string
}

type LogConfig struct {
	Level  string
	Format string
}

// Registers defaults, the config file search path and environment
// bindings on v. Keys map to WHITEBOARD_<SECTION>_<NAME>; PORT is honored
// for the listen port.
func Setup(v *viper.Viper) {
	v.SetDefault(KeyServerHost, "")
	v.SetDefault(KeyServerPort, 8080)
	v.SetDefault(KeyStaticDir, "")
	v.SetDefault(KeyDBPath, "./data/whiteboard.db")
	v.SetDefault(KeySendBuffer, 512)
	v.SetDefault(KeyRate, 100.0)
	v.SetDefault(KeyBurst, 200)
	v.SetDefault(KeyMaxViolations, 1000)
	v.SetDefault(KeyRetentionInterval, 10*time.Minute)
	v.SetDefault(KeyRetentionMaxAge, 7*24*time.Hour)
	v.SetDefault(KeyMDNSEnabled, false)
	v.SetDefault(KeyMDNSInstance, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	v.SetConfigName(configName)
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", configName))
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyServerPort, envPrefix+"_SERVER_PORT", "PORT")
}

// Reads the config file if there is one and returns the resolved settings.
// A missing file is not an error; an explicit file that cannot be read is.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Host:      v.GetString(KeyServerHost),
			Port:      v.GetInt(KeyServerPort),
			StaticDir: v.GetString(KeyStaticDir),
		},
		DBPath: v.GetString(KeyDBPath),
		Session: SessionConfig{
			SendBuffer:    v.GetInt(KeySendBuffer),
			Rate:          v.GetFloat64(KeyRate),
			Burst:         v.GetInt(KeyBurst),
			MaxViolations: v.GetInt(KeyMaxViolations),
		},
		Retention: RetentionConfig{
			Interval: v.GetDuration(KeyRetentionInterval),
			MaxAge:   v.GetDuration(KeyRetentionMaxAge),
		},
		MDNS: MDNSConfig{
			Enabled:  v.GetBool(KeyMDNSEnabled),
			Instance: v.GetString(KeyMDNSInstance),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid %s %d", KeyServerPort, c.Server.Port)
	}
	if c.Session.SendBuffer <= 0 {
		return fmt.Errorf("%s must be positive", KeySendBuffer)
	}
	if c.Session.Rate <= 0 || c.Session.Burst <= 0 {
		return fmt.Errorf("%s and %s must be positive", KeyRate, KeyBurst)
	}
	if c.Retention.Interval <= 0 {
		return fmt.Errorf("%s must be positive", KeyRetentionInterval)
	}
	if c.Retention.MaxAge <= 0 {
		return fmt.Errorf("%s must be positive", KeyRetentionMaxAge)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown %s %q", KeyLogFormat, c.Log.Format)
	}
	return nil
}

// Builds the process logger described by the log settings
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown %s %q", KeyLogLevel, s)
	}
	return level, nil
}
