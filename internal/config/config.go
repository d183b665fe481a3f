// Package config loads server and client settings from the environment,
// an optional .env file and built-in defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. WHITEBOARD_ADDR.
const EnvPrefix = "WHITEBOARD"

// Config is the resolved configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string

	LogLevel  string
	LogFormat string

	// Store is "memory", "sqlite3", "postgres" or "http".
	StoreDriver string
	StoreDSN    string

	// Transport is "hub", "redis" or "websocket".
	Transport string
	RedisURL  string
	RelayURL  string

	MaxRoomSize       int
	MaxRooms          int
	MaxMessageSize    int
	MaxPayloadDepth   int
	MaxPayloadKeys    int
	MessagesPerSecond float64
	BurstSize         int
	ConnectEvery      time.Duration
	ConnectBurst      int
	CleanupInterval   time.Duration
	SessionIdle       time.Duration

	LibraryDir    string
	LibraryFormat string
}

func defaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("allowed_origins", "http://localhost:3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("store_driver", "sqlite3")
	v.SetDefault("store_dsn", "whiteboards.db")
	v.SetDefault("transport", "websocket")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("relay_url", "ws://localhost:8080")
	v.SetDefault("max_room_size", 50)
	v.SetDefault("max_rooms", 1000)
	v.SetDefault("max_message_size", 1<<20)
	v.SetDefault("max_payload_depth", 6)
	v.SetDefault("max_payload_keys", 200)
	v.SetDefault("messages_per_second", 30.0)
	v.SetDefault("burst_size", 10)
	v.SetDefault("connect_every", 6*time.Second)
	v.SetDefault("connect_burst", 5)
	v.SetDefault("cleanup_interval", 5*time.Minute)
	v.SetDefault("session_idle", time.Hour)
	v.SetDefault("library_dir", "library")
	v.SetDefault("library_format", "png")
}

// Load reads envFile if it exists (an empty name skips it), then the
// environment. Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, errors.Wrapf(err, "load %s", envFile)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat %s", envFile)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Addr:              v.GetString("addr"),
		AllowedOrigins:    splitList(v.GetString("allowed_origins")),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		StoreDriver:       strings.ToLower(v.GetString("store_driver")),
		StoreDSN:          v.GetString("store_dsn"),
		Transport:         strings.ToLower(v.GetString("transport")),
		RedisURL:          v.GetString("redis_url"),
		RelayURL:          v.GetString("relay_url"),
		MaxRoomSize:       v.GetInt("max_room_size"),
		MaxRooms:          v.GetInt("max_rooms"),
		MaxMessageSize:    v.GetInt("max_message_size"),
		MaxPayloadDepth:   v.GetInt("max_payload_depth"),
		MaxPayloadKeys:    v.GetInt("max_payload_keys"),
		MessagesPerSecond: v.GetFloat64("messages_per_second"),
		BurstSize:         v.GetInt("burst_size"),
		ConnectEvery:      v.GetDuration("connect_every"),
		ConnectBurst:      v.GetInt("connect_burst"),
		CleanupInterval:   v.GetDuration("cleanup_interval"),
		SessionIdle:       v.GetDuration("session_idle"),
		LibraryDir:        v.GetString("library_dir"),
		LibraryFormat:     strings.ToLower(v.GetString("library_format")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations and limits.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite3", "postgres", "http":
	default:
		return errors.Errorf("unknown store driver %q", c.StoreDriver)
	}

	switch c.Transport {
	case "hub", "redis", "websocket":
	default:
		return errors.Errorf("unknown transport %q", c.Transport)
	}

	switch c.LibraryFormat {
	case "png", "pdf":
	default:
		return errors.Errorf("unknown library format %q", c.LibraryFormat)
	}

	if c.MaxRoomSize <= 0 || c.MaxRooms <= 0 || c.MaxMessageSize <= 0 {
		return errors.New("room and message limits must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	return nil
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
