// Package config loads settings from defaults, a YAML file, the environment and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/conorfennell/drill/internal/lesson"
	"github.com/conorfennell/drill/internal/reminder"
	"github.com/conorfennell/drill/internal/review"
	"github.com/conorfennell/drill/internal/sm2"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix marks environment variables read as configuration. A double
// underscore separates key levels: DRILL_SM2__PASS_THRESHOLD is sm2.pass_threshold.
const EnvPrefix = "DRILL_"

// Config is the full application configuration.
type Config struct {
	DB       DBConfig        `koanf:"db"`
	HTTP     HTTPConfig      `koanf:"http"`
	Log      LogConfig       `koanf:"log"`
	SM2      sm2.Scheduler   `koanf:"sm2"`
	Lesson   lesson.Config   `koanf:"lesson"`
	Review   ReviewConfig    `koanf:"review"`
	Events   EventsConfig    `koanf:"events"`
	Reminder reminder.Config `koanf:"reminder"`
	Sources  SourcesConfig   `koanf:"sources"`
}

type DBConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type ReviewConfig struct {
	XPPerCorrect int           `koanf:"xp_per_correct" validate:"gte=0"`
	SessionTTL   time.Duration `koanf:"session_ttl" validate:"gt=0"`
}

// EventsConfig configures event publishing. Events are always logged; they also go
// to the AMQP exchange when a URL is set.
type EventsConfig struct {
	AMQPURL  string `koanf:"amqp_url" validate:"omitempty,url"`
	Exchange string `koanf:"exchange" validate:"required_with=AMQPURL"`
}

type SourcesConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:       DBConfig{Path: "drill.db"},
		HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:      LogConfig{Level: "info", Format: "text"},
		SM2:      *sm2.Default(),
		Lesson:   lesson.DefaultConfig(),
		Review:   ReviewConfig{XPPerCorrect: review.DefaultXPPerCorrect, SessionTTL: review.DefaultSessionTTL},
		Events:   EventsConfig{Exchange: "drill.events"},
		Reminder: reminder.DefaultConfig(),
		Sources:  SourcesConfig{ReposDir: "repos"},
	}
}

// flagKeys maps the flags RegisterFlags defines to configuration keys.
var flagKeys = map[string]string{
	"db":         "db.path",
	"addr":       "http.addr",
	"log-level":  "log.level",
	"log-format": "log.format",
	"repos-dir":  "sources.repos_dir",
}

// RegisterFlags adds the configuration flags to a flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("env-file", ".env", "Path to a dotenv file loaded into the environment if present")
	flags.String("db", d.DB.Path, "Path to the SQLite database file")
	flags.String("addr", d.HTTP.Addr, "Address the HTTP API listens on")
	flags.String("log-level", d.Log.Level, "Log level: debug, info, warn or error")
	flags.String("log-format", d.Log.Format, "Log format: text or json")
	flags.String("repos-dir", d.Sources.ReposDir, "Directory git sources are cloned into")
}

// Load builds the configuration from flags, which must already be parsed.
func Load(flags *pflag.FlagSet) (Config, error) {
	envFile, _ := flags.GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	k := koanf.New(".")

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	// Flags left at their defaults only fill keys no other layer set.
	err = k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load flags: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewLogger returns a logger writing to w in the configured format and level.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewStderrLogger is NewLogger writing to standard error.
func (c LogConfig) NewStderrLogger() *slog.Logger {
	return c.NewLogger(os.Stderr)
}
