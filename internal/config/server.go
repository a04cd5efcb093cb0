package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WALLACE_ADDR.
const EnvPrefix = "WALLACE"

// Server holds runtime settings. Keys match the command-line flag names;
// the same keys work in wallace.yaml and, upper-cased with dashes turned
// into underscores, in the environment.
type Server struct {
	Addr         string        `mapstructure:"addr"`
	DB           string        `mapstructure:"db"`
	Experiment   string        `mapstructure:"experiment"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	Lease        time.Duration `mapstructure:"lease"`
	MaxAttempts  int           `mapstructure:"max-attempts"`
	Backoff      time.Duration `mapstructure:"backoff"`
	NoWorker     bool          `mapstructure:"no-worker"`
}

// DefaultServer returns the built-in settings.
func DefaultServer() Server {
	return Server{
		Addr:         ":5000",
		DB:           "wallace.db",
		PollInterval: 2 * time.Second,
		Lease:        30 * time.Second,
		MaxAttempts:  5,
		Backoff:      5 * time.Second,
	}
}

// LoadServer resolves settings from, lowest precedence first: defaults,
// wallace.yaml in the search paths, WALLACE_* environment variables and
// flags that were set explicitly. flags may be nil.
func LoadServer(flags *pflag.FlagSet, searchPaths ...string) (Server, error) {
	v := viper.New()

	def := DefaultServer()
	v.SetDefault("addr", def.Addr)
	v.SetDefault("db", def.DB)
	v.SetDefault("experiment", def.Experiment)
	v.SetDefault("poll-interval", def.PollInterval)
	v.SetDefault("lease", def.Lease)
	v.SetDefault("max-attempts", def.MaxAttempts)
	v.SetDefault("backoff", def.Backoff)
	v.SetDefault("no-worker", def.NoWorker)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Server{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetConfigName("wallace")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Server{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Server
	if err := v.Unmarshal(&s); err != nil {
		return Server{}, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Server{}, err
	}
	return s, nil
}

// Validate rejects settings the server cannot run with.
func (s Server) Validate() error {
	if s.DB == "" {
		return errors.New("db path is empty")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive, got %s", s.PollInterval)
	}
	if s.Lease <= 0 {
		return fmt.Errorf("lease must be positive, got %s", s.Lease)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max-attempts must be at least 1, got %d", s.MaxAttempts)
	}
	if s.Backoff <= 0 {
		return fmt.Errorf("backoff must be positive, got %s", s.Backoff)
	}
	return nil
}
