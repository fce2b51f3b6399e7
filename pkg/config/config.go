package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds everything the server needs to run. Values come from the
// environment first; a YAML file, when given, overrides them.
type Config struct {
	Addr string `env:"MINSTREL_ADDR" envDefault:":8080" yaml:"addr"`

	BackendBaseURL string `env:"MINSTREL_BACKEND_BASE_URL" envDefault:"https://api.openai.com/v1" yaml:"backendBaseUrl"`
	BackendAPIKey  string `env:"MINSTREL_BACKEND_API_KEY" yaml:"backendApiKey"`
	Model          string `env:"MINSTREL_MODEL" envDefault:"gpt-4o-mini" yaml:"model"`

	MaxImageBytes int64 `env:"MINSTREL_MAX_IMAGE_BYTES" envDefault:"10485760" yaml:"maxImageBytes"`
	MaxAudioBytes int64 `env:"MINSTREL_MAX_AUDIO_BYTES" envDefault:"26214400" yaml:"maxAudioBytes"`
	MaxTextBytes  int64 `env:"MINSTREL_MAX_TEXT_BYTES" envDefault:"1048576" yaml:"maxTextBytes"`

	// empty means sessions live in memory only
	StoreDSN string `env:"MINSTREL_STORE_DSN" yaml:"storeDsn"`

	DeltaBuffer   int64         `env:"MINSTREL_DELTA_BUFFER" envDefault:"64" yaml:"deltaBuffer"`
	ModelCacheTTL time.Duration `env:"MINSTREL_MODEL_CACHE_TTL" envDefault:"5m" yaml:"modelCacheTtl"`

	LogLevel string `env:"MINSTREL_LOG_LEVEL" envDefault:"info" yaml:"logLevel"`
}

// Load parses the environment, then overlays the YAML file at path when one
// is given.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.BackendBaseURL == "" {
		return errors.New("backend base URL must not be empty")
	}
	if c.MaxImageBytes <= 0 || c.MaxAudioBytes <= 0 || c.MaxTextBytes <= 0 {
		return errors.New("attachment size limits must be positive")
	}
	if c.DeltaBuffer <= 0 {
		return errors.New("delta buffer must be positive")
	}
	return nil
}
