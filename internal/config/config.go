package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ncecere/open_image_gateway/internal/retry"
)

// Config captures the runtime configuration for the gateway service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Generator     GeneratorConfig     `mapstructure:"generator"`
	Publisher     PublisherConfig     `mapstructure:"publisher"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitBytes        int           `mapstructure:"body_limit_bytes"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

// GeneratorConfig selects and tunes the image generation backend.
type GeneratorConfig struct {
	Backend string      `mapstructure:"backend"`
	BaseURL string      `mapstructure:"base_url"`
	OpenAI  OpenAICfg   `mapstructure:"openai"`
	Retry   RetryConfig `mapstructure:"retry"`
}

type OpenAICfg struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// PublisherConfig selects and tunes the public file host backend.
type PublisherConfig struct {
	Backend       string            `mapstructure:"backend"`
	Endpoint      string            `mapstructure:"endpoint"`
	PublicBaseURL string            `mapstructure:"public_base_url"`
	S3            PublisherS3Config `mapstructure:"s3"`
	Local         LocalConfig       `mapstructure:"local"`
	Retry         RetryConfig       `mapstructure:"retry"`
}

type PublisherS3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type LocalConfig struct {
	Directory string `mapstructure:"directory"`
}

// RetryConfig carries the per-stage retry tunables.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
}

// Policy converts the tunables into an executor policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		AttemptTimeout: r.AttemptTimeout,
		BaseDelay:      r.BaseDelay,
		MaxDelay:       r.MaxDelay,
		RateLimitDelay: r.RateLimitDelay,
	}
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("IMAGEGW_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("gateway")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("IMAGEGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set. All missing settings are reported
// together so operators fix them in one pass.
func (c *Config) Validate() error {
	var missing []string

	switch strings.ToLower(strings.TrimSpace(c.Generator.Backend)) {
	case "", "http":
		c.Generator.Backend = "http"
		if strings.TrimSpace(c.Generator.BaseURL) == "" {
			missing = append(missing, "IMAGEGW_GENERATOR_BASE_URL")
		}
	case "openai":
		c.Generator.Backend = "openai"
		if strings.TrimSpace(c.Generator.OpenAI.APIKey) == "" {
			missing = append(missing, "IMAGEGW_GENERATOR_OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("generator.backend must be http or openai")
	}

	switch strings.ToLower(strings.TrimSpace(c.Publisher.Backend)) {
	case "", "remote":
		c.Publisher.Backend = "remote"
		if strings.TrimSpace(c.Publisher.Endpoint) == "" {
			missing = append(missing, "IMAGEGW_PUBLISHER_ENDPOINT")
		}
	case "s3":
		c.Publisher.Backend = "s3"
		if strings.TrimSpace(c.Publisher.S3.Bucket) == "" {
			missing = append(missing, "IMAGEGW_PUBLISHER_S3_BUCKET")
		}
	case "local":
		c.Publisher.Backend = "local"
	default:
		return fmt.Errorf("publisher.backend must be remote, s3, or local")
	}

	if strings.TrimSpace(c.Publisher.PublicBaseURL) == "" {
		missing = append(missing, "IMAGEGW_PUBLISHER_PUBLIC_BASE_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Server.BodyLimitBytes <= 0 {
		return fmt.Errorf("server.body_limit_bytes must be > 0")
	}
	if err := c.Generator.Retry.validate("generator.retry"); err != nil {
		return err
	}
	if err := c.Publisher.Retry.validate("publisher.retry"); err != nil {
		return err
	}

	return nil
}

func (r RetryConfig) validate(section string) error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("%s.max_attempts must be > 0", section)
	}
	if r.AttemptTimeout <= 0 {
		return fmt.Errorf("%s.attempt_timeout must be > 0", section)
	}
	if r.BaseDelay <= 0 {
		return fmt.Errorf("%s.base_delay must be > 0", section)
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("%s.max_delay must be >= base_delay", section)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_bytes", 1_048_576)
	v.SetDefault("server.read_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("generator.backend", "http")
	v.SetDefault("generator.retry.max_attempts", 4)
	v.SetDefault("generator.retry.attempt_timeout", "45s")
	v.SetDefault("generator.retry.base_delay", "2s")
	v.SetDefault("generator.retry.max_delay", "15s")
	v.SetDefault("generator.retry.rate_limit_delay", "16s")

	v.SetDefault("publisher.backend", "remote")
	v.SetDefault("publisher.local.directory", "./data/images")
	v.SetDefault("publisher.retry.max_attempts", 3)
	v.SetDefault("publisher.retry.attempt_timeout", "20s")
	v.SetDefault("publisher.retry.base_delay", "1s")
	v.SetDefault("publisher.retry.max_delay", "8s")
	v.SetDefault("publisher.retry.rate_limit_delay", "0s")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
