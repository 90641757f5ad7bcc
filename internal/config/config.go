package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfigPath names the environment variable holding an optional YAML
// config file path.
const EnvConfigPath = "GOAL_AGENT_CONFIG"

const envPrefix = "GOAL_AGENT"

type Config struct {
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Lock    LockConfig    `mapstructure:"lock" yaml:"lock"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Params  ParamsConfig  `mapstructure:"params" yaml:"params"`
	Chat    ChatConfig    `mapstructure:"chat" yaml:"chat"`
	Goals   GoalsConfig   `mapstructure:"goals" yaml:"goals"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type StoreConfig struct {
	// Backend is one of memory, dynamodb or postgres.
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Table       string `mapstructure:"table" yaml:"table"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

type LockConfig struct {
	// Backend is one of local or redis.
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Wait          time.Duration `mapstructure:"wait" yaml:"wait"`
}

type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	TopP        float64       `mapstructure:"top_p" yaml:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	// APIKeyParam is an SSM parameter holding the key, plain or as {"token": "..."}.
	APIKeyParam string `mapstructure:"api_key_param" yaml:"api_key_param"`
}

type ParamsConfig struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

type ChatConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length" yaml:"max_message_length"`
}

type GoalsConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size" yaml:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size" yaml:"max_page_size"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.table", "")
	v.SetDefault("store.database_url", "")

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl", 2*time.Minute)
	v.SetDefault("lock.wait", 30*time.Second)

	v.SetDefault("llm.base_url", "https://api.deepseek.com")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.top_p", 0.9)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_key_param", "")

	v.SetDefault("params.prefix", "")

	v.SetDefault("chat.max_message_length", 4000)

	v.SetDefault("goals.default_page_size", 10)
	v.SetDefault("goals.max_page_size", 100)

	v.SetDefault("http.addr", ":4000")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("metrics.namespace", "goal_agent")
	v.SetDefault("log.level", "info")
}

// Load reads defaults, then the YAML file at path when non-empty, then
// GOAL_AGENT_* environment variables (e.g. GOAL_AGENT_STORE_BACKEND).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// Validate rejects unusable or inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case "memory":
	case "dynamodb":
		if strings.TrimSpace(c.Store.Table) == "" {
			errs = append(errs, errors.New("store.table is required for the dynamodb backend"))
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, dynamodb, postgres", c.Store.Backend))
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if strings.TrimSpace(c.Lock.RedisAddr) == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend %q is not one of local, redis", c.Lock.Backend))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be positive"))
	}
	if c.Lock.Wait < 0 {
		errs = append(errs, errors.New("lock.wait must not be negative"))
	}
	// The lock must outlive the model call it guards.
	if c.Lock.TTL > 0 && c.LLM.Timeout > 0 && c.Lock.TTL <= c.LLM.Timeout {
		errs = append(errs, fmt.Errorf("lock.ttl %s must exceed llm.timeout %s", c.Lock.TTL, c.LLM.Timeout))
	}

	if c.LLM.APIKey == "" && c.LLM.APIKeyParam == "" {
		errs = append(errs, errors.New("one of llm.api_key or llm.api_key_param is required"))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model must not be empty"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %v is outside [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.TopP <= 0 || c.LLM.TopP > 1 {
		errs = append(errs, fmt.Errorf("llm.top_p %v is outside (0, 1]", c.LLM.TopP))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("llm.max_tokens must be positive"))
	}

	if c.Chat.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("chat.max_message_length must be positive"))
	}
	if c.Goals.MaxPageSize <= 0 || c.Goals.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("goals page sizes must be positive"))
	} else if c.Goals.DefaultPageSize > c.Goals.MaxPageSize {
		errs = append(errs, errors.New("goals.default_page_size exceeds goals.max_page_size"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
