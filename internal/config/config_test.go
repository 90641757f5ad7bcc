package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithEnvKey(t *testing.T) {
	t.Setenv("GOAL_AGENT_LLM_API_KEY", "sk-env")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, "local", cfg.Lock.Backend)
	require.Equal(t, 2*time.Minute, cfg.Lock.TTL)
	require.Equal(t, "https://api.deepseek.com", cfg.LLM.BaseURL)
	require.Equal(t, "deepseek-chat", cfg.LLM.Model)
	require.Equal(t, 0.7, cfg.LLM.Temperature)
	require.Equal(t, 1500, cfg.LLM.MaxTokens)
	require.Equal(t, 0.9, cfg.LLM.TopP)
	require.Equal(t, "sk-env", cfg.LLM.APIKey)
	require.Equal(t, 10, cfg.Goals.DefaultPageSize)
	require.Equal(t, 100, cfg.Goals.MaxPageSize)
	require.Equal(t, "goal_agent", cfg.Metrics.Namespace)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: DynamoDB
  table: goal-agent
lock:
  backend: redis
  redis_addr: localhost:6379
  wait: 5s
llm:
  api_key_param: /goal-agent/deepseek
  max_tokens: 800
goals:
  default_page_size: 20
`), 0o600))
	t.Setenv("GOAL_AGENT_LLM_MODEL", "deepseek-reasoner")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "dynamodb", cfg.Store.Backend)
	require.Equal(t, "goal-agent", cfg.Store.Table)
	require.Equal(t, "redis", cfg.Lock.Backend)
	require.Equal(t, 5*time.Second, cfg.Lock.Wait)
	require.Equal(t, "/goal-agent/deepseek", cfg.LLM.APIKeyParam)
	require.Equal(t, 800, cfg.LLM.MaxTokens)
	require.Equal(t, "deepseek-reasoner", cfg.LLM.Model)
	require.Equal(t, 20, cfg.Goals.DefaultPageSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "config: read")
}

func validConfig() Config {
	return Config{
		Store: StoreConfig{Backend: "memory"},
		Lock:  LockConfig{Backend: "local", TTL: time.Minute, Wait: time.Second},
		LLM:   LLMConfig{Model: "deepseek-chat", APIKey: "sk", Temperature: 0.7, TopP: 0.9, MaxTokens: 1500},
		Chat:  ChatConfig{MaxMessageLength: 4000},
		Goals: GoalsConfig{DefaultPageSize: 10, MaxPageSize: 100},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, func() error { c := validConfig(); return c.Validate() }())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store.Backend = "mongo" }, "store.backend"},
		{"dynamo without table", func(c *Config) { c.Store.Backend = "dynamodb" }, "store.table"},
		{"postgres without url", func(c *Config) { c.Store.Backend = "postgres" }, "store.database_url"},
		{"unknown lock", func(c *Config) { c.Lock.Backend = "etcd" }, "lock.backend"},
		{"redis without addr", func(c *Config) { c.Lock.Backend = "redis" }, "lock.redis_addr"},
		{"no key", func(c *Config) { c.LLM.APIKey = "" }, "llm.api_key"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"top_p", func(c *Config) { c.LLM.TopP = 0 }, "llm.top_p"},
		{"page sizes", func(c *Config) { c.Goals.DefaultPageSize = 200 }, "exceeds"},
		{"lock ttl", func(c *Config) { c.Lock.TTL = 0 }, "lock.ttl"},
		{"lock ttl below llm timeout", func(c *Config) { c.Lock.TTL = 30 * time.Second; c.LLM.Timeout = time.Minute }, "must exceed llm.timeout"},
		{"lock ttl equal to llm timeout", func(c *Config) { c.Lock.TTL = time.Minute; c.LLM.Timeout = time.Minute }, "must exceed llm.timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
