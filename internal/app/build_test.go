package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"goal-agent/internal/config"
	"goal-agent/internal/usecase"
)

func memoryConfig() config.Config {
	return config.Config{
		Store:   config.StoreConfig{Backend: "memory"},
		Lock:    config.LockConfig{Backend: "local", TTL: time.Minute, Wait: time.Second},
		LLM:     config.LLMConfig{BaseURL: "http://127.0.0.1:1", Model: "deepseek-chat", APIKey: "sk", Temperature: 0.7, TopP: 0.9, MaxTokens: 100, Timeout: time.Second},
		Chat:    config.ChatConfig{MaxMessageLength: 100},
		Goals:   config.GoalsConfig{DefaultPageSize: 5, MaxPageSize: 10},
		Metrics: config.MetricsConfig{Namespace: "goal_agent_build_test"},
	}
}

func TestBuild_MemoryBackend(t *testing.T) {
	var buf bytes.Buffer
	res, err := Build(context.Background(), memoryConfig(), NewLogger(&buf, "info"))
	require.NoError(t, err)
	require.NotNil(t, res.Service)
	require.NotNil(t, res.Metrics)
	require.Contains(t, buf.String(), `"store":"memory"`)

	out, err := res.Service.ListGoals(context.Background(), usecase.ListGoalsInput{UserID: "u1", PageSize: 50})
	require.NoError(t, err)
	require.Equal(t, 10, out.PageSize)

	// The gateway points at a closed port, so a turn fails upstream.
	_, err = res.Service.ProcessMessage(context.Background(), usecase.ProcessInput{Message: "hola", SessionID: "s1", UserID: "u1"})
	var ucErr *usecase.Error
	require.True(t, errors.As(err, &ucErr))
	require.Equal(t, usecase.ErrorUpstream, ucErr.Code)

	require.NoError(t, res.Cleanup())
}

func TestBuildStore_UnknownBackend(t *testing.T) {
	_, err := buildStore(context.Background(), config.StoreConfig{Backend: "mongo"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown store backend")
}

func TestBuildStore_DynamoPropagatesAWSError(t *testing.T) {
	loadAWS := func() (aws.Config, error) { return aws.Config{}, errors.New("no credentials") }
	_, err := buildStore(context.Background(), config.StoreConfig{Backend: "dynamodb", Table: "t"}, loadAWS)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no credentials")
}

func TestBuildStore_DynamoUsesTable(t *testing.T) {
	loadAWS := func() (aws.Config, error) { return aws.Config{Region: "us-east-1"}, nil }
	store, err := buildStore(context.Background(), config.StoreConfig{Backend: "dynamodb", Table: "goals"}, loadAWS)
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestBuildLocker_UnknownBackend(t *testing.T) {
	_, _, err := buildLocker(context.Background(), config.LockConfig{Backend: "zk"})
	require.Error(t, err)
}

func TestBuildGateway_TokenParamUsesSSM(t *testing.T) {
	calls := 0
	loadAWS := func() (aws.Config, error) {
		calls++
		return aws.Config{Region: "us-east-1"}, nil
	}
	client, err := buildGateway(config.LLMConfig{APIKeyParam: "deepseek-token", Timeout: time.Second}, config.ParamsConfig{Prefix: "/goal-agent"}, loadAWS)
	require.NoError(t, err)
	require.NotNil(t, client)
	require.Equal(t, 1, calls)

	_, err = buildGateway(config.LLMConfig{}, config.ParamsConfig{}, loadAWS)
	require.Error(t, err)
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, "v", line["k"])
}
