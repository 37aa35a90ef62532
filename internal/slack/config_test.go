package slack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/chartbot/internal/dataset"
	"github.com/malbeclabs/chartbot/internal/sandbox"
)

var configEnvVars = []string{
	"SLACK_BOT_TOKEN",
	"SLACK_APP_TOKEN",
	"SLACK_SIGNING_SECRET",
	"ANTHROPIC_API_KEY",
	"CHARTBOT_MODEL",
	"CHARTBOT_DATA_DIR",
	"CHARTBOT_DB_ENGINE",
	"CHARTBOT_DB_PATH",
	"CHARTBOT_CONTEXT_PATH",
	"CHARTBOT_FEEDBACK_PATH",
	"CHARTBOT_CHART_PATH",
	"CHARTBOT_SANDBOX",
	"CHARTBOT_SANDBOX_IMAGE",
	"CHARTBOT_PYTHON",
	"CHARTBOT_SANDBOX_MEMORY",
	"CHARTBOT_SANDBOX_CPU_SECONDS",
	"CHARTBOT_BUDGET",
	"CHARTBOT_QUEUE_SIZE",
}

func TestChartbot_Slack_LoadFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		modeFlag    string
		wantErr     bool
		errContains string
		checkConfig func(*testing.T, *Config)
	}{
		{
			name: "socket mode with defaults",
			env: map[string]string{
				"SLACK_BOT_TOKEN":   "xoxb-test",
				"SLACK_APP_TOKEN":   "xapp-test",
				"ANTHROPIC_API_KEY": "sk-test",
			},
			modeFlag: "socket",
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, ModeSocket, cfg.Mode)
				require.Equal(t, "xoxb-test", cfg.BotToken)
				require.Equal(t, "xapp-test", cfg.AppToken)
				require.Equal(t, "sk-test", cfg.AnthropicAPIKey)
				require.Equal(t, "Query Analysis", cfg.DataDir)
				require.Equal(t, dataset.EngineSQLite, cfg.DBEngine)
				require.Equal(t, "chartbot.db", cfg.DBPath)
				require.Equal(t, "context_log.json", cfg.FeedbackPath)
				require.Equal(t, "/tmp/plot.png", cfg.ChartPath)
				require.Equal(t, sandbox.KindProcess, cfg.Sandbox)
				require.Equal(t, "python3", cfg.Python)
				require.Zero(t, cfg.SandboxMemory)
				require.Zero(t, cfg.SandboxCPUSeconds)
				require.Equal(t, 120*time.Second, cfg.Budget)
				require.Equal(t, 1, cfg.QueueSize)
			},
		},
		{
			name: "http mode with overrides",
			env: map[string]string{
				"SLACK_BOT_TOKEN":              "xoxb-test",
				"SLACK_SIGNING_SECRET":         "secret",
				"ANTHROPIC_API_KEY":            "sk-test",
				"CHARTBOT_MODEL":               "claude-test",
				"CHARTBOT_DATA_DIR":            "/data",
				"CHARTBOT_DB_ENGINE":           "duckdb",
				"CHARTBOT_DB_PATH":             "/var/lib/chartbot.duckdb",
				"CHARTBOT_CONTEXT_PATH":        "/data/fact.txt",
				"CHARTBOT_FEEDBACK_PATH":       "/var/lib/feedback.json",
				"CHARTBOT_CHART_PATH":          "/var/lib/plot.png",
				"CHARTBOT_SANDBOX":             "docker",
				"CHARTBOT_SANDBOX_IMAGE":       "registry/sandbox:1",
				"CHARTBOT_SANDBOX_MEMORY":      "2g",
				"CHARTBOT_SANDBOX_CPU_SECONDS": "90",
				"CHARTBOT_BUDGET":              "30s",
				"CHARTBOT_QUEUE_SIZE":          "0",
			},
			modeFlag: "http",
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, ModeHTTP, cfg.Mode)
				require.Equal(t, "secret", cfg.SigningSecret)
				require.Empty(t, cfg.AppToken)
				require.Equal(t, "claude-test", cfg.Model)
				require.Equal(t, "/data", cfg.DataDir)
				require.Equal(t, dataset.EngineDuckDB, cfg.DBEngine)
				require.Equal(t, "/var/lib/chartbot.duckdb", cfg.DBPath)
				require.Equal(t, "/data/fact.txt", cfg.ContextPath)
				require.Equal(t, "/var/lib/feedback.json", cfg.FeedbackPath)
				require.Equal(t, "/var/lib/plot.png", cfg.ChartPath)
				require.Equal(t, sandbox.KindDocker, cfg.Sandbox)
				require.Equal(t, "registry/sandbox:1", cfg.SandboxImage)
				require.Equal(t, uint64(2<<30), cfg.SandboxMemory)
				require.Equal(t, uint64(90), cfg.SandboxCPUSeconds)
				require.Equal(t, sandbox.RunnerConfig{
					Kind:        sandbox.KindDocker,
					Interpreter: "python3",
					Image:       "registry/sandbox:1",
					MemoryBytes: 2 << 30,
					CPUSeconds:  90,
				}, cfg.RunnerConfig())
				require.Equal(t, 30*time.Second, cfg.Budget)
				require.Equal(t, 0, cfg.QueueSize)
			},
		},
		{
			name: "auto-detect socket mode",
			env: map[string]string{
				"SLACK_BOT_TOKEN":   "xoxb-test",
				"SLACK_APP_TOKEN":   "xapp-test",
				"ANTHROPIC_API_KEY": "sk-test",
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, ModeSocket, cfg.Mode)
			},
		},
		{
			name: "auto-detect http mode",
			env: map[string]string{
				"SLACK_BOT_TOKEN":      "xoxb-test",
				"SLACK_SIGNING_SECRET": "secret",
				"ANTHROPIC_API_KEY":    "sk-test",
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				require.Equal(t, ModeHTTP, cfg.Mode)
			},
		},
		{
			name:        "missing bot token",
			env:         map[string]string{"ANTHROPIC_API_KEY": "sk-test"},
			wantErr:     true,
			errContains: "SLACK_BOT_TOKEN is required",
		},
		{
			name: "invalid mode",
			env: map[string]string{
				"SLACK_BOT_TOKEN":   "xoxb-test",
				"ANTHROPIC_API_KEY": "sk-test",
			},
			modeFlag:    "carrier-pigeon",
			wantErr:     true,
			errContains: "mode must be 'socket' or 'http'",
		},
		{
			name: "socket mode without app token",
			env: map[string]string{
				"SLACK_BOT_TOKEN":   "xoxb-test",
				"ANTHROPIC_API_KEY": "sk-test",
			},
			modeFlag:    "socket",
			wantErr:     true,
			errContains: "SLACK_APP_TOKEN is required",
		},
		{
			name: "http mode without signing secret",
			env: map[string]string{
				"SLACK_BOT_TOKEN":   "xoxb-test",
				"ANTHROPIC_API_KEY": "sk-test",
			},
			modeFlag:    "http",
			wantErr:     true,
			errContains: "SLACK_SIGNING_SECRET is required",
		},
		{
			name: "missing anthropic key",
			env: map[string]string{
				"SLACK_BOT_TOKEN": "xoxb-test",
				"SLACK_APP_TOKEN": "xapp-test",
			},
			wantErr:     true,
			errContains: "ANTHROPIC_API_KEY is required",
		},
		{
			name: "invalid engine",
			env: map[string]string{
				"SLACK_BOT_TOKEN":    "xoxb-test",
				"SLACK_APP_TOKEN":    "xapp-test",
				"ANTHROPIC_API_KEY":  "sk-test",
				"CHARTBOT_DB_ENGINE": "oracle",
			},
			wantErr:     true,
			errContains: "CHARTBOT_DB_ENGINE",
		},
		{
			name: "invalid sandbox",
			env: map[string]string{
				"SLACK_BOT_TOKEN":   "xoxb-test",
				"SLACK_APP_TOKEN":   "xapp-test",
				"ANTHROPIC_API_KEY": "sk-test",
				"CHARTBOT_SANDBOX":  "vm",
			},
			wantErr:     true,
			errContains: "CHARTBOT_SANDBOX",
		},
		{
			name: "invalid budget",
			env: map[string]string{
				"SLACK_BOT_TOKEN":   "xoxb-test",
				"SLACK_APP_TOKEN":   "xapp-test",
				"ANTHROPIC_API_KEY": "sk-test",
				"CHARTBOT_BUDGET":   "-5s",
			},
			wantErr:     true,
			errContains: "CHARTBOT_BUDGET",
		},
		{
			name: "invalid sandbox memory",
			env: map[string]string{
				"SLACK_BOT_TOKEN":         "xoxb-test",
				"SLACK_APP_TOKEN":         "xapp-test",
				"ANTHROPIC_API_KEY":       "sk-test",
				"CHARTBOT_SANDBOX_MEMORY": "lots",
			},
			wantErr:     true,
			errContains: "CHARTBOT_SANDBOX_MEMORY",
		},
		{
			name: "invalid sandbox cpu seconds",
			env: map[string]string{
				"SLACK_BOT_TOKEN":              "xoxb-test",
				"SLACK_APP_TOKEN":              "xapp-test",
				"ANTHROPIC_API_KEY":            "sk-test",
				"CHARTBOT_SANDBOX_CPU_SECONDS": "0",
			},
			wantErr:     true,
			errContains: "CHARTBOT_SANDBOX_CPU_SECONDS",
		},
		{
			name: "invalid queue size",
			env: map[string]string{
				"SLACK_BOT_TOKEN":     "xoxb-test",
				"SLACK_APP_TOKEN":     "xapp-test",
				"ANTHROPIC_API_KEY":   "sk-test",
				"CHARTBOT_QUEUE_SIZE": "many",
			},
			wantErr:     true,
			errContains: "CHARTBOT_QUEUE_SIZE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range configEnvVars {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadFromEnv(tt.modeFlag, "0.0.0.0:3000", "0.0.0.0:0", true, false)
			if tt.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.errContains)
				require.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "0.0.0.0:3000", cfg.HTTPAddr)
			require.Equal(t, "0.0.0.0:0", cfg.MetricsAddr)
			require.True(t, cfg.Verbose)
			require.False(t, cfg.EnablePprof)
			tt.checkConfig(t, cfg)
		})
	}
}
