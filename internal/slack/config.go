package slack

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/malbeclabs/chartbot/internal/dataset"
	"github.com/malbeclabs/chartbot/internal/feedback"
	"github.com/malbeclabs/chartbot/internal/sandbox"
)

// Mode represents the Slack bot operation mode
type Mode string

const (
	ModeSocket Mode = "socket" // Development mode using Socket Mode
	ModeHTTP   Mode = "http"   // Production mode using HTTP events
)

const DefaultQueueSize = 1

// Config holds all configuration for the Slack bot
type Config struct {
	// Bot configuration
	BotToken      string
	AppToken      string
	SigningSecret string
	Mode          Mode
	BotUserID     string

	// Anthropic configuration
	AnthropicAPIKey string
	Model           string

	// Dataset configuration
	DataDir     string
	DBEngine    dataset.Engine
	DBPath      string
	ContextPath string

	// Execution configuration
	Sandbox           sandbox.Kind
	SandboxImage      string
	Python            string
	SandboxMemory     uint64 // zero selects the runner default
	SandboxCPUSeconds uint64 // zero selects the runner default
	Budget            time.Duration
	ChartPath         string
	QueueSize         int

	FeedbackPath string

	// Server configuration
	HTTPAddr    string
	MetricsAddr string

	// Feature flags
	Verbose     bool
	EnablePprof bool
}

// RunnerConfig describes the sandbox runner selected by the configuration.
func (c *Config) RunnerConfig() sandbox.RunnerConfig {
	return sandbox.RunnerConfig{
		Kind:        c.Sandbox,
		Interpreter: c.Python,
		Image:       c.SandboxImage,
		MemoryBytes: c.SandboxMemory,
		CPUSeconds:  c.SandboxCPUSeconds,
	}
}

// LoadFromEnv loads configuration from environment variables and flags
func LoadFromEnv(modeFlag, httpAddrFlag, metricsAddrFlag string, verbose, enablePprof bool) (*Config, error) {
	cfg := &Config{
		HTTPAddr:    httpAddrFlag,
		MetricsAddr: metricsAddrFlag,
		Verbose:     verbose,
		EnablePprof: enablePprof,
	}

	cfg.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN is required")
	}

	cfg.Mode = Mode(modeFlag)
	if cfg.Mode == "" {
		// Auto-detect: socket mode if app token is set, otherwise HTTP mode
		if os.Getenv("SLACK_APP_TOKEN") != "" {
			cfg.Mode = ModeSocket
		} else {
			cfg.Mode = ModeHTTP
		}
	}
	if cfg.Mode != ModeSocket && cfg.Mode != ModeHTTP {
		return nil, fmt.Errorf("mode must be 'socket' or 'http', got: %s", cfg.Mode)
	}

	if cfg.Mode == ModeSocket {
		cfg.AppToken = os.Getenv("SLACK_APP_TOKEN")
		if cfg.AppToken == "" {
			return nil, fmt.Errorf("SLACK_APP_TOKEN is required for socket mode")
		}
	} else {
		cfg.SigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
		if cfg.SigningSecret == "" {
			return nil, fmt.Errorf("SLACK_SIGNING_SECRET is required for HTTP mode")
		}
	}

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	cfg.Model = os.Getenv("CHARTBOT_MODEL")

	cfg.DataDir = envOr("CHARTBOT_DATA_DIR", dataset.DefaultDataDir)
	engine, err := dataset.ParseEngine(os.Getenv("CHARTBOT_DB_ENGINE"))
	if err != nil {
		return nil, fmt.Errorf("CHARTBOT_DB_ENGINE: %w", err)
	}
	cfg.DBEngine = engine
	cfg.DBPath = envOr("CHARTBOT_DB_PATH", dataset.DefaultPath)
	cfg.ContextPath = os.Getenv("CHARTBOT_CONTEXT_PATH")

	kind, err := sandbox.ParseKind(os.Getenv("CHARTBOT_SANDBOX"))
	if err != nil {
		return nil, fmt.Errorf("CHARTBOT_SANDBOX: %w", err)
	}
	cfg.Sandbox = kind
	cfg.SandboxImage = envOr("CHARTBOT_SANDBOX_IMAGE", sandbox.DefaultDockerImage)
	cfg.Python = envOr("CHARTBOT_PYTHON", sandbox.DefaultInterpreter)
	if cfg.SandboxMemory, err = sandbox.ParseMemory(os.Getenv("CHARTBOT_SANDBOX_MEMORY")); err != nil {
		return nil, fmt.Errorf("CHARTBOT_SANDBOX_MEMORY: %w", err)
	}
	if cfg.SandboxCPUSeconds, err = sandbox.ParseCPUSeconds(os.Getenv("CHARTBOT_SANDBOX_CPU_SECONDS")); err != nil {
		return nil, fmt.Errorf("CHARTBOT_SANDBOX_CPU_SECONDS: %w", err)
	}
	cfg.ChartPath = envOr("CHARTBOT_CHART_PATH", sandbox.DefaultChartPath)
	cfg.FeedbackPath = envOr("CHARTBOT_FEEDBACK_PATH", feedback.DefaultPath)

	cfg.Budget = sandbox.DefaultBudget
	if v := os.Getenv("CHARTBOT_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("CHARTBOT_BUDGET must be a positive duration, got: %s", v)
		}
		cfg.Budget = d
	}

	cfg.QueueSize = DefaultQueueSize
	if v := os.Getenv("CHARTBOT_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("CHARTBOT_QUEUE_SIZE must be a non-negative integer, got: %s", v)
		}
		cfg.QueueSize = n
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
