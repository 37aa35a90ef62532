package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/chartbot/internal/dataset"
	"github.com/malbeclabs/chartbot/internal/feedback"
	"github.com/malbeclabs/chartbot/internal/logger"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

func Run() ExitCode {
	// A missing .env file is fine; the environment may already be populated.
	_ = godotenv.Load()

	if err := NewRootCmd().Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(NewAskCmd())
}

func newRootCmd(ask *AskCmd) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chartbot-cli",
		Short:        "Operator CLI for the chart analysis bot.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "set debug logging level")
	flags.String("data-dir", envOr("CHARTBOT_DATA_DIR", dataset.DefaultDataDir), "directory holding one <table>.csv per table")
	flags.String("db-engine", envOr("CHARTBOT_DB_ENGINE", string(dataset.EngineSQLite)), "dataset engine (sqlite, duckdb)")
	flags.String("db-path", envOr("CHARTBOT_DB_PATH", dataset.DefaultPath), "dataset database file")
	flags.String("feedback-path", envOr("CHARTBOT_FEEDBACK_PATH", feedback.DefaultPath), "feedback log file")

	rootCmd.AddCommand(
		NewLoadCmd().Command(),
		ask.Command(),
		NewHistoryCmd().Command(),
	)
	return rootCmd
}

// globals are the persistent flags shared by every command.
type globals struct {
	log          *slog.Logger
	dataset      dataset.Config
	feedbackPath string
}

func globalFlags(cmd *cobra.Command) (*globals, error) {
	flags := cmd.Root().PersistentFlags()
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	dataDir, err := flags.GetString("data-dir")
	if err != nil {
		return nil, fmt.Errorf("failed to get data-dir flag: %w", err)
	}
	engineStr, err := flags.GetString("db-engine")
	if err != nil {
		return nil, fmt.Errorf("failed to get db-engine flag: %w", err)
	}
	engine, err := dataset.ParseEngine(engineStr)
	if err != nil {
		return nil, err
	}
	dbPath, err := flags.GetString("db-path")
	if err != nil {
		return nil, fmt.Errorf("failed to get db-path flag: %w", err)
	}
	feedbackPath, err := flags.GetString("feedback-path")
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback-path flag: %w", err)
	}

	log := logger.NewWithWriter(cmd.ErrOrStderr(), verbose)
	return &globals{
		log: log,
		dataset: dataset.Config{
			Logger:  log,
			Engine:  engine,
			DataDir: dataDir,
			Path:    dbPath,
		},
		feedbackPath: feedbackPath,
	}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
