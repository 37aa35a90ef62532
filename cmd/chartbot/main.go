package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/chartbot/internal/archive"
	"github.com/malbeclabs/chartbot/internal/dataset"
	"github.com/malbeclabs/chartbot/internal/logger"
	"github.com/malbeclabs/chartbot/internal/pipeline"
	"github.com/malbeclabs/chartbot/internal/sandbox"
	"github.com/malbeclabs/chartbot/internal/synth"
	slackbot "github.com/malbeclabs/chartbot/internal/slack"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultMetricsAddr = "0.0.0.0:0"
	defaultHTTPAddr    = "0.0.0.0:3000"

	pprofAddr               = "localhost:6060"
	registryCleanupInterval = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run starts the Slack bot.
//
// Required Slack Bot Token Scopes:
//   - chat:write - Post messages
//   - files:write - Upload charts
//   - reactions:write - Add reactions
//   - channels:history - Read public channel messages
//   - groups:history - Read private channel messages
//
// Required Event Subscriptions (Subscribe to bot events):
//   - message.channels - Receive all messages in public channels
//   - message.groups - Receive all messages in private channels
//
// Interactivity must be enabled for the feedback buttons. In HTTP mode the request
// URL is /slack/actions.
func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "Enable pprof server")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	modeFlag := flag.String("mode", "", "Mode: 'socket' (dev) or 'http' (prod). Defaults to 'socket' if SLACK_APP_TOKEN is set, otherwise 'http'")
	httpAddrFlag := flag.String("http-addr", defaultHTTPAddr, "Address to listen on for HTTP events (production mode)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 3*time.Minute, "Maximum time to wait for in-flight requests to complete during graceful shutdown")

	// Overrides for environment configuration (flags take precedence)
	dataDirFlag := flag.String("data-dir", "", "Directory holding one <table>.csv per table (or set CHARTBOT_DATA_DIR)")
	dbPathFlag := flag.String("db-path", "", "Dataset database file (or set CHARTBOT_DB_PATH)")
	budgetFlag := flag.Duration("budget", 0, "Wall-clock limit for one program run (or set CHARTBOT_BUDGET)")
	queueSizeFlag := flag.Int("queue-size", -1, "Requests allowed to wait while one runs (or set CHARTBOT_QUEUE_SIZE)")

	flag.Parse()

	// A missing .env file is fine; the environment may already be populated.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	// Load configuration
	cfg, err := slackbot.LoadFromEnv(*modeFlag, *httpAddrFlag, *metricsAddrFlag, *verboseFlag, *enablePprofFlag)
	if err != nil {
		return err
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}
	if *dbPathFlag != "" {
		cfg.DBPath = *dbPathFlag
	}
	if *budgetFlag > 0 {
		cfg.Budget = *budgetFlag
	}
	if *queueSizeFlag >= 0 {
		cfg.QueueSize = *queueSizeFlag
	}

	startDiagnostics(log, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Requests keep running after a shutdown signal until they finish or the
	// shutdown timeout passes.
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	if err := prepareDataset(ctx, log, cfg); err != nil {
		return err
	}

	runner, err := sandbox.NewRunner(log, cfg.RunnerConfig())
	if err != nil {
		return fmt.Errorf("failed to create sandbox runner: %w", err)
	}
	log.Info("sandbox ready", "kind", cfg.Sandbox, "budget", cfg.Budget)

	archiver, err := newArchiver(ctx, log)
	if err != nil {
		return err
	}

	registry := pipeline.NewRegistry(pipeline.DefaultPendingTTL)
	registry.StartCleanup(workCtx, registryCleanupInterval)

	stack, err := pipeline.NewStack(pipeline.StackConfig{
		Logger:        log,
		LLM:           synth.NewAnthropicLLMClient(log, cfg.AnthropicAPIKey, anthropic.Model(cfg.Model), 0),
		Runner:        runner,
		DatasetPath:   cfg.DBPath,
		DatasetEngine: cfg.DBEngine,
		ContextPath:   cfg.ContextPath,
		FeedbackPath:  cfg.FeedbackPath,
		ChartPath:     cfg.ChartPath,
		Budget:        cfg.Budget,
		Archiver:      archiver,
		Registry:      registry,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	slackClient := slackbot.NewClient(cfg.BotToken, cfg.AppToken, log)
	if cfg.BotUserID, err = slackClient.Initialize(ctx); err != nil {
		log.Warn("slack auth test failed, bot mentions will not be stripped", "error", err)
	}

	msgProcessor, err := slackbot.NewProcessor(workCtx, slackbot.ProcessorConfig{
		Logger:    log,
		Client:    slackClient,
		Publisher: slackbot.NewPublisher(slackClient, log),
		Pipeline:  stack.Pipeline,
		Budget:    cfg.Budget,
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		return err
	}
	msgProcessor.StartCleanup(ctx)

	eventHandler := slackbot.NewEventHandler(workCtx, slackClient, msgProcessor, cfg.SigningSecret, log)
	eventHandler.StartCleanup(ctx)

	if cfg.Mode == slackbot.ModeSocket {
		err = runSocketMode(ctx, slackClient.API(), eventHandler, log)
	} else {
		err = runHTTPMode(ctx, cfg.HTTPAddr, eventHandler, log)
	}

	if ctx.Err() == nil {
		return err
	}
	drain(log, eventHandler, msgProcessor, *shutdownTimeoutFlag, stopWork)
	log.Info("chartbot stopped", "reason", err)
	return nil
}

// drain stops intake and gives admitted requests up to timeout to finish before
// cancelling them.
func drain(log *slog.Logger, h *slackbot.EventHandler, p *slackbot.Processor, timeout time.Duration, cancelWork context.CancelFunc) {
	log.Info("draining requests", "pending", p.Pending(), "timeout", timeout)
	wait := h.StopAcceptingNew()

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		log.Info("all requests finished")
	case <-timer.C:
		log.Warn("requests still running after shutdown timeout, cancelling them", "pending", p.Pending())
		cancelWork()
		<-done
	}
}

// startDiagnostics serves prometheus metrics and, when enabled, pprof.
func startDiagnostics(log *slog.Logger, cfg *slackbot.Config) {
	if cfg.EnablePprof {
		go func() {
			log.Info("pprof listening", "address", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				log.Error("pprof server stopped", "error", err)
			}
		}()
	}

	if cfg.MetricsAddr == "" {
		return
	}
	slackbot.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	listener, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		log.Error("metrics listener failed, continuing without metrics", "address", cfg.MetricsAddr, "error", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info("metrics listening", "address", listener.Addr().String())
		if err := http.Serve(listener, mux); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()
}

// prepareDataset loads the CSV directory into a fresh database. It runs on every
// start so the bot always serves the current files; a missing file is fatal.
func prepareDataset(ctx context.Context, log *slog.Logger, cfg *slackbot.Config) error {
	counts, err := dataset.Load(ctx, dataset.Config{
		Logger:  log,
		Engine:  cfg.DBEngine,
		DataDir: cfg.DataDir,
		Path:    cfg.DBPath,
	})
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	log.Info("dataset ready", "engine", cfg.DBEngine, "path", cfg.DBPath, "data_dir", cfg.DataDir, "rows", counts)
	return nil
}

func newArchiver(ctx context.Context, log *slog.Logger) (archive.Archiver, error) {
	s3Cfg, err := archive.LoadS3ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid archive configuration: %w", err)
	}
	if s3Cfg == nil {
		log.Info("chart archive disabled")
		return archive.Nop{}, nil
	}
	a, err := archive.NewFromConfig(ctx, log, s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chart archive: %w", err)
	}
	log.Info("chart archive enabled", "bucket", s3Cfg.Bucket, "prefix", s3Cfg.Prefix, "endpoint", s3Cfg.Endpoint)
	return a, nil
}

// runSocketMode consumes events over a socket mode connection until ctx is done.
func runSocketMode(ctx context.Context, api *slack.Client, h *slackbot.EventHandler, log *slog.Logger) error {
	client := socketmode.New(api)
	go func() {
		if err := client.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("socket mode connection failed", "error", err)
		}
	}()
	log.Info("bot running in socket mode")
	return h.HandleSocketMode(ctx, client)
}

// runHTTPMode serves the events and interactivity endpoints until ctx is done.
func runHTTPMode(ctx context.Context, addr string, h *slackbot.EventHandler, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", h.HandleEvents)
	mux.HandleFunc("/slack/actions", h.HandleActions)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("bot running in HTTP mode", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	h.StopAcceptingNew()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	return ctx.Err()
}
