package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/chartbot/internal/archive"
	"github.com/malbeclabs/chartbot/internal/feedback"
	"github.com/malbeclabs/chartbot/internal/sandbox"
)

// ErrSynthesis wraps failures to obtain a program from the model.
var ErrSynthesis = errors.New("failed to generate analysis code")

type Synthesizer interface {
	Synthesize(ctx context.Context, request string) (string, error)
}

type Executor interface {
	Execute(ctx context.Context, program string) *sandbox.Outcome
}

type Explainer interface {
	Extract(ctx context.Context, source string) (string, error)
}

type FeedbackLog interface {
	Append(ctx context.Context, rec feedback.Record) error
}

// Request is one user question and where it came from.
type Request struct {
	ID        string
	Text      string
	Channel   string
	ThreadTS  string
	UserID    string
	CreatedAt time.Time
}

// Result is the output of one pipeline cycle.
type Result struct {
	Request     Request
	Program     string
	Explanation string
	Outcome     *sandbox.Outcome
}

type Config struct {
	Logger      *slog.Logger
	Synthesizer Synthesizer
	Executor    Executor
	Explainer   Explainer
	Feedback    FeedbackLog
	// Archiver is optional.
	Archiver archive.Archiver
	// Registry is optional; a 24h registry is created when nil.
	Registry *Registry
	Clock    clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Synthesizer == nil {
		return errors.New("synthesizer is required")
	}
	if c.Executor == nil {
		return errors.New("executor is required")
	}
	if c.Explainer == nil {
		return errors.New("explainer is required")
	}
	if c.Feedback == nil {
		return errors.New("feedback log is required")
	}
	if c.Archiver == nil {
		c.Archiver = archive.Nop{}
	}
	if c.Registry == nil {
		c.Registry = NewRegistry(DefaultPendingTTL)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Pipeline runs the request lifecycle: synthesize, explain and execute, then
// remember successful requests for feedback.
type Pipeline struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger}, nil
}

func (p *Pipeline) Registry() *Registry { return p.cfg.Registry }

// NewRequest stamps a question with a fresh ID and the current time.
func (p *Pipeline) NewRequest(text, channel, threadTS, userID string) Request {
	return Request{
		ID:        uuid.NewString(),
		Text:      strings.TrimSpace(text),
		Channel:   channel,
		ThreadTS:  threadTS,
		UserID:    userID,
		CreatedAt: p.cfg.Clock.Now().UTC(),
	}
}

// Run executes one cycle. A synthesis failure is returned as an error wrapping
// ErrSynthesis; timeouts and runtime failures are reported through the outcome.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	log := p.log.With("request_id", req.ID)

	program, err := p.cfg.Synthesizer.Synthesize(ctx, req.Text)
	if err != nil {
		log.Error("pipeline: synthesis failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	res := &Result{Request: req, Program: program}

	var g errgroup.Group
	g.Go(func() error {
		explanation, err := p.cfg.Explainer.Extract(ctx, program)
		if err != nil {
			log.Warn("pipeline: failed to extract explanation", "error", err)
			return nil
		}
		res.Explanation = explanation
		return nil
	})
	g.Go(func() error {
		res.Outcome = p.cfg.Executor.Execute(ctx, program)
		return nil
	})
	_ = g.Wait()

	if !res.Outcome.Succeeded() {
		log.Warn("pipeline: execution did not succeed", "status", res.Outcome.Status, "error", res.Outcome.Err)
		return res, nil
	}

	p.cfg.Registry.Put(req.ID, Pending{Request: req, Program: program})
	if err := p.cfg.Archiver.Archive(ctx, req.ID, res.Outcome.Chart, program); err != nil {
		log.Warn("pipeline: failed to archive artifacts", "error", err)
	}
	log.Info("pipeline: request completed", "explanation_bytes", len(res.Explanation))
	return res, nil
}

// RecordFeedback appends a vote for a published request to the feedback log.
func (p *Pipeline) RecordFeedback(ctx context.Context, requestID, userID string, verdict feedback.Verdict) error {
	pending, ok := p.cfg.Registry.Get(requestID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	rec := feedback.Record{
		UserInput:     pending.Request.Text,
		GeneratedCode: pending.Program,
		Feedback:      verdict,
		RequestID:     requestID,
		UserID:        userID,
	}
	if err := p.cfg.Feedback.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	p.log.Info("pipeline: feedback recorded", "request_id", requestID, "user", userID, "verdict", verdict)
	return nil
}
