package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/chartbot/internal/archive"
	"github.com/malbeclabs/chartbot/internal/dataset"
	"github.com/malbeclabs/chartbot/internal/explain"
	"github.com/malbeclabs/chartbot/internal/feedback"
	"github.com/malbeclabs/chartbot/internal/sandbox"
	"github.com/malbeclabs/chartbot/internal/synth"
)

// StackConfig describes the production collaborators of a pipeline.
type StackConfig struct {
	Logger *slog.Logger
	LLM    synth.LLMClient
	Runner sandbox.Runner

	DatasetPath   string
	DatasetEngine dataset.Engine
	// ContextPath is an optional document that replaces the generated schema
	// description in prompts.
	ContextPath string

	FeedbackPath string
	ChartPath    string
	Budget       time.Duration
	// Harness overrides the embedded execution wrapper.
	Harness []byte

	Archiver archive.Archiver
	Registry *Registry
	Clock    clockwork.Clock
}

func (c *StackConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.LLM == nil {
		return errors.New("llm client is required")
	}
	if c.Runner == nil {
		return errors.New("runner is required")
	}
	if c.DatasetPath == "" {
		return errors.New("dataset path is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Stack is a fully wired pipeline together with the parts callers inspect.
type Stack struct {
	Pipeline    *Pipeline
	Synthesizer *synth.Synthesizer
	Executor    *sandbox.Executor
	Feedback    *feedback.Log
}

// NewStack wires the synthesizer, extractor, executor and feedback log into a
// pipeline. The feedback log doubles as the synthesizer's history.
func NewStack(cfg StackConfig) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stack config: %w", err)
	}

	schema, err := SchemaDocument(cfg.ContextPath)
	if err != nil {
		return nil, err
	}

	fb, err := feedback.NewLog(feedback.Config{
		Logger: cfg.Logger,
		Path:   cfg.FeedbackPath,
		Clock:  cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	prompts, err := synth.LoadPrompts()
	if err != nil {
		return nil, err
	}
	s, err := synth.New(synth.Config{
		Logger:         cfg.Logger,
		LLM:            cfg.LLM,
		Prompts:        prompts,
		SchemaDocument: schema,
		History:        fb,
		Dialect:        dialect(cfg.DatasetEngine),
	})
	if err != nil {
		return nil, err
	}

	exec, err := sandbox.NewExecutor(sandbox.Config{
		Logger:        cfg.Logger,
		Runner:        cfg.Runner,
		Budget:        cfg.Budget,
		ChartPath:     cfg.ChartPath,
		Harness:       cfg.Harness,
		DatasetPath:   cfg.DatasetPath,
		DatasetEngine: string(cfg.DatasetEngine),
	})
	if err != nil {
		return nil, err
	}

	p, err := New(Config{
		Logger:      cfg.Logger,
		Synthesizer: s,
		Executor:    exec,
		Explainer:   explain.NewExtractor(),
		Feedback:    fb,
		Archiver:    cfg.Archiver,
		Registry:    cfg.Registry,
		Clock:       cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	return &Stack{Pipeline: p, Synthesizer: s, Executor: exec, Feedback: fb}, nil
}

// SchemaDocument returns the contents of contextPath, or the generated schema
// description when contextPath is empty.
func SchemaDocument(contextPath string) (string, error) {
	if contextPath == "" {
		return dataset.SchemaDocument(), nil
	}
	data, err := os.ReadFile(contextPath)
	if err != nil {
		return "", fmt.Errorf("failed to read context document: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("context document %s is empty", contextPath)
	}
	return string(data), nil
}

func dialect(engine dataset.Engine) string {
	if engine == dataset.EngineDuckDB {
		return "DuckDB"
	}
	return "SQLite"
}
