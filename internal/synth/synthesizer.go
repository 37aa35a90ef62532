package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrEmptyProgram is returned when the model answered with no usable code.
var ErrEmptyProgram = errors.New("model returned no program")

const historyAck = "Understood. I will take these previous requests and programs into account."

// HistoryProvider supplies the flattened feedback history replayed into prompts.
type HistoryProvider interface {
	Context(ctx context.Context) (string, error)
}

// Config configures a Synthesizer.
type Config struct {
	Logger  *slog.Logger
	LLM     LLMClient
	Prompts *Prompts
	// SchemaDocument describes the tables and example queries.
	SchemaDocument string
	// History is optional.
	History HistoryProvider
	// Dialect names the SQL dialect of the dataset connection, e.g. SQLite.
	Dialect string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.LLM == nil {
		return errors.New("llm client is required")
	}
	if c.Prompts == nil {
		return errors.New("prompts are required")
	}
	if strings.TrimSpace(c.SchemaDocument) == "" {
		return errors.New("schema document is required")
	}
	if c.Dialect == "" {
		c.Dialect = "SQLite"
	}
	return nil
}

// Synthesizer turns a natural-language request into an analysis program.
type Synthesizer struct {
	cfg     Config
	log     *slog.Logger
	prompts *Prompts
}

func New(cfg Config) (*Synthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid synthesizer config: %w", err)
	}
	return &Synthesizer{
		cfg:     cfg,
		log:     cfg.Logger,
		prompts: cfg.Prompts.WithDialect(cfg.Dialect),
	}, nil
}

// Synthesize asks the model for a program answering request. The model is called
// once; fence markup around the code is removed.
func (s *Synthesizer) Synthesize(ctx context.Context, request string) (string, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return "", errors.New("request is empty")
	}

	prompt := s.BuildPrompt(request, s.history(ctx))

	start := time.Now()
	response, err := s.cfg.LLM.Complete(ctx, prompt, WithCacheControl())
	if err != nil {
		return "", fmt.Errorf("LLM completion failed: %w", err)
	}

	program := StripCodeFences(response)
	if program == "" {
		return "", ErrEmptyProgram
	}
	s.log.Debug("synth: program generated", "duration", time.Since(start), "program_bytes", len(program))
	return program, nil
}

// BuildPrompt assembles the model request. Past requests and programs, when any,
// are presented as an earlier exchange ahead of the new request.
func (s *Synthesizer) BuildPrompt(request, history string) Prompt {
	prompt := Prompt{
		System: []string{
			s.prompts.System,
			"## Database Schema\n\n" + strings.TrimSpace(s.cfg.SchemaDocument),
		},
	}
	if history = strings.TrimSpace(history); history != "" {
		prompt.Turns = append(prompt.Turns,
			Turn{Role: RoleUser, Content: "Previous requests and the code generated for them:\n\n" + history},
			Turn{Role: RoleAssistant, Content: historyAck},
		)
	}
	prompt.Turns = append(prompt.Turns, Turn{
		Role:    RoleUser,
		Content: request + "\n\n" + s.prompts.Reminder,
	})
	return prompt
}

func (s *Synthesizer) history(ctx context.Context) string {
	if s.cfg.History == nil {
		return ""
	}
	h, err := s.cfg.History.Context(ctx)
	if err != nil {
		s.log.Warn("synth: failed to load feedback history, continuing without it", "error", err)
		return ""
	}
	return h
}

// StripCodeFences removes markdown code-fence markup from a model response. When
// the response contains a fenced block, the first block's body is returned;
// otherwise stray fence lines at either end are dropped.
func StripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if start := strings.Index(text, "```"); start != -1 {
		body := text[start+3:]
		// Drop the info string, e.g. "python".
		if nl := strings.IndexByte(body, '\n'); nl != -1 {
			body = body[nl+1:]
		} else {
			body = ""
		}
		if end := fenceClose(body); end != -1 {
			return strings.TrimSpace(body[:end])
		}
		// Unterminated fence: keep everything after the opening line.
		return strings.TrimSpace(body)
	}
	return text
}

// fenceClose finds a closing fence at the start of a line.
func fenceClose(body string) int {
	if strings.HasPrefix(body, "```") {
		return 0
	}
	if i := strings.Index(body, "\n```"); i != -1 {
		return i + 1
	}
	return -1
}
