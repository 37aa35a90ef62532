package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultPath              = "context_log.json"
	DefaultMaxContextEntries = 50
)

// ErrCorruptLog is returned when the log file exists but is not a JSON array.
var ErrCorruptLog = errors.New("feedback log is not a JSON array")

// Config configures a feedback Log.
type Config struct {
	Logger *slog.Logger
	Path   string
	Clock  clockwork.Clock
	// MaxContextEntries caps how many of the most recent records are replayed
	// into prompts. Zero selects the default; negative means unlimited.
	MaxContextEntries int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxContextEntries == 0 {
		c.MaxContextEntries = DefaultMaxContextEntries
	}
	return nil
}

// Log is an append-only feedback log stored as a single JSON array. Appends are
// serialized within the process; concurrent writers in other processes are not
// coordinated.
type Log struct {
	cfg Config
	log *slog.Logger
	mu  sync.Mutex
}

func NewLog(cfg Config) (*Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feedback log config: %w", err)
	}
	return &Log{cfg: cfg, log: cfg.Logger}, nil
}

func (l *Log) Path() string { return l.cfg.Path }

// Append adds rec to the end of the log, rewriting the whole file. A missing file
// is treated as an empty log.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := ParseVerdict(string(rec.Feedback)); err != nil {
		return err
	}
	if rec.RecordedAt == nil {
		now := l.cfg.Clock.Now().UTC()
		rec.RecordedAt = &now
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readRaw()
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode feedback record: %w", err)
	}
	entries = append(entries, encoded)

	if err := l.write(entries); err != nil {
		return err
	}
	l.log.Debug("feedback: record appended", "request_id", rec.RequestID, "feedback", rec.Feedback, "entries", len(entries))
	return nil
}

// Records returns every well-formed record in the log. Malformed entries are
// skipped individually.
func (l *Log) Records(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	entries, err := l.readRaw()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(entries))
	for i, raw := range entries {
		var r rawRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			l.log.Warn("feedback: skipping malformed entry", "index", i, "error", err)
			continue
		}
		rec, err := r.record()
		if err != nil {
			l.log.Warn("feedback: skipping malformed entry", "index", i, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Context flattens the most recent records into the conversational history that
// is replayed into future prompts. A corrupt log yields an empty history.
func (l *Log) Context(ctx context.Context) (string, error) {
	records, err := l.Records(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptLog) {
			l.log.Warn("feedback: ignoring corrupt log for context", "path", l.cfg.Path, "error", err)
			return "", nil
		}
		return "", err
	}
	if n := l.cfg.MaxContextEntries; n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return FormatContext(records), nil
}

// FormatContext renders records as "User: ...\nAssistant: ...,\n" turns, adding the
// user's extra detail for negative verdicts.
func FormatContext(records []Record) string {
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s,\n", rec.UserInput, rec.GeneratedCode)
		if rec.Feedback == VerdictNo && rec.DetailedPrompt != nil && *rec.DetailedPrompt != "" {
			fmt.Fprintf(&b, "User provided more details: %s\n", *rec.DetailedPrompt)
		}
	}
	return b.String()
}

func (l *Log) readRaw() ([]json.RawMessage, error) {
	data, err := os.ReadFile(l.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read feedback log: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptLog, l.cfg.Path, err)
	}
	return entries, nil
}

// write replaces the log file atomically.
func (l *Log) write(entries []json.RawMessage) error {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode feedback log: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(l.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create feedback log directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".feedback-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp feedback log: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write feedback log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close feedback log: %w", err)
	}
	if err := os.Rename(tmpName, l.cfg.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace feedback log: %w", err)
	}
	return nil
}
