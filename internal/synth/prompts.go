package synth

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/chartbot/internal/synth/prompts"
)

const dialectPlaceholder = "{{DIALECT}}"

// Prompts contains the synthesis prompts loaded from embedded files.
type Prompts struct {
	System   string // Instructions pinning the runtime, rules and output contract
	Reminder string // Appended to every user request
}

// WithDialect returns a copy with the SQL dialect filled in.
func (p *Prompts) WithDialect(dialect string) *Prompts {
	return &Prompts{
		System:   strings.ReplaceAll(p.System, dialectPlaceholder, dialect),
		Reminder: strings.ReplaceAll(p.Reminder, dialectPlaceholder, dialect),
	}
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.System, err = loadPrompt("SYSTEM.md"); err != nil {
		return nil, fmt.Errorf("failed to load SYSTEM: %w", err)
	}
	if p.Reminder, err = loadPrompt("REMINDER.md"); err != nil {
		return nil, fmt.Errorf("failed to load REMINDER: %w", err)
	}
	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.FS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
