package feedback

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is a user's three-way judgement of a published chart.
type Verdict string

const (
	VerdictYes      Verdict = "yes"
	VerdictNo       Verdict = "no"
	VerdictDontKnow Verdict = "dont_know"
)

// ActionIDPrefix prefixes the interactive button action ids, e.g. feedback_yes.
const ActionIDPrefix = "feedback_"

// Verdicts lists the verdicts in the order their buttons are shown.
var Verdicts = []Verdict{VerdictYes, VerdictNo, VerdictDontKnow}

// ParseVerdict validates a verdict value.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(s); v {
	case VerdictYes, VerdictNo, VerdictDontKnow:
		return v, nil
	default:
		return "", fmt.Errorf("unknown verdict %q", s)
	}
}

// VerdictFromActionID maps a button action id such as feedback_no to its verdict.
func VerdictFromActionID(actionID string) (Verdict, error) {
	rest, ok := strings.CutPrefix(actionID, ActionIDPrefix)
	if !ok {
		return "", fmt.Errorf("unknown feedback action %q", actionID)
	}
	return ParseVerdict(rest)
}

// ActionID returns the button action id for the verdict.
func (v Verdict) ActionID() string {
	return ActionIDPrefix + string(v)
}

// Label returns the button label for the verdict.
func (v Verdict) Label() string {
	switch v {
	case VerdictYes:
		return "Yes"
	case VerdictNo:
		return "No"
	case VerdictDontKnow:
		return "Don't Know"
	default:
		return string(v)
	}
}

// Record is one entry of the feedback log. The first four fields are the
// historical file format and are always written.
type Record struct {
	UserInput      string  `json:"user_input"`
	GeneratedCode  string  `json:"generated_code"`
	Feedback       Verdict `json:"feedback"`
	DetailedPrompt *string `json:"detailed_prompt"`

	RequestID  string     `json:"request_id,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// rawRecord is used when reading the log so that missing keys can be told apart
// from empty values.
type rawRecord struct {
	UserInput      *string    `json:"user_input"`
	GeneratedCode  *string    `json:"generated_code"`
	Feedback       *string    `json:"feedback"`
	DetailedPrompt *string    `json:"detailed_prompt"`
	RequestID      string     `json:"request_id"`
	UserID         string     `json:"user_id"`
	RecordedAt     *time.Time `json:"recorded_at"`
}

func (r rawRecord) record() (Record, error) {
	if r.UserInput == nil || r.GeneratedCode == nil {
		return Record{}, fmt.Errorf("entry is missing user_input or generated_code")
	}
	rec := Record{
		UserInput:      *r.UserInput,
		GeneratedCode:  *r.GeneratedCode,
		DetailedPrompt: r.DetailedPrompt,
		RequestID:      r.RequestID,
		UserID:         r.UserID,
		RecordedAt:     r.RecordedAt,
	}
	if r.Feedback != nil {
		v, err := ParseVerdict(*r.Feedback)
		if err != nil {
			return Record{}, err
		}
		rec.Feedback = v
	}
	return rec, nil
}
