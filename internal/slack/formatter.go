package slack

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	slackutil "github.com/takara2314/slack-go-util"

	"github.com/malbeclabs/chartbot/internal/sandbox"
)

const maxErrorDetail = 300

// ConvertMarkdownToBlocks converts markdown text to Slack blocks. It returns nil when
// the text cannot be converted; callers fall back to a plain mrkdwn section.
func ConvertMarkdownToBlocks(text string, log *slog.Logger) []slack.Block {
	convertedBlocks, err := slackutil.ConvertMarkdownTextToBlocks(text)
	if err != nil {
		log.Debug("failed to convert markdown to blocks, using plain text", "error", err)
		return nil
	}
	return SetExpandOnSectionBlocks(convertedBlocks)
}

// SetExpandOnSectionBlocks sets expand=true on section blocks so long explanations
// are not collapsed behind "see more". Multi-paragraph sections are split into one
// section per paragraph unless they contain code.
func SetExpandOnSectionBlocks(blocks []slack.Block) []slack.Block {
	if blocks == nil {
		return nil
	}

	result := make([]slack.Block, 0, len(blocks))
	for _, block := range blocks {
		section, ok := block.(*slack.SectionBlock)
		if !ok {
			result = append(result, block)
			continue
		}

		if section.Text == nil || strings.Contains(section.Text.Text, "```") || !strings.Contains(section.Text.Text, "\n\n") {
			expanded := *section
			expanded.Expand = true
			result = append(result, &expanded)
			continue
		}

		for _, para := range splitIntoParagraphs(section.Text.Text) {
			result = append(result, &slack.SectionBlock{
				Type:    section.Type,
				Text:    slack.NewTextBlockObject(section.Text.Type, para, false, false),
				BlockID: section.BlockID,
				Expand:  true,
			})
		}
	}
	return result
}

// splitIntoParagraphs splits text on blank lines, dropping empty paragraphs.
func splitIntoParagraphs(text string) []string {
	var paragraphs []string
	for _, para := range strings.Split(text, "\n\n") {
		if para = strings.TrimSpace(para); para != "" {
			paragraphs = append(paragraphs, para)
		}
	}
	if len(paragraphs) == 0 {
		return []string{text}
	}
	return paragraphs
}

// SanitizeErrorMessage converts raw error messages to user-friendly messages
func SanitizeErrorMessage(errMsg string) string {
	lower := strings.ToLower(errMsg)

	if strings.Contains(errMsg, "429") || strings.Contains(lower, "rate_limit_error") || strings.Contains(lower, "rate limit") {
		return "I'm currently experiencing high demand. Please try again in a moment."
	}
	if strings.Contains(errMsg, "529") || strings.Contains(lower, "overloaded") {
		return "The language model is overloaded right now. Please try again in a moment."
	}
	if strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "broken pipe") ||
		strings.Contains(errMsg, "EOF") {
		return "I'm having trouble reaching the language model. Please try again in a moment."
	}
	if strings.Contains(lower, "context deadline exceeded") || strings.Contains(lower, "context canceled") {
		return "The request was interrupted before it finished. Please try again."
	}

	// Remove internal details like Request-IDs, URLs, etc.
	var cleanLines []string
	for _, line := range strings.Split(errMsg, "\n") {
		if strings.Contains(line, "Request-ID:") ||
			strings.Contains(line, "https://") ||
			strings.Contains(line, `"type":"error"`) ||
			strings.Contains(line, "POST \"") {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cleanLines = append(cleanLines, strings.TrimSpace(line))
	}
	if len(cleanLines) > 0 {
		return "Sorry, I encountered an error: " + TruncateString(strings.Join(cleanLines, " "), maxErrorDetail)
	}
	return "Sorry, I encountered an error. Please try again."
}

// SynthesisFailureMessage is the reply when no program could be generated.
func SynthesisFailureMessage(err error) string {
	return "Sorry, I couldn't generate analysis code for that request. " + SanitizeErrorMessage(err.Error())
}

// PublishFailureMessage is the reply when the chart was produced but could not be
// posted.
const PublishFailureMessage = "Sorry, something went wrong while posting the chart. Please try again."

// OutcomeMessage is the reply for an execution that did not succeed.
func OutcomeMessage(out *sandbox.Outcome, budget time.Duration) string {
	if out == nil {
		return "Sorry, I encountered an error. Please try again."
	}
	switch out.Status {
	case sandbox.StatusTimeout:
		return fmt.Sprintf("The analysis took longer than %s and was stopped. Try narrowing your question.", budget)
	case sandbox.StatusSuccess:
		return ""
	}

	if errors.Is(out.Err, sandbox.ErrNoChart) {
		return "The analysis finished without producing a chart. Try asking for a specific plot."
	}
	var execErr *sandbox.ExecutionError
	if errors.As(out.Err, &execErr) && execErr.Message != "" {
		return fmt.Sprintf("The generated analysis failed to run: `%s`\nTry rephrasing your question.", TruncateString(execErr.Message, maxErrorDetail))
	}
	return "The generated analysis failed to run. Try rephrasing your question."
}

// TruncateString shortens s to at most maxLen runes, marking the cut with "...".
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
