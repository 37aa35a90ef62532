package synth

import "context"

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation sent to the model.
type Turn struct {
	Role    Role
	Content string
}

// Prompt is a complete model request: system blocks followed by ordered turns.
type Prompt struct {
	System []string
	Turns  []Turn
}

// CompleteOptions holds options for LLM completion.
type CompleteOptions struct {
	CacheSystemPrompt bool // Enable prompt caching for the first system block
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithCacheControl marks the first system block as cacheable. The static
// instructions are identical across requests, so repeated calls reuse the prefix.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// LLMClient is the interface for interacting with an LLM.
type LLMClient interface {
	// Complete sends the prompt in a single attempt and returns the response text.
	Complete(ctx context.Context, prompt Prompt, opts ...CompleteOption) (string, error)
}
