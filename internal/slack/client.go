package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/slack-go/slack"
)

const (
	processingReaction = "hourglass_flowing_sand"
	defaultMaxTries    = 4
)

// API is the subset of the Slack Web API the bot uses.
type API interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
}

// Client wraps the Slack API with rate-limit retries and bot identity.
type Client struct {
	api       API
	raw       *slack.Client
	log       *slog.Logger
	botUserID string

	maxTries     uint
	initialDelay time.Duration
}

// NewClient creates a Slack client for the bot token; appToken is only needed in
// socket mode.
func NewClient(botToken, appToken string, log *slog.Logger) *Client {
	var opts []slack.Option
	if appToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(appToken))
	}
	raw := slack.New(botToken, opts...)
	c := NewClientWithAPI(raw, log)
	c.raw = raw
	return c
}

// NewClientWithAPI wraps an arbitrary API implementation.
func NewClientWithAPI(api API, log *slog.Logger) *Client {
	return &Client{
		api:          api,
		log:          log,
		maxTries:     defaultMaxTries,
		initialDelay: 500 * time.Millisecond,
	}
}

// API returns the underlying *slack.Client, or nil when the client wraps a custom API.
func (c *Client) API() *slack.Client { return c.raw }

func (c *Client) BotUserID() string { return c.botUserID }

// Initialize resolves the bot's own user ID.
func (c *Client) Initialize(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("auth test failed: %w", err)
	}
	c.botUserID = resp.UserID
	c.log.Info("slack auth ok", "bot_user_id", resp.UserID, "team", resp.Team)
	return resp.UserID, nil
}

// PostMessage posts text (and optional blocks) into a thread.
func (c *Client) PostMessage(ctx context.Context, channel, text string, blocks []slack.Block, threadTS string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	ts, err := withRateLimitRetry(ctx, c, "post_message", func() (string, error) {
		_, ts, err := c.api.PostMessageContext(ctx, channel, opts...)
		return ts, err
	})
	if err != nil {
		SlackAPIErrorsTotal.WithLabelValues("post_message").Inc()
		return "", fmt.Errorf("failed to post message: %w", err)
	}
	return ts, nil
}

// UploadFile uploads data, retrying while Slack rate limits the call. Each attempt
// reads data from the start.
func (c *Client) UploadFile(ctx context.Context, params slack.UploadFileV2Parameters, data []byte) error {
	params.FileSize = len(data)
	_, err := withRateLimitRetry(ctx, c, "upload_file", func() (*slack.FileSummary, error) {
		attempt := params
		attempt.Reader = bytes.NewReader(data)
		return c.api.UploadFileV2Context(ctx, attempt)
	})
	if err != nil {
		SlackAPIErrorsTotal.WithLabelValues("upload_file").Inc()
		return fmt.Errorf("failed to upload file: %w", err)
	}
	return nil
}

// AddProcessingReaction marks a message as being worked on.
func (c *Client) AddProcessingReaction(ctx context.Context, channel, ts string) error {
	if err := c.api.AddReactionContext(ctx, processingReaction, slack.NewRefToMessage(channel, ts)); err != nil {
		if !strings.Contains(err.Error(), "already_reacted") {
			c.log.Debug("failed to add processing reaction", "channel", channel, "ts", ts, "error", err)
			SlackAPIErrorsTotal.WithLabelValues("add_reaction").Inc()
			return err
		}
	}
	return nil
}

// RemoveProcessingReaction clears the marker added by AddProcessingReaction.
func (c *Client) RemoveProcessingReaction(ctx context.Context, channel, ts string) error {
	if err := c.api.RemoveReactionContext(ctx, processingReaction, slack.NewRefToMessage(channel, ts)); err != nil {
		if !strings.Contains(err.Error(), "no_reaction") {
			c.log.Debug("failed to remove processing reaction", "channel", channel, "ts", ts, "error", err)
			SlackAPIErrorsTotal.WithLabelValues("remove_reaction").Inc()
			return err
		}
	}
	return nil
}

var mentionRegex = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)

// RemoveBotMention strips mentions of the bot from text.
func (c *Client) RemoveBotMention(text string) string {
	if c.botUserID == "" {
		return strings.TrimSpace(text)
	}
	text = mentionRegex.ReplaceAllStringFunc(text, func(m string) string {
		if sub := mentionRegex.FindStringSubmatch(m); len(sub) > 1 && sub[1] == c.botUserID {
			return ""
		}
		return m
	})
	return strings.Join(strings.Fields(text), " ")
}

// withRateLimitRetry retries op only while Slack answers with a rate-limit error,
// honouring Retry-After. Any other error is returned immediately.
func withRateLimitRetry[T any](ctx context.Context, c *Client, operation string, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialDelay

	var lastErr error
	res, err := backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err == nil {
			return res, nil
		}
		lastErr = err
		var rl *slack.RateLimitedError
		if errors.As(err, &rl) {
			SlackRateLimitedTotal.WithLabelValues(operation).Inc()
			c.log.Warn("slack rate limited, retrying", "operation", operation, "retry_after", rl.RetryAfter)
			return res, backoff.RetryAfter(int(rl.RetryAfter.Seconds()))
		}
		return res, backoff.Permanent(err)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxTries))

	// Out of tries: surface the rate-limit error rather than the retry marker.
	var retryAfter *backoff.RetryAfterError
	if errors.As(err, &retryAfter) {
		err = lastErr
	}
	return res, err
}
