package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/slack-go/slack/slackevents"

	"github.com/malbeclabs/chartbot/internal/feedback"
	"github.com/malbeclabs/chartbot/internal/pipeline"
)

const (
	respondedMessagesMaxAge = 1 * time.Hour

	busyMessage = "I'm busy with other requests right now. Please try again in a few minutes."
)

// ErrBusy is returned when a request arrives while the queue is full.
var ErrBusy = errors.New("all execution slots are taken")

// Pipeline is the request lifecycle the processor drives.
type Pipeline interface {
	NewRequest(text, channel, threadTS, userID string) pipeline.Request
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	RecordFeedback(ctx context.Context, requestID, userID string, verdict feedback.Verdict) error
}

type ProcessorConfig struct {
	Logger    *slog.Logger
	Client    *Client
	Publisher *Publisher
	Pipeline  Pipeline
	// Budget is quoted in timeout replies.
	Budget time.Duration
	// QueueSize is how many requests may wait while one is executing.
	QueueSize int
}

func (c *ProcessorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Client == nil {
		return errors.New("slack client is required")
	}
	if c.Pipeline == nil {
		return errors.New("pipeline is required")
	}
	if c.Publisher == nil {
		c.Publisher = NewPublisher(c.Client, c.Logger)
	}
	if c.QueueSize < 0 {
		return errors.New("queue size must not be negative")
	}
	return nil
}

// Processor admits analysis requests one at a time and replies in their thread.
type Processor struct {
	cfg         ProcessorConfig
	log         *slog.Logger
	slackClient *Client
	pool        pond.Pool

	// admitted counts running plus queued requests.
	admitted atomic.Int64

	// Track messages we've already responded to (by channel:ts) to prevent duplicate replies
	respondedMessages   map[string]time.Time
	respondedMessagesMu sync.RWMutex
}

// NewProcessor creates a processor whose single worker lives until ctx is done.
func NewProcessor(ctx context.Context, cfg ProcessorConfig) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processor config: %w", err)
	}
	return &Processor{
		cfg:               cfg,
		log:               cfg.Logger,
		slackClient:       cfg.Client,
		pool:              pond.NewPool(1, pond.WithContext(ctx)),
		respondedMessages: make(map[string]time.Time),
	}, nil
}

// StartCleanup starts a background goroutine to clean up old responded messages
func (p *Processor) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.cleanup()
			}
		}
	}()
}

func (p *Processor) cleanup() {
	now := time.Now()
	p.respondedMessagesMu.Lock()
	for key, ts := range p.respondedMessages {
		if now.Sub(ts) > respondedMessagesMaxAge {
			delete(p.respondedMessages, key)
		}
	}
	p.respondedMessagesMu.Unlock()
}

// HasResponded checks if we've already responded to a message
func (p *Processor) HasResponded(messageKey string) bool {
	p.respondedMessagesMu.RLock()
	_, ok := p.respondedMessages[messageKey]
	p.respondedMessagesMu.RUnlock()
	return ok
}

// MarkResponded marks a message as responded to
func (p *Processor) MarkResponded(messageKey string) {
	p.respondedMessagesMu.Lock()
	p.respondedMessages[messageKey] = time.Now()
	p.respondedMessagesMu.Unlock()
}

// Wait blocks until every admitted request has finished.
func (p *Processor) Wait() {
	p.pool.StopAndWait()
}

// Pending returns the number of running plus queued requests.
func (p *Processor) Pending() int {
	return int(p.admitted.Load())
}

// Submit admits a message for processing. It returns ErrBusy, after telling the
// user, when the queue is full.
func (p *Processor) Submit(ctx context.Context, ev *slackevents.MessageEvent, eventID string) error {
	messageKey := ev.Channel + ":" + ev.TimeStamp
	if p.HasResponded(messageKey) {
		p.log.Info("skipping already responded message", "message_key", messageKey, "event_id", eventID)
		return nil
	}
	p.MarkResponded(messageKey)

	text := p.slackClient.RemoveBotMention(ev.Text)
	threadTS := replyThread(ev)

	capacity := int64(1 + p.cfg.QueueSize)
	ahead := p.admitted.Add(1) - 1
	if ahead >= capacity {
		p.admitted.Add(-1)
		RequestsRejectedTotal.Inc()
		p.log.Warn("rejecting request, queue is full", "channel", ev.Channel, "user", ev.User, "pending", ahead)
		p.reply(ctx, ev.Channel, threadTS, "busy", busyMessage)
		return ErrBusy
	}
	QueueDepth.Set(float64(ahead))

	if ahead > 0 {
		p.reply(ctx, ev.Channel, threadTS, "queued",
			fmt.Sprintf("Your request is queued behind %d other request(s). I'll reply here when it's done.", ahead))
	}

	err := p.pool.Go(func() {
		defer func() {
			if n := p.admitted.Add(-1); n > 0 {
				QueueDepth.Set(float64(n - 1))
			} else {
				QueueDepth.Set(0)
			}
		}()
		p.process(ctx, ev, text, threadTS, eventID)
	})
	if err != nil {
		p.admitted.Add(-1)
		p.log.Error("failed to submit request", "error", err)
		return err
	}
	return nil
}

func (p *Processor) process(ctx context.Context, ev *slackevents.MessageEvent, text, threadTS, eventID string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic while processing request", "panic", r, "stack", string(debug.Stack()))
			RequestsTotal.WithLabelValues("panic").Inc()
			p.reply(ctx, ev.Channel, threadTS, "error", "Sorry, I encountered an error. Please try again.")
		}
		RequestProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	_ = p.slackClient.AddProcessingReaction(ctx, ev.Channel, ev.TimeStamp)
	defer func() {
		_ = p.slackClient.RemoveProcessingReaction(ctx, ev.Channel, ev.TimeStamp)
	}()

	req := p.cfg.Pipeline.NewRequest(text, ev.Channel, threadTS, ev.User)
	log := p.log.With("request_id", req.ID, "channel", ev.Channel, "user", ev.User, "event_id", eventID)
	log.Info("processing request", "text", TruncateString(text, 200))

	res, err := p.cfg.Pipeline.Run(ctx, req)
	if err != nil {
		RequestsTotal.WithLabelValues("synthesis_failure").Inc()
		log.Error("request failed", "error", err)
		p.reply(ctx, ev.Channel, threadTS, "error", SynthesisFailureMessage(err))
		return
	}

	if !res.Outcome.Succeeded() {
		RequestsTotal.WithLabelValues(string(res.Outcome.Status)).Inc()
		p.reply(ctx, ev.Channel, threadTS, "error", OutcomeMessage(res.Outcome, p.cfg.Budget))
		return
	}

	err = p.cfg.Publisher.Publish(ctx, PublishRequest{
		Channel:     ev.Channel,
		ThreadTS:    threadTS,
		RequestID:   req.ID,
		Explanation: res.Explanation,
		Chart:       res.Outcome.Chart,
		ChartPath:   res.Outcome.ChartPath,
	})
	if err != nil {
		RequestsTotal.WithLabelValues("publish_failure").Inc()
		log.Error("failed to publish chart", "error", err)
		p.reply(ctx, ev.Channel, threadTS, "error", PublishFailureMessage)
		return
	}
	RequestsTotal.WithLabelValues("success").Inc()
	log.Info("request completed", "duration", time.Since(start))
}

// HandleFeedback records a button press and thanks the user in the thread.
func (p *Processor) HandleFeedback(ctx context.Context, actionID, requestID, userID, channel, threadTS string) error {
	verdict, err := feedback.VerdictFromActionID(actionID)
	if err != nil {
		return err
	}
	if err := p.cfg.Pipeline.RecordFeedback(ctx, requestID, userID, verdict); err != nil {
		p.log.Warn("failed to record feedback", "request_id", requestID, "user", userID, "verdict", verdict, "error", err)
		if errors.Is(err, pipeline.ErrUnknownRequest) {
			p.reply(ctx, channel, threadTS, "feedback", "Sorry, I no longer have that request on record, so I couldn't save your feedback.")
		}
		return err
	}
	FeedbackTotal.WithLabelValues(string(verdict)).Inc()
	p.reply(ctx, channel, threadTS, "feedback", ThanksMessage)
	return nil
}

func (p *Processor) reply(ctx context.Context, channel, threadTS, kind, text string) {
	if _, err := p.slackClient.PostMessage(ctx, channel, text, nil, threadTS); err != nil {
		MessagesPostedTotal.WithLabelValues(kind, "error").Inc()
		p.log.Error("failed to post reply", "kind", kind, "channel", channel, "error", err)
		return
	}
	MessagesPostedTotal.WithLabelValues(kind, "success").Inc()
}

// replyThread threads replies under the request message, or under its thread root.
func replyThread(ev *slackevents.MessageEvent) string {
	if ev.ThreadTimeStamp != "" {
		return ev.ThreadTimeStamp
	}
	return ev.TimeStamp
}

// ignoreReason reports why a message event is not a user request, or "" if it is.
func ignoreReason(ev *slackevents.MessageEvent, botUserID string) string {
	switch {
	case ev.SubType != "":
		return "subtype"
	case ev.BotID != "" || (botUserID != "" && ev.User == botUserID):
		return "bot"
	case ev.ClientMsgID == "":
		return "no_client_msg_id"
	case strings.TrimSpace(ev.Text) == "":
		return "empty"
	}
	return ""
}
