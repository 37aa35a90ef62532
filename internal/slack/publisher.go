package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/slack-go/slack"

	"github.com/malbeclabs/chartbot/internal/feedback"
)

const (
	ChartTitle     = "Generated Plot"
	FeedbackPrompt = "Please provide feedback on the plot using the buttons below:"
	ThanksMessage  = "Thank you for your feedback! If you have any further questions, please don't hesitate to ask."

	feedbackBlockID = "feedback"
)

// PublishRequest is everything needed to post one successful analysis.
type PublishRequest struct {
	Channel     string
	ThreadTS    string
	RequestID   string
	Explanation string
	// Chart holds the PNG bytes; when empty the file at ChartPath is read.
	Chart     []byte
	ChartPath string
}

// Publisher posts charts with their explanation and feedback buttons.
type Publisher struct {
	client *Client
	log    *slog.Logger
}

func NewPublisher(client *Client, log *slog.Logger) *Publisher {
	return &Publisher{client: client, log: log}
}

// Publish uploads the chart and then posts the explanation with the feedback
// prompt. When the upload fails the prompt is not sent.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) error {
	if req.RequestID == "" {
		return errors.New("request id is required")
	}
	chart := req.Chart
	if len(chart) == 0 {
		data, err := os.ReadFile(req.ChartPath)
		if err != nil {
			return fmt.Errorf("failed to read chart: %w", err)
		}
		chart = data
	}
	if len(chart) == 0 {
		return errors.New("chart is empty")
	}

	filename := "plot.png"
	if req.ChartPath != "" {
		filename = filepath.Base(req.ChartPath)
	}
	err := p.client.UploadFile(ctx, slack.UploadFileV2Parameters{
		Filename:        filename,
		Title:           ChartTitle,
		Channel:         req.Channel,
		ThreadTimestamp: req.ThreadTS,
	}, chart)
	if err != nil {
		MessagesPostedTotal.WithLabelValues("chart", "error").Inc()
		return err
	}
	MessagesPostedTotal.WithLabelValues("chart", "success").Inc()

	blocks := FeedbackBlocks(req.Explanation, req.RequestID, p.log)
	if _, err := p.client.PostMessage(ctx, req.Channel, feedbackText(req.Explanation), blocks, req.ThreadTS); err != nil {
		MessagesPostedTotal.WithLabelValues("feedback_prompt", "error").Inc()
		return err
	}
	MessagesPostedTotal.WithLabelValues("feedback_prompt", "success").Inc()
	p.log.Info("published chart", "request_id", req.RequestID, "channel", req.Channel, "thread_ts", req.ThreadTS, "chart_bytes", len(chart))
	return nil
}

// FeedbackBlocks renders the explanation, the feedback prompt and one button per
// verdict. Every button carries the request ID so a vote resolves to its request.
func FeedbackBlocks(explanation, requestID string, log *slog.Logger) []slack.Block {
	var blocks []slack.Block
	if explanation = strings.TrimSpace(explanation); explanation != "" {
		blocks = ConvertMarkdownToBlocks(explanation, log)
		if len(blocks) == 0 {
			blocks = []slack.Block{slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, explanation, false, false), nil, nil,
			)}
		}
	}
	blocks = append(blocks, slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, FeedbackPrompt, false, false), nil, nil,
	))

	buttons := make([]slack.BlockElement, 0, len(feedback.Verdicts))
	for _, v := range feedback.Verdicts {
		buttons = append(buttons, slack.NewButtonBlockElement(
			v.ActionID(), requestID,
			slack.NewTextBlockObject(slack.PlainTextType, v.Label(), false, false),
		))
	}
	return append(blocks, slack.NewActionBlock(feedbackBlockID, buttons...))
}

func feedbackText(explanation string) string {
	if explanation = strings.TrimSpace(explanation); explanation == "" {
		return FeedbackPrompt
	}
	return explanation + "\n" + FeedbackPrompt
}
