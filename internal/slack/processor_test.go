package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/chartbot/internal/pipeline"
	"github.com/malbeclabs/chartbot/internal/sandbox"
)

func newTestProcessor(t *testing.T, api *fakeAPI, pl *fakePipeline, queueSize int) *Processor {
	t.Helper()
	client := newTestClient(api)
	_, err := client.Initialize(context.Background())
	require.NoError(t, err)

	p, err := NewProcessor(context.Background(), ProcessorConfig{
		Logger:    testLogger(),
		Client:    client,
		Pipeline:  pl,
		Budget:    2 * time.Minute,
		QueueSize: queueSize,
	})
	require.NoError(t, err)
	return p
}

func messageEvent(ts, text string) *slackevents.MessageEvent {
	return &slackevents.MessageEvent{
		Type:        "message",
		Channel:     "C1",
		User:        "U1",
		Text:        text,
		TimeStamp:   ts,
		ClientMsgID: "msg-" + ts,
	}
}

func postsContaining(api *fakeAPI, substr string) int {
	n := 0
	for _, p := range api.Posts() {
		if strings.Contains(p.Text, substr) {
			n++
		}
	}
	return n
}

func TestChartbot_Slack_Processor_PublishesSuccessfulRequest(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{botUserID: "UBOT"}
	pl := newFakePipeline()
	p := newTestProcessor(t, api, pl, 1)

	require.NoError(t, p.Submit(context.Background(), messageEvent("100.1", "<@UBOT> average price by platform"), "ev1"))
	p.Wait()

	runs := pl.Runs()
	require.Len(t, runs, 1)
	require.Equal(t, "average price by platform", runs[0].Text)
	require.Equal(t, "100.1", runs[0].ThreadTS)
	require.Equal(t, "U1", runs[0].UserID)

	uploads := api.Uploads()
	require.Len(t, uploads, 1)
	require.Equal(t, ChartTitle, uploads[0].Params.Title)
	require.Equal(t, "100.1", uploads[0].Params.ThreadTimestamp)

	posts := api.Posts()
	require.Len(t, posts, 1)
	require.Equal(t, "100.1", posts[0].ThreadTS)
	for _, b := range decodeButtons(t, posts[0].Blocks) {
		require.Equal(t, runs[0].ID, b.Value)
	}

	require.Equal(t, []string{processingReaction + "@100.1"}, api.Removed())
	require.Equal(t, 0, p.Pending())
}

func TestChartbot_Slack_Processor_RepliesInExistingThread(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	pl := newFakePipeline()
	p := newTestProcessor(t, api, pl, 1)

	ev := messageEvent("200.2", "plot calls")
	ev.ThreadTimeStamp = "199.9"
	require.NoError(t, p.Submit(context.Background(), ev, "ev"))
	p.Wait()

	require.Equal(t, "199.9", api.Uploads()[0].Params.ThreadTimestamp)
	require.Equal(t, "199.9", api.Posts()[0].ThreadTS)
}

func TestChartbot_Slack_Processor_RepliesWhenPublishFails(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{uploadErrs: []error{errors.New("invalid_auth")}}
	pl := newFakePipeline()
	p := newTestProcessor(t, api, pl, 1)

	require.NoError(t, p.Submit(context.Background(), messageEvent("300.3", "plot revenue"), "ev"))
	p.Wait()

	require.Empty(t, api.Uploads())
	posts := api.Posts()
	require.Len(t, posts, 1)
	require.Equal(t, PublishFailureMessage, posts[0].Text)
	require.Equal(t, "300.3", posts[0].ThreadTS)
	require.Empty(t, posts[0].Blocks, "no feedback buttons for an unpublished chart")
}

func TestChartbot_Slack_Processor_OutcomeReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		result   func(req pipeline.Request) (*pipeline.Result, error)
		contains string
	}{
		{
			name: "synthesis failure",
			result: func(pipeline.Request) (*pipeline.Result, error) {
				return nil, fmt.Errorf("%w: boom", pipeline.ErrSynthesis)
			},
			contains: "couldn't generate analysis code",
		},
		{
			name: "timeout",
			result: func(req pipeline.Request) (*pipeline.Result, error) {
				return &pipeline.Result{Request: req, Outcome: &sandbox.Outcome{Status: sandbox.StatusTimeout, Err: sandbox.ErrTimeout}}, nil
			},
			contains: "took longer than 2m0s",
		},
		{
			name: "runtime failure",
			result: func(req pipeline.Request) (*pipeline.Result, error) {
				return &pipeline.Result{Request: req, Outcome: &sandbox.Outcome{
					Status: sandbox.StatusFailure,
					Err:    &sandbox.ExecutionError{Message: "ZeroDivisionError: division by zero", ExitCode: 1},
				}}, nil
			},
			contains: "ZeroDivisionError",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := &fakeAPI{}
			pl := newFakePipeline()
			pl.result = tt.result
			p := newTestProcessor(t, api, pl, 1)

			require.NoError(t, p.Submit(context.Background(), messageEvent("1.1", "plot"), "ev"))
			p.Wait()

			require.Empty(t, api.Uploads())
			posts := api.Posts()
			require.Len(t, posts, 1)
			require.Contains(t, posts[0].Text, tt.contains)
			require.Empty(t, posts[0].Blocks, "no feedback prompt for unsuccessful requests")
		})
	}
}

func TestChartbot_Slack_Processor_RejectsWhenBusy(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	pl := newFakePipeline()
	pl.gate = make(chan struct{})
	p := newTestProcessor(t, api, pl, 0)

	require.NoError(t, p.Submit(context.Background(), messageEvent("1.1", "first"), "ev1"))
	<-pl.started

	err := p.Submit(context.Background(), messageEvent("2.2", "second"), "ev2")
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, 1, postsContaining(api, "busy"))
	require.Equal(t, 1, p.Pending())

	close(pl.gate)
	p.Wait()
	require.Len(t, pl.Runs(), 1)
}

func TestChartbot_Slack_Processor_QueuesThenRejects(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	pl := newFakePipeline()
	pl.gate = make(chan struct{})
	p := newTestProcessor(t, api, pl, 1)

	require.NoError(t, p.Submit(context.Background(), messageEvent("1.1", "first"), "ev1"))
	<-pl.started
	require.NoError(t, p.Submit(context.Background(), messageEvent("2.2", "second"), "ev2"))
	require.Equal(t, 1, postsContaining(api, "queued behind 1"))

	require.ErrorIs(t, p.Submit(context.Background(), messageEvent("3.3", "third"), "ev3"), ErrBusy)
	require.Equal(t, 2, p.Pending())

	close(pl.gate)
	p.Wait()

	runs := pl.Runs()
	require.Len(t, runs, 2)
	require.Equal(t, "first", runs[0].Text)
	require.Equal(t, "second", runs[1].Text)
}

func TestChartbot_Slack_Processor_SkipsAlreadyRespondedMessage(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	pl := newFakePipeline()
	p := newTestProcessor(t, api, pl, 1)

	ev := messageEvent("1.1", "plot")
	require.NoError(t, p.Submit(context.Background(), ev, "ev1"))
	require.NoError(t, p.Submit(context.Background(), ev, "ev1-retry"))
	p.Wait()
	require.Len(t, pl.Runs(), 1)
	require.True(t, p.HasResponded("C1:1.1"))
}

func TestChartbot_Slack_Processor_HandleFeedback(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	pl := newFakePipeline()
	p := newTestProcessor(t, api, pl, 1)

	require.NoError(t, p.Submit(context.Background(), messageEvent("1.1", "plot"), "ev1"))
	p.Wait()
	reqID := pl.Runs()[0].ID

	ctx := context.Background()
	require.NoError(t, p.HandleFeedback(ctx, "feedback_no", reqID, "U9", "C1", "1.1"))
	require.Equal(t, []vote{{RequestID: reqID, UserID: "U9", Verdict: "no"}}, pl.Votes())
	require.Equal(t, 1, postsContaining(api, ThanksMessage))

	require.Error(t, p.HandleFeedback(ctx, "feedback_maybe", reqID, "U9", "C1", "1.1"))

	err := p.HandleFeedback(ctx, "feedback_yes", "req-unknown", "U9", "C1", "1.1")
	require.True(t, errors.Is(err, pipeline.ErrUnknownRequest))
	require.Equal(t, 1, postsContaining(api, "no longer have that request"))
	require.Len(t, pl.Votes(), 1)
}

func TestChartbot_Slack_Processor_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	pl := newFakePipeline()
	pl.result = func(pipeline.Request) (*pipeline.Result, error) { panic("kaboom") }
	p := newTestProcessor(t, api, pl, 1)

	require.NoError(t, p.Submit(context.Background(), messageEvent("1.1", "plot"), "ev1"))
	p.Wait()
	require.Equal(t, 1, postsContaining(api, "Sorry, I encountered an error"))
	require.Equal(t, 0, p.Pending())
}

func TestChartbot_Slack_IgnoreReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(ev *slackevents.MessageEvent)
		want   string
	}{
		{name: "user message", mutate: func(*slackevents.MessageEvent) {}, want: ""},
		{name: "edited", mutate: func(ev *slackevents.MessageEvent) { ev.SubType = "message_changed" }, want: "subtype"},
		{name: "bot id", mutate: func(ev *slackevents.MessageEvent) { ev.BotID = "B1" }, want: "bot"},
		{name: "own user", mutate: func(ev *slackevents.MessageEvent) { ev.User = "UBOT" }, want: "bot"},
		{name: "no client msg id", mutate: func(ev *slackevents.MessageEvent) { ev.ClientMsgID = "" }, want: "no_client_msg_id"},
		{name: "blank", mutate: func(ev *slackevents.MessageEvent) { ev.Text = "  " }, want: "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := messageEvent("1.1", "plot")
			tt.mutate(ev)
			require.Equal(t, tt.want, ignoreReason(ev, "UBOT"))
		})
	}
}
