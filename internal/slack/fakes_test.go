package slack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/malbeclabs/chartbot/internal/feedback"
	"github.com/malbeclabs/chartbot/internal/pipeline"
	"github.com/malbeclabs/chartbot/internal/sandbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type postedMessage struct {
	Channel  string
	Text     string
	ThreadTS string
	Blocks   string
}

type uploadedFile struct {
	Params slack.UploadFileV2Parameters
	Data   []byte
}

// fakeAPI records Slack calls. Queued errors are returned one per call before
// calls start succeeding.
type fakeAPI struct {
	mu         sync.Mutex
	botUserID  string
	posts      []postedMessage
	uploads    []uploadedFile
	added      []string
	removed    []string
	postErrs   []error
	uploadErrs []error
	postCalls  int
	upCalls    int
	attempts   [][]byte
}

func (f *fakeAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: f.botUserID, Team: "test"}, nil
}

func (f *fakeAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	if len(f.postErrs) > 0 {
		err := f.postErrs[0]
		f.postErrs = f.postErrs[1:]
		return "", "", err
	}
	_, values, err := slack.UnsafeApplyMsgOptions("xoxb-test", channelID, "https://slack.test/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.posts = append(f.posts, postedMessage{
		Channel:  channelID,
		Text:     values.Get("text"),
		ThreadTS: values.Get("thread_ts"),
		Blocks:   values.Get("blocks"),
	})
	return channelID, fmt.Sprintf("1700000000.%06d", len(f.posts)), nil
}

func (f *fakeAPI) UploadFileV2Context(_ context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upCalls++
	// The real client streams the body before completing the upload, so a failed
	// completion has already drained the reader.
	data, err := io.ReadAll(params.Reader)
	if err != nil {
		return nil, err
	}
	f.attempts = append(f.attempts, data)
	if len(f.uploadErrs) > 0 {
		err := f.uploadErrs[0]
		f.uploadErrs = f.uploadErrs[1:]
		return nil, err
	}
	f.uploads = append(f.uploads, uploadedFile{Params: params, Data: data})
	return &slack.FileSummary{ID: "F1", Title: params.Title}, nil
}

func (f *fakeAPI) AddReactionContext(_ context.Context, name string, item slack.ItemRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, name+"@"+item.Timestamp)
	return nil
}

func (f *fakeAPI) RemoveReactionContext(_ context.Context, name string, item slack.ItemRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name+"@"+item.Timestamp)
	return nil
}

func (f *fakeAPI) Posts() []postedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postedMessage(nil), f.posts...)
}

func (f *fakeAPI) Uploads() []uploadedFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uploadedFile(nil), f.uploads...)
}

func (f *fakeAPI) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func newTestClient(api *fakeAPI) *Client {
	c := NewClientWithAPI(api, testLogger())
	c.initialDelay = time.Millisecond
	return c
}

type vote struct {
	RequestID string
	UserID    string
	Verdict   feedback.Verdict
}

// fakePipeline returns a canned result per request. When gate is set, Run blocks
// until it is closed.
type fakePipeline struct {
	mu      sync.Mutex
	seq     int
	gate    chan struct{}
	started chan string
	result  func(req pipeline.Request) (*pipeline.Result, error)
	runs    []pipeline.Request
	votes   []vote
	known   map[string]bool
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		started: make(chan string, 16),
		known:   map[string]bool{},
		result: func(req pipeline.Request) (*pipeline.Result, error) {
			return &pipeline.Result{
				Request:     req,
				Program:     "print('Average price by platform')",
				Explanation: "Average price by platform",
				Outcome: &sandbox.Outcome{
					Status:    sandbox.StatusSuccess,
					Chart:     []byte("PNGDATA"),
					ChartPath: "/tmp/chartbot/plot.png",
				},
			}, nil
		},
	}
}

func (f *fakePipeline) NewRequest(text, channel, threadTS, userID string) pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return pipeline.Request{
		ID:       fmt.Sprintf("req-%d", f.seq),
		Text:     text,
		Channel:  channel,
		ThreadTS: threadTS,
		UserID:   userID,
	}
}

func (f *fakePipeline) Run(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	gate := f.gate
	f.mu.Unlock()

	f.started <- req.ID
	if gate != nil {
		<-gate
	}
	res, err := f.result(req)
	if err == nil && res.Outcome.Succeeded() {
		f.mu.Lock()
		f.known[req.ID] = true
		f.mu.Unlock()
	}
	return res, err
}

func (f *fakePipeline) RecordFeedback(_ context.Context, requestID, userID string, verdict feedback.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[requestID] {
		return errors.Join(pipeline.ErrUnknownRequest, errors.New(requestID))
	}
	f.votes = append(f.votes, vote{RequestID: requestID, UserID: userID, Verdict: verdict})
	return nil
}

func (f *fakePipeline) Runs() []pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Request(nil), f.runs...)
}

func (f *fakePipeline) Votes() []vote {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vote(nil), f.votes...)
}
