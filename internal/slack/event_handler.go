package slack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const processedEventsMaxAge = 1 * time.Hour

// EventHandler receives Slack events and interactions over socket mode or HTTP
// and dispatches them to the processor.
type EventHandler struct {
	ctx           context.Context
	client        *Client
	processor     *Processor
	log           *slog.Logger
	signingSecret string

	processedEvents   map[string]time.Time
	processedEventsMu sync.Mutex

	stopped  atomic.Bool
	inFlight sync.WaitGroup
}

// NewEventHandler creates an event handler. ctx bounds the work started for events.
func NewEventHandler(ctx context.Context, client *Client, processor *Processor, signingSecret string, log *slog.Logger) *EventHandler {
	return &EventHandler{
		ctx:             ctx,
		client:          client,
		processor:       processor,
		log:             log,
		signingSecret:   signingSecret,
		processedEvents: make(map[string]time.Time),
	}
}

// StartCleanup periodically forgets processed event IDs.
func (h *EventHandler) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				h.processedEventsMu.Lock()
				for id, ts := range h.processedEvents {
					if now.Sub(ts) > processedEventsMaxAge {
						delete(h.processedEvents, id)
					}
				}
				h.processedEventsMu.Unlock()
			}
		}
	}()
}

// StopAcceptingNew stops dispatching new events and returns a function that
// blocks until in-flight work has drained.
func (h *EventHandler) StopAcceptingNew() func() {
	h.stopped.Store(true)
	return func() {
		h.inFlight.Wait()
		h.processor.Wait()
	}
}

// markProcessed records id and reports whether it was new.
func (h *EventHandler) markProcessed(id string) bool {
	if id == "" {
		return true
	}
	h.processedEventsMu.Lock()
	defer h.processedEventsMu.Unlock()
	if _, ok := h.processedEvents[id]; ok {
		EventsDuplicateTotal.Inc()
		return false
	}
	h.processedEvents[id] = time.Now()
	return true
}

// HandleSocketMode consumes socket mode events until ctx is done.
func (h *EventHandler) HandleSocketMode(ctx context.Context, client *socketmode.Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-client.Events:
			if !ok {
				return nil
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				h.log.Info("socketmode: connecting")
			case socketmode.EventTypeConnected:
				h.log.Info("socketmode: connected")
			case socketmode.EventTypeConnectionError:
				h.log.Error("socketmode: connection error", "error", evt.Data)
			case socketmode.EventTypeEventsAPI:
				e, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok || evt.Request == nil {
					continue
				}
				client.Ack(*evt.Request)
				if evt.Request.RetryAttempt > 0 {
					h.log.Info("processing retried event", "envelope_id", evt.Request.EnvelopeID, "retry_attempt", evt.Request.RetryAttempt, "retry_reason", evt.Request.RetryReason)
				}
				h.dispatchEvent(e, evt.Request.EnvelopeID)
			case socketmode.EventTypeInteractive:
				cb, ok := evt.Data.(slack.InteractionCallback)
				if !ok || evt.Request == nil {
					continue
				}
				client.Ack(*evt.Request)
				h.dispatchInteraction(cb, evt.Request.EnvelopeID)
			}
		}
	}
}

// HandleEvents serves the Events API endpoint.
func (h *EventHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verifiedBody(w, r)
	if !ok {
		return
	}

	// Handle URL verification challenge
	var challenge struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &challenge); err == nil && challenge.Type == slackevents.URLVerification {
		h.log.Info("responding to URL verification challenge")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge.Challenge))
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		h.log.Error("failed to parse event", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	eventID := bodyHash(body)
	if cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok && cb.EventID != "" {
		eventID = cb.EventID
	}

	// Respond quickly to Slack (within 3 seconds)
	w.WriteHeader(http.StatusOK)
	h.dispatchEvent(event, eventID)
}

// HandleActions serves the interactivity endpoint that receives button presses.
func (h *EventHandler) HandleActions(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verifiedBody(w, r)
	if !ok {
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil || form.Get("payload") == "" {
		h.log.Error("invalid interaction payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(form.Get("payload")), &cb); err != nil {
		h.log.Error("failed to parse interaction payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	h.dispatchInteraction(cb, bodyHash(body))
}

func (h *EventHandler) verifiedBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.Error("failed to read request body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	verifier, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
	if err == nil {
		_, _ = verifier.Write(body)
		err = verifier.Ensure()
	}
	if err != nil {
		h.log.Warn("invalid Slack signature", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

func (h *EventHandler) dispatchEvent(e slackevents.EventsAPIEvent, eventID string) {
	EventsReceivedTotal.WithLabelValues(e.Type, e.InnerEvent.Type).Inc()
	if e.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := e.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if reason := ignoreReason(ev, h.client.BotUserID()); reason != "" {
		MessagesIgnoredTotal.WithLabelValues(reason).Inc()
		h.log.Debug("ignoring message", "reason", reason, "channel", ev.Channel, "ts", ev.TimeStamp)
		return
	}
	if !h.markProcessed(eventID) {
		h.log.Info("skipping duplicate event", "event_id", eventID)
		return
	}
	h.spawn(func(ctx context.Context) {
		_ = h.processor.Submit(ctx, ev, eventID)
	})
}

func (h *EventHandler) dispatchInteraction(cb slack.InteractionCallback, id string) {
	EventsReceivedTotal.WithLabelValues("interactive", string(cb.Type)).Inc()
	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	if !h.markProcessed(id) {
		h.log.Info("skipping duplicate interaction", "id", id)
		return
	}

	threadTS := cb.Message.ThreadTimestamp
	if threadTS == "" {
		threadTS = cb.Message.Timestamp
	}
	channel := cb.Channel.ID
	if channel == "" {
		channel = cb.Container.ChannelID
	}

	for _, action := range cb.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		h.spawn(func(ctx context.Context) {
			_ = h.processor.HandleFeedback(ctx, action.ActionID, action.Value, cb.User.ID, channel, threadTS)
		})
	}
}

func (h *EventHandler) spawn(fn func(ctx context.Context)) {
	if h.stopped.Load() {
		h.log.Info("not accepting new events, dropping")
		return
	}
	h.inFlight.Add(1)
	go func() {
		defer h.inFlight.Done()
		fn(h.ctx)
	}()
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("sha256:%s", hex.EncodeToString(sum[:]))
}
