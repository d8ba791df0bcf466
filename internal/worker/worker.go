// Package worker provides a NATS worker that processes music generation jobs.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/jobs"
	"github.com/book-expert/music-service/internal/pipeline"
)

// DefaultHandleTimeout bounds one generation job.
const DefaultHandleTimeout = 5 * time.Minute

// Generator runs one generation request end to end.
type Generator interface {
	Generate(ctx context.Context, request pipeline.Request, progress core.ProgressFunc) (*pipeline.Result, error)
}

// Options configure a NatsWorker.
type Options struct {
	Subject         string
	ProgressSubject string
	HandleTimeout   time.Duration
}

// NatsWorker listens for music jobs on a NATS subject and replies with the result.
type NatsWorker struct {
	natsConnection *nats.Conn
	generator      Generator
	options        Options
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	generator Generator,
	options Options,
	log *logger.Logger,
) *NatsWorker {
	if options.HandleTimeout <= 0 {
		options.HandleTimeout = DefaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		generator:      generator,
		options:        options,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is done, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.options.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.options.Subject, err)
	}

	w.log.Info("Listening for music jobs on '%s'", w.options.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// handleMessage runs detached from Run's context so draining lets in-flight jobs finish.
func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.options.HandleTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)

		w.reply(msg, &jobs.MusicGeneratedEvent{
			Header:    newHeader(events.EventHeader{}),
			ErrorKind: core.KindInvalidInput,
			Error:     err.Error(),
		})

		return
	}

	request := pipeline.Request{
		Prompt:          event.Prompt,
		DurationSeconds: event.DurationSeconds,
		Index:           event.Index,
	}

	result, err := w.generator.Generate(ctx, request, w.progressReporter(event.Header))
	if err != nil {
		w.log.Error("Failed to generate music for workflow %s: %v", event.Header.WorkflowID, err)

		w.reply(msg, &jobs.MusicGeneratedEvent{
			Header:    newHeader(event.Header),
			ErrorKind: core.ErrorKind(err),
			Error:     core.UserMessage(err),
		})

		return
	}

	w.reply(msg, &jobs.MusicGeneratedEvent{
		Header:          newHeader(event.Header),
		AssetKey:        result.Asset.Name,
		Location:        result.Asset.Location,
		Size:            result.Asset.Size,
		DurationSeconds: result.Duration.Seconds(),
		SampleRate:      result.SampleRate,
	})
}

// progressReporter publishes progress events when a progress subject is configured.
func (w *NatsWorker) progressReporter(header events.EventHeader) core.ProgressFunc {
	if w.options.ProgressSubject == "" {
		return nil
	}

	return func(progress core.Progress) {
		data, err := json.Marshal(&jobs.MusicProgressEvent{
			Header:    newHeader(header),
			Generated: progress.Generated,
			Total:     progress.Total,
		})
		if err != nil {
			w.log.Warn("Failed to marshal progress event: %v", err)

			return
		}

		err = w.natsConnection.Publish(w.options.ProgressSubject, data)
		if err != nil {
			w.log.Warn("Failed to publish progress for workflow %s: %v", header.WorkflowID, err)
		}
	}
}

// reply marshals and responds with the result event. Messages without a reply
// subject are fire-and-forget.
func (w *NatsWorker) reply(msg *nats.Msg, replyEvent *jobs.MusicGeneratedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", replyEvent.Header.WorkflowID, err)
	}
}

func parseEvent(msg *nats.Msg) (*jobs.MusicRequestedEvent, error) {
	var event jobs.MusicRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal event: %v", core.ErrInvalidInput, err)
	}

	return &event, nil
}

// newHeader keeps the workflow identity of the request and stamps a fresh event id.
func newHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}
