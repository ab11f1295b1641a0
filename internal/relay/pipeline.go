// Package relay turns MAX messages into Telegram deliveries.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"maxrelay/internal/domain"
	"maxrelay/internal/metrics"
)

// Fallback filenames used when the download response carries no name.
const (
	PhotoFilename = "photo.jpg"
	VideoFilename = "video.mp4"
	FileFilename  = "file.bin"
)

// SenderResolver produces the label that prefixes every relayed message.
type SenderResolver interface {
	Resolve(ctx context.Context, senderID, chatID int64) string
}

// AttachmentFetcher downloads an attachment body.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, url, fallback string) (domain.Payload, error)
}

// PipelineConfig holds the pipeline's collaborators. All fields are required
// except Logger.
type PipelineConfig struct {
	Directory domain.Directory
	Resolver  SenderResolver
	Fetcher   AttachmentFetcher
	Sink      domain.Sink
	Recipient domain.Recipient
	Logger    *slog.Logger
}

// Pipeline relays one MAX message at a time to a fixed Telegram recipient.
// Attachments of a message are delivered sequentially and in order; a failed
// attachment is logged and skipped.
type Pipeline struct {
	dir      domain.Directory
	resolver SenderResolver
	fetcher  AttachmentFetcher
	sink     domain.Sink
	to       domain.Recipient
	logger   *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		dir:      cfg.Directory,
		resolver: cfg.Resolver,
		fetcher:  cfg.Fetcher,
		sink:     cfg.Sink,
		to:       cfg.Recipient,
		logger:   cfg.Logger,
	}
}

// Caption is "label: text", or just label when text is empty.
func Caption(label, text string) string {
	if text == "" {
		return label
	}
	return label + ": " + text
}

// Handle relays msg. It never returns an error and never panics; every
// failure ends up in the log.
func (p *Pipeline) Handle(ctx context.Context, msg domain.InboundMessage) {
	log := p.logger.With("chat_id", msg.ChatID, "message_id", msg.MessageID, "sender_id", msg.SenderID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("relay aborted by panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	metrics.MessagesTotal.Inc()
	label := p.resolver.Resolve(ctx, msg.SenderID, msg.ChatID)

	if len(msg.Attachments) == 0 {
		if err := p.sink.SendText(ctx, p.to, Caption(label, msg.Text)); err != nil {
			log.Error("text relay failed", "stage", failureStage(err), "err", err)
			return
		}
		log.Info("message relayed", "attachments", 0)
		return
	}

	delivered := 0
	for i, att := range msg.Attachments {
		if err := ctx.Err(); err != nil {
			log.Warn("relay interrupted", "remaining", len(msg.Attachments)-i, "err", err)
			return
		}
		metrics.Attachments(att.Kind()).Inc()
		caption := Caption(label, msg.Text)
		if err := p.relayAttachment(ctx, msg, att, caption); err != nil {
			stage := failureStage(err)
			metrics.AttachmentFailures(att.Kind(), stage).Inc()
			log.Error("attachment skipped", "index", i, "kind", att.Kind(), "stage", stage, "err", err)
			continue
		}
		delivered++
	}
	log.Info("message relayed", "attachments", len(msg.Attachments), "delivered", delivered)
}

func (p *Pipeline) relayAttachment(ctx context.Context, msg domain.InboundMessage, att domain.Attachment, caption string) error {
	switch a := att.(type) {
	case domain.Photo:
		payload, err := p.fetcher.Fetch(ctx, a.URL, PhotoFilename)
		if err != nil {
			return err
		}
		return p.sink.SendPhoto(ctx, p.to, payload, caption)

	case domain.Video:
		url, err := p.dir.VideoURL(ctx, msg.ChatID, msg.MessageID, a.VideoID)
		if err != nil {
			return err
		}
		payload, err := p.fetcher.Fetch(ctx, url, VideoFilename)
		if err != nil {
			return err
		}
		return p.sink.SendVideo(ctx, p.to, payload, caption)

	case domain.File:
		url, err := p.dir.FileURL(ctx, msg.ChatID, msg.MessageID, a.FileID)
		if err != nil {
			return err
		}
		payload, err := p.fetcher.Fetch(ctx, url, FileFilename)
		if err != nil {
			return err
		}
		return p.sink.SendDocument(ctx, p.to, payload, caption)

	case domain.Unsupported:
		return p.sink.SendText(ctx, p.to, fmt.Sprintf("%s\n[Unsupported attachment type: %s]", caption, a.TypeName))

	default:
		return fmt.Errorf("unknown attachment type %T", att)
	}
}

// failureStage names where an attachment failed, for logs and metrics.
func failureStage(err error) string {
	var (
		fetchErr    *FetchError
		lookupErr   *domain.LookupError
		deliveryErr *domain.DeliveryError
	)
	switch {
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &lookupErr):
		return "lookup"
	case errors.As(err, &deliveryErr):
		return "delivery"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unexpected"
	}
}
