// chatsync - A client-side chat thread synchronization engine.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatsync

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
)

// markReadTimeout bounds the fire-and-forget mark-read call so it can't
// leak a goroutine on a dead connection.
const markReadTimeout = 10 * time.Second

// SendCoordinator performs optimistic sends against the remote store and
// folds confirmed results back into the MessageStore. "Optimistic" here
// means no intermediate pending placeholder — a message is only inserted
// after server confirmation. The engine never retries automatically;
// failed sends surface to the caller, which keeps the compose input
// intact for a user-driven retry.
type SendCoordinator struct {
	transport Transport
	resolver  *AttachmentResolver
	store     *MessageStore
	log       zerolog.Logger

	// current returns the active chat id and session generation;
	// stillCurrent reports whether a captured generation is still the
	// live one. Results from a superseded thread are dropped instead of
	// being folded into the new thread's store.
	current      func() (string, uint64)
	stillCurrent func(uint64) bool
}

func newSendCoordinator(
	transport Transport,
	resolver *AttachmentResolver,
	store *MessageStore,
	log zerolog.Logger,
	current func() (string, uint64),
	stillCurrent func(uint64) bool,
) *SendCoordinator {
	return &SendCoordinator{
		transport:    transport,
		resolver:     resolver,
		store:        store,
		log:          log.With().Str("component", "send").Logger(),
		current:      current,
		stillCurrent: stillCurrent,
	}
}

// SendText sends a plain text message. On success the confirmed message
// is prepended to the store and a mark-read call is fired off in the
// background (failure ignored).
func (sc *SendCoordinator) SendText(ctx context.Context, text string, replyToID *string) error {
	chatID, gen := sc.current()
	if chatID == "" {
		return fmt.Errorf("no active chat")
	}
	return sc.sendTextTo(ctx, chatID, gen, text, replyToID)
}

// sendTextTo targets an explicitly captured chat id and generation, so a
// follow-up send launched before a thread switch still goes to the chat
// it belongs to instead of whatever is active by the time it runs.
func (sc *SendCoordinator) sendTextTo(ctx context.Context, chatID string, gen uint64, text string, replyToID *string) error {
	msg, err := sc.transport.SendText(ctx, chatID, text, replyToID)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	sc.commit(ctx, gen, *msg)
	sc.markReadAsync(chatID)
	return nil
}

// SendImages sends an image message. Only the first path is uploaded:
// the protocol carries one attachment per message, so extra paths are
// skipped with a warning. The metadata upload endpoint is tried first
// and the plain fallback endpoint on any failure. A non-blank caption is
// sent as a separate text message after the attachment message.
func (sc *SendCoordinator) SendImages(ctx context.Context, paths []string, replyToID *string, caption string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no images to send")
	}
	chatID, gen := sc.current()
	if chatID == "" {
		return fmt.Errorf("no active chat")
	}
	if len(paths) > 1 {
		sc.log.Warn().Int("count", len(paths)).
			Msg("Multiple images given, sending only the first (one attachment per message)")
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	part := buildUploadPart(data, "image")
	probeImageDimensions(&part)

	msg, err := sc.transport.UploadImage(ctx, chatID, part, &UploadMeta{ReplyToID: replyToID})
	if err != nil {
		sc.log.Warn().Err(err).Str("chat_id", chatID).
			Msg("Metadata image upload failed, trying fallback endpoint")
		msg, err = sc.transport.UploadImageFallback(ctx, chatID, part)
		if err != nil {
			return fmt.Errorf("image upload failed on both endpoints: %w", err)
		}
	}
	sc.commit(ctx, gen, *msg)

	if strings.TrimSpace(caption) != "" {
		if err = sc.sendTextTo(ctx, chatID, gen, caption, nil); err != nil {
			return fmt.Errorf("image sent but caption failed: %w", err)
		}
	}
	return nil
}

// SendVideo sends a video message. The source is read into memory whole,
// which bounds the supported file size by available memory. Same
// metadata→fallback upload tier as images.
func (sc *SendCoordinator) SendVideo(ctx context.Context, path string, replyToID *string) error {
	chatID, gen := sc.current()
	if chatID == "" {
		return fmt.Errorf("no active chat")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read video: %w", err)
	}
	part := buildUploadPart(data, "video")

	msg, err := sc.transport.UploadVideo(ctx, chatID, part, &UploadMeta{ReplyToID: replyToID})
	if err != nil {
		sc.log.Warn().Err(err).Str("chat_id", chatID).
			Msg("Metadata video upload failed, trying fallback endpoint")
		msg, err = sc.transport.UploadVideoFallback(ctx, chatID, part)
		if err != nil {
			return fmt.Errorf("video upload failed on both endpoints: %w", err)
		}
	}
	sc.commit(ctx, gen, *msg)
	return nil
}

// DeleteMessage deletes on the server first and removes from the store
// only after confirmation. A failed delete leaves the message in place.
func (sc *SendCoordinator) DeleteMessage(ctx context.Context, messageID string) error {
	chatID, _ := sc.current()
	if chatID == "" {
		return fmt.Errorf("no active chat")
	}
	if err := sc.transport.DeleteMessage(ctx, chatID, messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	sc.store.RemoveByID(messageID)
	return nil
}

// commit resolves the confirmed message's attachments and prepends it,
// unless the session has switched threads since the send was launched.
func (sc *SendCoordinator) commit(ctx context.Context, gen uint64, msg Message) {
	resolved := sc.resolver.ResolveMessage(ctx, msg)
	if !sc.stillCurrent(gen) {
		sc.log.Debug().Str("message_id", msg.ID).
			Msg("Discarding send result for superseded thread")
		return
	}
	sc.store.PrependNew(resolved)
}

func (sc *SendCoordinator) markReadAsync(chatID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
		defer cancel()
		if err := sc.transport.MarkRead(ctx, chatID); err != nil {
			sc.log.Debug().Err(err).Str("chat_id", chatID).Msg("Mark read failed (ignored)")
		}
	}()
}

// buildUploadPart detects the content type from the file bytes and
// generates a filename with the matching extension.
func buildUploadPart(data []byte, prefix string) UploadPart {
	mtype := mimetype.Detect(data)
	return UploadPart{
		FileName: prefix + "-" + uuid.New().String() + mtype.Extension(),
		MimeType: mtype.String(),
		Data:     data,
	}
}

// probeImageDimensions fills in width/height hints when the image is
// decodable (jpeg/png/gif/webp). Non-decodable data is sent without
// hints rather than rejected.
func probeImageDimensions(part *UploadPart) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(part.Data))
	if err != nil {
		return
	}
	part.Width = cfg.Width
	part.Height = cfg.Height
}
