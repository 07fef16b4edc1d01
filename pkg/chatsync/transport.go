// chatsync - A client-side chat thread synchronization engine.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatsync

import (
	"context"
	"time"
)

// UploadPart is an in-memory file body ready for a multipart upload.
// Width/Height are best-effort hints probed from decodable images and
// are zero otherwise.
type UploadPart struct {
	FileName string
	MimeType string
	Data     []byte
	Width    int
	Height   int
}

// UploadMeta carries the optional metadata JSON part of the two-tier
// upload protocol. Servers that reject the metadata variant are retried
// via the fallback endpoint without it.
type UploadMeta struct {
	ReplyToID *string `json:"reply_to_id,omitempty"`
	Caption   *string `json:"caption,omitempty"`
}

// Transport is the remote message store boundary. Implementations are
// expected to be safe for concurrent use; every call takes a context and
// returns an explicit error. The reference implementation lives in
// pkg/chatapi.
type Transport interface {
	// FetchMessages returns up to limit messages for the chat. A non-nil
	// before timestamp is an exclusive upper bound on CreatedAt (backward
	// pagination); nil fetches the newest page. Result order is not
	// guaranteed by the server.
	FetchMessages(ctx context.Context, chatID string, before *time.Time, limit int) ([]Message, error)

	SendText(ctx context.Context, chatID, text string, replyToID *string) (*Message, error)

	UploadImage(ctx context.Context, chatID string, part UploadPart, meta *UploadMeta) (*Message, error)
	UploadImageFallback(ctx context.Context, chatID string, part UploadPart) (*Message, error)
	UploadVideo(ctx context.Context, chatID string, part UploadPart, meta *UploadMeta) (*Message, error)
	UploadVideoFallback(ctx context.Context, chatID string, part UploadPart) (*Message, error)

	DeleteMessage(ctx context.Context, chatID, messageID string) error
	MarkRead(ctx context.Context, chatID string) error
	SetTyping(ctx context.Context, chatID string, typing bool) error

	// ResolveKey exchanges an opaque storage key for a time-bounded
	// signed URL.
	ResolveKey(ctx context.Context, key string) (string, error)

	ListThreadsMeta(ctx context.Context) ([]ThreadMeta, error)
}
