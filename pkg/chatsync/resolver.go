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
	"sync"

	"github.com/rs/zerolog"
)

// AttachmentResolver exchanges opaque storage keys for signed URLs and
// memoizes successful resolutions. Signed URLs are time-limited, so the
// cache is process-lifetime only — there is no persistence. The cache is
// shared across the whole session (all threads plus peer avatars), and
// entries are immutable once stored, so last-writer-wins is safe for
// concurrent resolutions of the same key.
type AttachmentResolver struct {
	transport Transport
	log       zerolog.Logger

	mu    sync.Mutex
	cache map[string]string
}

func NewAttachmentResolver(transport Transport, log zerolog.Logger) *AttachmentResolver {
	return &AttachmentResolver{
		transport: transport,
		log:       log.With().Str("component", "resolver").Logger(),
		cache:     make(map[string]string),
	}
}

// Resolve maps a raw attachment value to a usable URL. Absolute http(s)
// URLs pass through untouched with no network call. On lookup failure it
// returns ("", false) and the caller keeps the raw value — a placeholder
// URL is never substituted.
func (r *AttachmentResolver) Resolve(ctx context.Context, raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if isAbsoluteURL(raw) {
		return raw, true
	}

	r.mu.Lock()
	cached, hit := r.cache[raw]
	r.mu.Unlock()
	if hit {
		return cached, true
	}

	resolved, err := r.transport.ResolveKey(ctx, raw)
	if err != nil {
		// Silent per-attachment degradation: the raw key stays in place
		// and the next render attempt re-resolves.
		r.log.Debug().Err(err).Str("key", raw).Msg("Failed to resolve storage key")
		return "", false
	}
	if resolved == "" {
		return "", false
	}

	r.mu.Lock()
	r.cache[raw] = resolved
	r.mu.Unlock()
	return resolved, true
}

// ResolveMessage resolves every unresolved attachment on a copy of the
// message. Attachments that fail to resolve keep their raw key.
func (r *AttachmentResolver) ResolveMessage(ctx context.Context, msg Message) Message {
	if len(msg.Attachments) == 0 {
		return msg
	}
	resolved := make([]Attachment, len(msg.Attachments))
	copy(resolved, msg.Attachments)
	for i, att := range resolved {
		if att.Resolved() {
			continue
		}
		if url, ok := r.Resolve(ctx, att.URL); ok {
			resolved[i].URL = url
		}
	}
	msg.Attachments = resolved
	return msg
}

// ResolveMessages applies ResolveMessage to a whole page.
func (r *AttachmentResolver) ResolveMessages(ctx context.Context, msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = r.ResolveMessage(ctx, msg)
	}
	return out
}
