// chatsync - A client-side chat thread synchronization engine.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatsync

import (
	"net/url"

	"go.mau.fi/util/jsontime"
)

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
)

// Attachment is a single piece of media on a message. URL is either an
// opaque storage key (as delivered by the server) or an absolute signed
// URL after resolution. Resolution is monotonic: a resolved URL is never
// replaced with a key again.
type Attachment struct {
	Type       AttachmentType `json:"type"`
	URL        string         `json:"url"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// Resolved reports whether the URL field holds a directly fetchable
// absolute URL rather than a raw storage key.
func (a Attachment) Resolved() bool {
	return isAbsoluteURL(a.URL)
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ReplyRef is a denormalized snapshot of the quoted message, not a live
// reference. The quoted message may no longer exist.
type ReplyRef struct {
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text,omitempty"`
}

type Message struct {
	ID          string             `json:"id"`
	ChatID      string             `json:"chat_id"`
	SenderID    string             `json:"sender_id"`
	Text        string             `json:"text,omitempty"`
	CreatedAt   jsontime.UnixMilli `json:"created_at"`
	Attachments []Attachment       `json:"attachments,omitempty"`
	ReplyTo     *ReplyRef          `json:"reply_to,omitempty"`
	SenderName  string             `json:"sender_name,omitempty"`
}

// ThreadMeta is the per-thread header metadata from the thread list
// endpoint. AvatarURL goes through the same resolver cache as message
// attachments.
type ThreadMeta struct {
	ChatID    string `json:"chat_id"`
	PeerID    string `json:"peer_id"`
	PeerName  string `json:"peer_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Online    bool   `json:"online,omitempty"`
}
