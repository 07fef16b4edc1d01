// chatsync - A client-side chat thread synchronization engine.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package chatapi is the JSON/multipart HTTP implementation of the
// chatsync.Transport boundary.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lrhodin/chatsync/pkg/chatsync"
)

const defaultRequestTimeout = 30 * time.Second

// uploadTimeout is longer than the default: video bodies are sent whole.
const uploadTimeout = 5 * time.Minute

// ErrorResponse is a non-2xx reply from the server. The status code is
// embedded so callers can distinguish protocol failures from transport
// failures.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	tokenMu sync.RWMutex
	token   string
}

var _ chatsync.Transport = (*Client)(nil)

func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultRequestTimeout},
		log:     log.With().Str("component", "chatapi").Logger(),
	}
}

// SetToken swaps the bearer token, e.g. after a config reload.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) bearer() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, into any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.execute(req, into)
}

func (c *Client) execute(req *http.Request, into any) error {
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		// Best effort: the body may not be the structured error shape.
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(errResp)
		return errResp
	}
	if into == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type messagesResponse struct {
	Messages []chatsync.Message `json:"messages"`
}

func (c *Client) FetchMessages(ctx context.Context, chatID string, before *time.Time, limit int) ([]chatsync.Message, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if before != nil {
		query.Set("before", strconv.FormatInt(before.UnixMilli(), 10))
	}
	var resp messagesResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/chats/"+url.PathEscape(chatID)+"/messages", query, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

type sendTextRequest struct {
	Text      string  `json:"text"`
	ReplyToID *string `json:"reply_to_id,omitempty"`
}

func (c *Client) SendText(ctx context.Context, chatID, text string, replyToID *string) (*chatsync.Message, error) {
	var msg chatsync.Message
	err := c.doJSON(ctx, http.MethodPost, "/v1/chats/"+url.PathEscape(chatID)+"/messages", nil,
		&sendTextRequest{Text: text, ReplyToID: replyToID}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) UploadImage(ctx context.Context, chatID string, part chatsync.UploadPart, meta *chatsync.UploadMeta) (*chatsync.Message, error) {
	return c.upload(ctx, chatID, "image", part, meta)
}

func (c *Client) UploadImageFallback(ctx context.Context, chatID string, part chatsync.UploadPart) (*chatsync.Message, error) {
	return c.upload(ctx, chatID, "image", part, nil)
}

func (c *Client) UploadVideo(ctx context.Context, chatID string, part chatsync.UploadPart, meta *chatsync.UploadMeta) (*chatsync.Message, error) {
	return c.upload(ctx, chatID, "video", part, meta)
}

func (c *Client) UploadVideoFallback(ctx context.Context, chatID string, part chatsync.UploadPart) (*chatsync.Message, error) {
	return c.upload(ctx, chatID, "video", part, nil)
}

// upload posts the file as multipart form data. With meta, the richer
// endpoint is used and the metadata rides along as a JSON form part;
// without, the plain endpoint takes the bare file (the fallback tier).
func (c *Client) upload(ctx context.Context, chatID, kind string, part chatsync.UploadPart, meta *chatsync.UploadMeta) (*chatsync.Message, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, part.FileName))
	header.Set("Content-Type", part.MimeType)
	fileWriter, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err = fileWriter.Write(part.Data); err != nil {
		return nil, err
	}
	if part.Width > 0 && part.Height > 0 {
		_ = writer.WriteField("width", strconv.Itoa(part.Width))
		_ = writer.WriteField("height", strconv.Itoa(part.Height))
	}

	path := "/v1/chats/" + url.PathEscape(chatID) + "/" + kind + "s/raw"
	if meta != nil {
		metaJSON, marshalErr := json.Marshal(meta)
		if marshalErr != nil {
			return nil, marshalErr
		}
		if err = writer.WriteField("meta", string(metaJSON)); err != nil {
			return nil, err
		}
		path = "/v1/chats/" + url.PathEscape(chatID) + "/" + kind + "s"
	}
	if err = writer.Close(); err != nil {
		return nil, err
	}

	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(uploadCtx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.log.Debug().
		Str("chat_id", chatID).
		Str("kind", kind).
		Str("mime", part.MimeType).
		Int("bytes", len(part.Data)).
		Bool("with_meta", meta != nil).
		Msg("Uploading attachment")

	var msg chatsync.Message
	if err = c.execute(req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return c.doJSON(ctx, http.MethodDelete,
		"/v1/chats/"+url.PathEscape(chatID)+"/messages/"+url.PathEscape(messageID), nil, nil, nil)
}

func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/chats/"+url.PathEscape(chatID)+"/read", nil, nil, nil)
}

type setTypingRequest struct {
	Typing bool `json:"typing"`
}

func (c *Client) SetTyping(ctx context.Context, chatID string, typing bool) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/chats/"+url.PathEscape(chatID)+"/typing", nil,
		&setTypingRequest{Typing: typing}, nil)
}

type resolveKeyResponse struct {
	URL string `json:"url"`
}

func (c *Client) ResolveKey(ctx context.Context, key string) (string, error) {
	var resp resolveKeyResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/storage/resolve", url.Values{"key": {key}}, nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

type threadsResponse struct {
	Chats []chatsync.ThreadMeta `json:"chats"`
}

func (c *Client) ListThreadsMeta(ctx context.Context) ([]chatsync.ThreadMeta, error) {
	var resp threadsResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/chats", nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Chats, nil
}
