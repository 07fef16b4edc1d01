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
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// defaultTypingIdleTimeout is how long after the last keystroke the
// engine auto-sends a stop-typing signal.
const defaultTypingIdleTimeout = 1500 * time.Millisecond

// TypingSignal implements the debounced typing-indicator protocol:
// at most one transition is sent per state, a start (re)arms the idle
// timer, and the timer firing sends the stop.
//
// lastSent is tri-state: nil means nothing has been sent for this thread
// yet, so both an initial start and an initial explicit stop go out.
type TypingSignal struct {
	transport   Transport
	log         zerolog.Logger
	idleTimeout time.Duration

	mu        sync.Mutex
	chatID    string
	lastSent  *bool
	idleTimer *time.Timer
}

func NewTypingSignal(transport Transport, log zerolog.Logger, idleTimeout time.Duration) *TypingSignal {
	if idleTimeout <= 0 {
		idleTimeout = defaultTypingIdleTimeout
	}
	return &TypingSignal{
		transport:   transport,
		log:         log.With().Str("component", "typing").Logger(),
		idleTimeout: idleTimeout,
	}
}

// Reset switches the signal to a new thread: the idle timer is cancelled
// and lastSent cleared. No stop signal is flushed for the previous
// thread — the peer's indicator times out on its own. Whether the
// original protocol intended a final stop here is unknown, so the
// observed behavior is kept.
func (t *TypingSignal) Reset(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimerLocked()
	t.chatID = chatID
	t.lastSent = nil
}

// SetTyping reports a typing state change from the caller. true (re)arms
// the idle timer; false cancels it. Duplicate states are debounced and
// send nothing. Transport errors are swallowed except context
// cancellation, which propagates so the enclosing task can terminate.
func (t *TypingSignal) SetTyping(ctx context.Context, typing bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chatID == "" {
		return nil
	}

	if typing {
		var err error
		if t.lastSent == nil || !*t.lastSent {
			err = t.sendLocked(ctx, true)
			v := true
			t.lastSent = &v
		}
		// Always re-arm, even when the start was debounced: each
		// keystroke extends the idle window.
		t.armTimerLocked()
		return err
	}

	t.stopTimerLocked()
	if t.lastSent == nil || *t.lastSent {
		err := t.sendLocked(ctx, false)
		v := false
		t.lastSent = &v
		return err
	}
	return nil
}

func (t *TypingSignal) armTimerLocked() {
	t.stopTimerLocked()
	t.idleTimer = time.AfterFunc(t.idleTimeout, t.idleFired)
}

func (t *TypingSignal) stopTimerLocked() {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
}

// idleFired runs on the timer goroutine once the idle window elapses
// with no further keystrokes.
func (t *TypingSignal) idleFired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idleTimer = nil
	if t.lastSent == nil || !*t.lastSent {
		return
	}
	_ = t.sendLocked(context.Background(), false)
	v := false
	t.lastSent = &v
}

func (t *TypingSignal) sendLocked(ctx context.Context, typing bool) error {
	err := t.transport.SetTyping(ctx, t.chatID, typing)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	t.log.Debug().Err(err).Bool("typing", typing).Str("chat_id", t.chatID).
		Msg("Typing signal failed (ignored)")
	return nil
}
