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
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateLoadingInitial
	StateReady
	StateLoadingMore
	// StateEndReached is terminal for the current thread: backward
	// pagination has hit the start of history. Cleared only by Load.
	StateEndReached
	// StateError is recoverable: Load or LoadMore may be re-invoked.
	// Already-loaded messages are kept.
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingInitial:
		return "loading_initial"
	case StateReady:
		return "ready"
	case StateLoadingMore:
		return "loading_more"
	case StateEndReached:
		return "end_reached"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

const defaultPageSize = 50

type SessionConfig struct {
	// PageSize is the fetch limit for initial load and pagination.
	// Defaults to 50.
	PageSize int
	// TypingIdleTimeout overrides the 1.5s typing auto-stop window.
	TypingIdleTimeout time.Duration
	// OnChange, if set, receives the store snapshot after every mutation.
	OnChange func([]Message)
}

// ThreadSession owns the synchronization state for one active chat:
// the message store, attachment resolver, typing signal and send
// coordinator. Loading a different chat id discards the previous
// thread's view wholesale.
//
// Load/LoadMore are guarded by a busy flag, not a queue: the caller
// drives them sequentially (UI event loop model). Sends may run
// concurrently with pagination — they touch disjoint ends of the store.
// Every in-flight operation is stamped with the session generation at
// launch; results arriving after a newer Load are discarded so a slow
// response can never corrupt the next thread's store.
type ThreadSession struct {
	transport Transport
	log       zerolog.Logger
	pageSize  int

	store    *MessageStore
	resolver *AttachmentResolver
	typing   *TypingSignal
	sender   *SendCoordinator

	mu         sync.Mutex
	chatID     string
	generation uint64
	state      SessionState
	endReached bool
	loading    bool
	lastErr    error
	meta       *ThreadMeta
}

func NewThreadSession(transport Transport, log zerolog.Logger, cfg SessionConfig) *ThreadSession {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	log = log.With().Str("component", "session").Logger()
	s := &ThreadSession{
		transport: transport,
		log:       log,
		pageSize:  cfg.PageSize,
		store:     NewMessageStore(cfg.OnChange),
		resolver:  NewAttachmentResolver(transport, log),
		typing:    NewTypingSignal(transport, log, cfg.TypingIdleTimeout),
		state:     StateIdle,
	}
	s.sender = newSendCoordinator(transport, s.resolver, s.store, log, s.current, s.stillCurrent)
	return s
}

// Load switches the session to chatID and fetches the newest page.
// Thread metadata (peer name, avatar, online state) is fetched
// concurrently from the thread list endpoint; its failure does not fail
// the load. A Load issued while another is in flight supersedes it: the
// generation bump makes the older result stale.
func (s *ThreadSession) Load(ctx context.Context, chatID string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.chatID = chatID
	s.state = StateLoadingInitial
	s.endReached = false
	s.loading = true
	s.lastErr = nil
	s.meta = nil
	s.mu.Unlock()

	s.typing.Reset(chatID)
	log := s.log.With().Str("chat_id", chatID).Uint64("generation", gen).Logger()

	go s.fetchThreadMeta(ctx, chatID, gen)

	start := time.Now()
	msgs, err := s.transport.FetchMessages(ctx, chatID, nil, s.pageSize)
	if err != nil {
		s.failIfCurrent(gen, err)
		return fmt.Errorf("failed to load messages for %s: %w", chatID, err)
	}
	resolved := s.resolver.ResolveMessages(ctx, msgs)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		log.Debug().Msg("Discarding stale initial load result")
		return nil
	}
	s.loading = false
	s.state = StateReady
	s.mu.Unlock()

	s.store.Initialize(resolved)
	log.Info().Int("count", len(resolved)).Dur("elapsed", time.Since(start)).
		Msg("Initial page loaded")
	return nil
}

// LoadMore fetches the page strictly older than the currently-oldest
// held message. No-op while another fetch is in flight, after the end of
// history, or before the first successful Load. An empty page latches
// endReached; subsequent calls make no network fetch at all.
func (s *ThreadSession) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.loading || s.endReached || s.chatID == "" {
		s.mu.Unlock()
		return nil
	}
	cursor, ok := s.store.OldestCreatedAt()
	if !ok {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	chatID := s.chatID
	s.loading = true
	s.state = StateLoadingMore
	s.mu.Unlock()

	log := s.log.With().Str("chat_id", chatID).Uint64("generation", gen).Logger()

	msgs, err := s.transport.FetchMessages(ctx, chatID, &cursor, s.pageSize)
	if err != nil {
		s.failIfCurrent(gen, err)
		return fmt.Errorf("failed to load older messages for %s: %w", chatID, err)
	}
	resolved := s.resolver.ResolveMessages(ctx, msgs)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		log.Debug().Msg("Discarding stale pagination result")
		return nil
	}
	s.loading = false
	if len(resolved) == 0 {
		s.endReached = true
		s.state = StateEndReached
		s.mu.Unlock()
		log.Info().Msg("Reached start of history")
		return nil
	}
	s.state = StateReady
	s.mu.Unlock()

	s.store.AppendOlder(resolved)
	log.Debug().Int("count", len(resolved)).Msg("Older page appended")
	return nil
}

func (s *ThreadSession) fetchThreadMeta(ctx context.Context, chatID string, gen uint64) {
	metas, err := s.transport.ListThreadsMeta(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).
			Msg("Failed to fetch thread metadata (header will be empty)")
		return
	}
	for _, meta := range metas {
		if meta.ChatID != chatID {
			continue
		}
		// Avatar references share the attachment resolver cache.
		if meta.AvatarURL != "" && !isAbsoluteURL(meta.AvatarURL) {
			if url, ok := s.resolver.Resolve(ctx, meta.AvatarURL); ok {
				meta.AvatarURL = url
			}
		}
		s.mu.Lock()
		if gen == s.generation {
			metaCopy := meta
			s.meta = &metaCopy
		}
		s.mu.Unlock()
		return
	}
	s.log.Debug().Str("chat_id", chatID).Msg("Thread not present in thread list")
}

// failIfCurrent records a fetch failure unless the session has already
// moved on to a newer generation. Store content is untouched either way.
func (s *ThreadSession) failIfCurrent(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.loading = false
	s.state = StateError
	s.lastErr = err
}

func (s *ThreadSession) current() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID, s.generation
}

func (s *ThreadSession) stillCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

func (s *ThreadSession) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

func (s *ThreadSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error recorded by the most recent failed fetch, or nil.
func (s *ThreadSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *ThreadSession) EndReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReached
}

// Meta returns the thread header metadata, or nil if the metadata fetch
// has not completed (or failed).
func (s *ThreadSession) Meta() *ThreadMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Messages returns the current store snapshot (newest first).
func (s *ThreadSession) Messages() []Message {
	return s.store.Snapshot()
}

func (s *ThreadSession) Store() *MessageStore { return s.store }

func (s *ThreadSession) Typing() *TypingSignal { return s.typing }

func (s *ThreadSession) Sender() *SendCoordinator { return s.sender }

func (s *ThreadSession) Resolver() *AttachmentResolver { return s.resolver }
