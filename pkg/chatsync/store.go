// chatsync - A client-side chat thread synchronization engine.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatsync

import (
	"sort"
	"sync"
	"time"
)

// MessageStore holds the ordered message list for the active thread.
//
// Every mutation builds a fresh slice and swaps it in atomically, so a
// snapshot handed to a listener (or returned by Snapshot) is never
// mutated afterwards. Iteration order is always non-increasing CreatedAt
// and message IDs are unique — applying the same page twice never
// produces two copies of a message.
type MessageStore struct {
	mu       sync.RWMutex
	messages []Message
	ids      map[string]int // id → index into messages

	// onChange, if set, is called with the new snapshot after every
	// mutation that changed the store. Called without the lock held.
	onChange func([]Message)
}

func NewMessageStore(onChange func([]Message)) *MessageStore {
	return &MessageStore{
		ids:      make(map[string]int),
		onChange: onChange,
	}
}

func sortNewestFirst(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Time.After(msgs[j].CreatedAt.Time)
	})
}

// reindex rebuilds the id index for the given slice.
func reindex(msgs []Message) map[string]int {
	ids := make(map[string]int, len(msgs))
	for i, msg := range msgs {
		ids[msg.ID] = i
	}
	return ids
}

// Initialize replaces the entire store content. Input order is not
// trusted: the page is deduplicated by id and re-sorted newest first.
func (s *MessageStore) Initialize(msgs []Message) {
	next := make([]Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		next = append(next, msg)
	}
	sortNewestFirst(next)

	s.mu.Lock()
	s.messages = next
	s.ids = reindex(next)
	s.mu.Unlock()
	s.notify(next)
}

// PrependNew inserts a just-sent message at the head. The caller
// guarantees CreatedAt is the newest in the store, but the slice is
// re-sorted defensively so the order invariant holds regardless.
func (s *MessageStore) PrependNew(msg Message) {
	s.mu.Lock()
	if _, exists := s.ids[msg.ID]; exists {
		s.mu.Unlock()
		return
	}
	next := make([]Message, 0, len(s.messages)+1)
	next = append(next, msg)
	next = append(next, s.messages...)
	sortNewestFirst(next)
	s.messages = next
	s.ids = reindex(next)
	s.mu.Unlock()
	s.notify(next)
}

// AppendOlder merges a fetched older page below the currently-held
// messages. Messages whose id is already present are dropped; the
// already-held prefix is never reordered.
func (s *MessageStore) AppendOlder(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	fresh := make([]Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if _, exists := s.ids[msg.ID]; exists {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	if len(fresh) == 0 {
		s.mu.Unlock()
		return
	}
	next := make([]Message, 0, len(s.messages)+len(fresh))
	next = append(next, s.messages...)
	next = append(next, fresh...)
	sortNewestFirst(next)
	s.messages = next
	s.ids = reindex(next)
	s.mu.Unlock()
	s.notify(next)
}

// RemoveByID removes a message. Removing an absent id is a no-op, not an
// error — the message may have been deleted by a concurrent pass.
func (s *MessageStore) RemoveByID(id string) {
	s.mu.Lock()
	idx, exists := s.ids[id]
	if !exists {
		s.mu.Unlock()
		return
	}
	next := make([]Message, 0, len(s.messages)-1)
	next = append(next, s.messages[:idx]...)
	next = append(next, s.messages[idx+1:]...)
	s.messages = next
	s.ids = reindex(next)
	s.mu.Unlock()
	s.notify(next)
}

// UpdateAttachments replaces one message's attachment list, used after
// URL resolution completes. No-op if the id is absent (the message may
// have been deleted while resolution was in flight).
func (s *MessageStore) UpdateAttachments(id string, attachments []Attachment) {
	s.mu.Lock()
	idx, exists := s.ids[id]
	if !exists {
		s.mu.Unlock()
		return
	}
	next := make([]Message, len(s.messages))
	copy(next, s.messages)
	next[idx].Attachments = attachments
	s.messages = next
	s.ids = reindex(next)
	s.mu.Unlock()
	s.notify(next)
}

// Snapshot returns the current message slice. The slice is immutable —
// callers must not modify it.
func (s *MessageStore) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages
}

func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// OldestCreatedAt returns the CreatedAt of the oldest held message, used
// as the exclusive upper bound for the next backward fetch.
func (s *MessageStore) OldestCreatedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return time.Time{}, false
	}
	return s.messages[len(s.messages)-1].CreatedAt.Time, true
}

func (s *MessageStore) notify(snapshot []Message) {
	if s.onChange != nil {
		s.onChange(snapshot)
	}
}
