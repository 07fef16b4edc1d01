package chatsync

import (
	"testing"
)

func assertOrdered(t *testing.T, msgs []Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Time.After(msgs[i-1].CreatedAt.Time) {
			t.Fatalf("order invariant broken at %d: %s (%v) after %s (%v)",
				i, msgs[i].ID, msgs[i].CreatedAt.Time, msgs[i-1].ID, msgs[i-1].CreatedAt.Time)
		}
	}
}

func assertUniqueIDs(t *testing.T, msgs []Message) {
	t.Helper()
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if _, dup := seen[msg.ID]; dup {
			t.Fatalf("duplicate message id %s", msg.ID)
		}
		seen[msg.ID] = struct{}{}
	}
}

func TestInitializeSortsArbitraryOrder(t *testing.T) {
	store := NewMessageStore(nil)
	store.Initialize([]Message{
		msgAt("b", "c1", 2000, "middle"),
		msgAt("c", "c1", 3000, "newest"),
		msgAt("a", "c1", 1000, "oldest"),
	})
	msgs := store.Snapshot()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "c" || msgs[2].ID != "a" {
		t.Fatalf("unexpected order: %s..%s", msgs[0].ID, msgs[2].ID)
	}
	assertOrdered(t, msgs)
}

func TestInitializeDropsDuplicateIDs(t *testing.T) {
	store := NewMessageStore(nil)
	store.Initialize([]Message{
		msgAt("a", "c1", 1000, "first"),
		msgAt("a", "c1", 2000, "dup"),
		msgAt("b", "c1", 3000, ""),
	})
	if store.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", store.Len())
	}
	assertUniqueIDs(t, store.Snapshot())
}

func TestPrependNewIsIdempotent(t *testing.T) {
	store := NewMessageStore(nil)
	store.Initialize([]Message{msgAt("a", "c1", 1000, "")})
	msg := msgAt("b", "c1", 2000, "new")
	store.PrependNew(msg)
	store.PrependNew(msg)
	msgs := store.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "b" {
		t.Fatalf("expected new message at head, got %s", msgs[0].ID)
	}
}

func TestAppendOlderDedupesAgainstHeldPage(t *testing.T) {
	store := NewMessageStore(nil)
	store.Initialize([]Message{
		msgAt("c", "c1", 3000, ""),
		msgAt("b", "c1", 2000, ""),
	})
	// Overlapping page: b is already held and must not duplicate.
	store.AppendOlder([]Message{
		msgAt("b", "c1", 2000, ""),
		msgAt("a", "c1", 1000, ""),
	})
	msgs := store.Snapshot()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	assertUniqueIDs(t, msgs)
	assertOrdered(t, msgs)
	if msgs[2].ID != "a" {
		t.Fatalf("expected oldest at tail, got %s", msgs[2].ID)
	}
}

func TestAppendOlderEmptyPageIsNoop(t *testing.T) {
	notified := 0
	store := NewMessageStore(func([]Message) { notified++ })
	store.Initialize([]Message{msgAt("a", "c1", 1000, "")})
	notified = 0
	store.AppendOlder(nil)
	store.AppendOlder([]Message{msgAt("a", "c1", 1000, "")})
	if notified != 0 {
		t.Fatalf("expected no change notifications, got %d", notified)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", store.Len())
	}
}

func TestRemoveByIDAbsentIsNoop(t *testing.T) {
	store := NewMessageStore(nil)
	store.Initialize([]Message{msgAt("a", "c1", 1000, "")})
	store.RemoveByID("nope")
	if store.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", store.Len())
	}
	store.RemoveByID("a")
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestUpdateAttachmentsReplacesListOnly(t *testing.T) {
	store := NewMessageStore(nil)
	msg := msgAt("a", "c1", 1000, "pic")
	msg.Attachments = []Attachment{{Type: AttachmentImage, URL: "media/raw"}}
	store.Initialize([]Message{msg})

	before := store.Snapshot()
	store.UpdateAttachments("a", []Attachment{{Type: AttachmentImage, URL: "https://cdn/x"}})
	store.UpdateAttachments("gone", []Attachment{})

	after := store.Snapshot()
	if after[0].Attachments[0].URL != "https://cdn/x" {
		t.Fatalf("attachment not updated: %s", after[0].Attachments[0].URL)
	}
	// The previously returned snapshot must not have been mutated.
	if before[0].Attachments[0].URL != "media/raw" {
		t.Fatalf("old snapshot mutated: %s", before[0].Attachments[0].URL)
	}
}

func TestOldestCreatedAt(t *testing.T) {
	store := NewMessageStore(nil)
	if _, ok := store.OldestCreatedAt(); ok {
		t.Fatal("expected no cursor on empty store")
	}
	store.Initialize([]Message{
		msgAt("b", "c1", 2000, ""),
		msgAt("a", "c1", 1000, ""),
	})
	cursor, ok := store.OldestCreatedAt()
	if !ok || cursor.UnixMilli() != 1000 {
		t.Fatalf("expected cursor 1000, got %v (ok=%v)", cursor.UnixMilli(), ok)
	}
}

func TestMixedMutationsKeepInvariants(t *testing.T) {
	store := NewMessageStore(nil)
	store.Initialize([]Message{
		msgAt("d", "c1", 4000, ""),
		msgAt("c", "c1", 3000, ""),
	})
	store.AppendOlder([]Message{msgAt("b", "c1", 2000, ""), msgAt("a", "c1", 1000, "")})
	store.PrependNew(msgAt("e", "c1", 5000, ""))
	store.RemoveByID("c")
	store.AppendOlder([]Message{msgAt("a", "c1", 1000, "")})

	msgs := store.Snapshot()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	assertUniqueIDs(t, msgs)
	assertOrdered(t, msgs)
}
