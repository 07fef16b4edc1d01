package chatsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mau.fi/util/jsontime"
)

// fakeTransport is an in-memory Transport with failure injection and
// call counting, shared by the package tests.
type fakeTransport struct {
	mu sync.Mutex

	serverMessages map[string][]Message
	nextID         int
	nowMS          int64

	metas   []ThreadMeta
	metaErr error

	fetchCalls int
	fetchErr   error
	// fetchBarrier, when set, blocks paginated fetches (before != nil)
	// until the channel is closed. Used to simulate a slow response
	// arriving after a thread switch.
	fetchBarrier chan struct{}

	sendErr     error
	sendBarrier chan struct{}

	uploadMetaErr       error
	uploadFallbackErr   error
	uploadBarrier       chan struct{}
	uploadMetaCalls     int
	uploadFallbackCalls int

	deleteErr     error
	deleteCalls   int
	markReadCalls int

	typingErr    error
	typingEvents []bool

	resolveErr   error
	resolved     map[string]string
	resolveCalls map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		serverMessages: make(map[string][]Message),
		nowMS:          1700000000000,
		resolved:       make(map[string]string),
		resolveCalls:   make(map[string]int),
	}
}

func msgAt(id, chatID string, ts int64, text string) Message {
	return Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  "peer",
		Text:      text,
		CreatedAt: jsontime.UM(time.UnixMilli(ts)),
	}
}

func (f *fakeTransport) addMessages(chatID string, msgs ...Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serverMessages[chatID] = append(f.serverMessages[chatID], msgs...)
}

// newServerMessage creates a message with a fresh id and a timestamp
// newer than everything created before it, and stores it server-side.
func (f *fakeTransport) newServerMessage(chatID, text string, attachments []Attachment) Message {
	f.nextID++
	f.nowMS += 1000
	msg := Message{
		ID:          fmt.Sprintf("srv-%d", f.nextID),
		ChatID:      chatID,
		SenderID:    "me",
		Text:        text,
		CreatedAt:   jsontime.UM(time.UnixMilli(f.nowMS)),
		Attachments: attachments,
	}
	f.serverMessages[chatID] = append(f.serverMessages[chatID], msg)
	return msg
}

func (f *fakeTransport) FetchMessages(_ context.Context, chatID string, before *time.Time, limit int) ([]Message, error) {
	f.mu.Lock()
	f.fetchCalls++
	barrier := f.fetchBarrier
	f.mu.Unlock()
	if barrier != nil && before != nil {
		<-barrier
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var matching []Message
	for _, msg := range f.serverMessages[chatID] {
		if before == nil || msg.CreatedAt.Time.Before(*before) {
			matching = append(matching, msg)
		}
	}
	// Newest `limit` messages win, but the page is returned oldest
	// first: the engine must not trust server ordering.
	sort.Slice(matching, func(i, j int) bool {
		return matching[i].CreatedAt.Time.After(matching[j].CreatedAt.Time)
	})
	if len(matching) > limit {
		matching = matching[:limit]
	}
	out := make([]Message, len(matching))
	for i, msg := range matching {
		out[len(matching)-1-i] = msg
	}
	return out, nil
}

func (f *fakeTransport) SendText(_ context.Context, chatID, text string, replyToID *string) (*Message, error) {
	f.mu.Lock()
	barrier := f.sendBarrier
	f.mu.Unlock()
	if barrier != nil {
		<-barrier
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	msg := f.newServerMessage(chatID, text, nil)
	if replyToID != nil {
		msg.ReplyTo = &ReplyRef{Text: "quoted"}
	}
	return &msg, nil
}

func (f *fakeTransport) upload(chatID string, attType AttachmentType, withMeta bool) (*Message, error) {
	f.mu.Lock()
	if withMeta {
		f.uploadMetaCalls++
	} else {
		f.uploadFallbackCalls++
	}
	barrier := f.uploadBarrier
	f.mu.Unlock()
	if barrier != nil {
		<-barrier
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if withMeta && f.uploadMetaErr != nil {
		return nil, f.uploadMetaErr
	}
	if !withMeta && f.uploadFallbackErr != nil {
		return nil, f.uploadFallbackErr
	}
	att := Attachment{Type: attType, URL: fmt.Sprintf("media/%d", f.nextID+1)}
	if attType == AttachmentVideo {
		att.DurationMS = 4200
	}
	// Uploads come back with a raw storage key the resolver must handle.
	f.resolved[att.URL] = "https://cdn.example.com/" + att.URL
	msg := f.newServerMessage(chatID, "", []Attachment{att})
	return &msg, nil
}

func (f *fakeTransport) UploadImage(_ context.Context, chatID string, _ UploadPart, _ *UploadMeta) (*Message, error) {
	return f.upload(chatID, AttachmentImage, true)
}

func (f *fakeTransport) UploadImageFallback(_ context.Context, chatID string, _ UploadPart) (*Message, error) {
	return f.upload(chatID, AttachmentImage, false)
}

func (f *fakeTransport) UploadVideo(_ context.Context, chatID string, _ UploadPart, _ *UploadMeta) (*Message, error) {
	return f.upload(chatID, AttachmentVideo, true)
}

func (f *fakeTransport) UploadVideoFallback(_ context.Context, chatID string, _ UploadPart) (*Message, error) {
	return f.upload(chatID, AttachmentVideo, false)
}

func (f *fakeTransport) DeleteMessage(_ context.Context, chatID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	msgs := f.serverMessages[chatID]
	for i, msg := range msgs {
		if msg.ID == messageID {
			f.serverMessages[chatID] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeTransport) MarkRead(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	return nil
}

func (f *fakeTransport) SetTyping(_ context.Context, _ string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typingErr != nil {
		return f.typingErr
	}
	f.typingEvents = append(f.typingEvents, typing)
	return nil
}

func (f *fakeTransport) ResolveKey(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls[key]++
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	url, ok := f.resolved[key]
	if !ok {
		return "", fmt.Errorf("unknown storage key %q", key)
	}
	return url, nil
}

func (f *fakeTransport) ListThreadsMeta(_ context.Context) ([]ThreadMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return f.metas, nil
}

// snapshotTypingEvents returns a copy of the recorded typing signals.
func (f *fakeTransport) snapshotTypingEvents() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.typingEvents))
	copy(out, f.typingEvents)
	return out
}

func (f *fakeTransport) counts() (fetch, uploadMeta, uploadFallback, del, markRead int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.uploadMetaCalls, f.uploadFallbackCalls, f.deleteCalls, f.markReadCalls
}
