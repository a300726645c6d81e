package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GenorTG/personal-assistant-sub001/internal/apperrors"
	"github.com/GenorTG/personal-assistant-sub001/internal/cache"
	"github.com/GenorTG/personal-assistant-sub001/internal/events"
	"github.com/GenorTG/personal-assistant-sub001/internal/wire"
)

// fakeRequester scripts responses per action and records every call.
type fakeRequester struct {
	mu      sync.Mutex
	calls   []recordedCall
	handler map[string]func(payload interface{}) (json.RawMessage, error)
}

type recordedCall struct {
	action  string
	payload interface{}
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{
		handler: make(map[string]func(payload interface{}) (json.RawMessage, error)),
	}
}

func (f *fakeRequester) Request(ctx context.Context, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{action, payload})
	h := f.handler[action]
	f.mu.Unlock()
	if h == nil {
		return json.RawMessage(`{}`), nil
	}
	return h(payload)
}

func (f *fakeRequester) callActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.action
	}
	return out
}

func newTestService(req *fakeRequester) (*Service, *cache.MemoryStore) {
	var svc *Service
	store := cache.NewMemoryStore(func(ctx context.Context, key string) (interface{}, error) {
		return svc.FetchValue(ctx, key)
	})
	svc = New(req, store, events.NewRouter(), nil, time.Second)
	return svc, store
}

func TestSendMessageStagesOptimistically(t *testing.T) {
	req := newFakeRequester()
	svc, store := newTestService(req)

	var transcriptDuringCall []Message
	req.handler[wire.ActionChatSend] = func(interface{}) (json.RawMessage, error) {
		if v, ok := store.Get("c1"); ok {
			transcriptDuringCall = v.(*Conversation).Messages
		}
		return nil, nil
	}
	// Keep the reconciling refetch deterministic.
	req.handler[wire.ActionConversationFetch] = func(interface{}) (json.RawMessage, error) {
		return json.Marshal(Conversation{ID: "c1", Messages: []Message{
			{ID: "m1", Role: "user", Content: "hello"},
		}})
	}

	store.Set("c1", &Conversation{ID: "c1"})
	if err := svc.SendMessage(context.Background(), "c1", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if len(transcriptDuringCall) != 1 || transcriptDuringCall[0].Content != "hello" {
		t.Fatalf("message not visible during call: %+v", transcriptDuringCall)
	}
	if transcriptDuringCall[0].Role != "user" {
		t.Fatalf("staged role = %q", transcriptDuringCall[0].Role)
	}
}

func TestRenameRollsBackOnRejection(t *testing.T) {
	req := newFakeRequester()
	svc, store := newTestService(req)

	req.handler[wire.ActionConversationRename] = func(interface{}) (json.RawMessage, error) {
		return nil, apperrors.Rejected("name too long")
	}

	store.Set("c1", &Conversation{ID: "c1", Name: "Old name"})
	err := svc.RenameConversation(context.Background(), "c1", "New name")
	if !apperrors.IsCode(err, apperrors.CodeRequestRejected) {
		t.Fatalf("RenameConversation: %v", err)
	}

	v, ok := store.Get("c1")
	if !ok {
		t.Fatalf("conversation vanished after rollback")
	}
	if got := v.(*Conversation).Name; got != "Old name" {
		t.Fatalf("name after rollback = %q, want the pre-mutation value", got)
	}
}

func TestRenameKeptOnUserCancellation(t *testing.T) {
	req := newFakeRequester()
	svc, store := newTestService(req)

	req.handler[wire.ActionConversationRename] = func(interface{}) (json.RawMessage, error) {
		return nil, apperrors.Cancelled(wire.ActionConversationRename)
	}

	store.Set("c1", &Conversation{ID: "c1", Name: "Old name"})
	err := svc.RenameConversation(context.Background(), "c1", "Half-typed")
	if !apperrors.IsCancellation(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	v, _ := store.Get("c1")
	if got := v.(*Conversation).Name; got != "Half-typed" {
		t.Fatalf("name after cancellation = %q, want the staged value", got)
	}
}

func TestRegenerateDropsTrailingAssistantReply(t *testing.T) {
	req := newFakeRequester()
	svc, store := newTestService(req)

	var duringCall []Message
	req.handler[wire.ActionChatRegenerate] = func(interface{}) (json.RawMessage, error) {
		if v, ok := store.Get("c1"); ok {
			duringCall = v.(*Conversation).Messages
		}
		return nil, apperrors.Cancelled(wire.ActionChatRegenerate)
	}

	store.Set("c1", &Conversation{ID: "c1", Messages: []Message{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "bad answer"},
	}})
	svc.RegenerateReply(context.Background(), "c1")

	if len(duringCall) != 1 || duringCall[0].Role != "user" {
		t.Fatalf("transcript during regenerate = %+v, want only the user message", duringCall)
	}
}

func TestDeleteSwitchesSelectionBeforeCallSettles(t *testing.T) {
	req := newFakeRequester()
	svc, store := newTestService(req)

	for _, id := range []string{"cA", "cB", "cC"} {
		store.Set(id, &Conversation{ID: id})
		svc.track(id)
	}
	svc.Select("cA")

	var currentDuringDelete string
	var evictedDuringDelete bool
	req.handler[wire.ActionConversationDelete] = func(interface{}) (json.RawMessage, error) {
		currentDuringDelete = svc.Current()
		_, ok := store.Get("cA")
		evictedDuringDelete = !ok
		return nil, nil
	}

	if err := svc.DeleteConversation(context.Background(), "cA"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	// Selection moved to the next remaining conversation before the
	// backend call, and the key was already evicted.
	if currentDuringDelete != "cB" {
		t.Fatalf("current during delete call = %q, want cB", currentDuringDelete)
	}
	if !evictedDuringDelete {
		t.Fatalf("deleted key still cached when the delete call fired")
	}
	if got := svc.Conversations(); len(got) != 2 || got[0] != "cB" || got[1] != "cC" {
		t.Fatalf("remaining conversations = %v", got)
	}
}

func TestDeleteLastConversationCreatesReplacement(t *testing.T) {
	req := newFakeRequester()
	svc, store := newTestService(req)

	store.Set("only", &Conversation{ID: "only"})
	svc.track("only")
	svc.Select("only")

	if err := svc.DeleteConversation(context.Background(), "only"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	current := svc.Current()
	if current == "" || current == "only" {
		t.Fatalf("current after deleting the last conversation = %q", current)
	}
	v, ok := store.Get(current)
	if !ok {
		t.Fatalf("replacement conversation not cached")
	}
	if v.(*Conversation).ID != current {
		t.Fatalf("replacement cached under mismatched id")
	}
}

func TestDeleteCancelsPendingFetches(t *testing.T) {
	req := newFakeRequester()

	fetchStarted := make(chan struct{}, 1)
	fetchCancelled := make(chan struct{}, 1)
	req.handler[wire.ActionConversationFetch] = func(interface{}) (json.RawMessage, error) {
		fetchStarted <- struct{}{}
		<-fetchCancelled
		return nil, context.Canceled
	}

	var svc *Service
	store := cache.NewMemoryStore(func(ctx context.Context, key string) (interface{}, error) {
		v, err := svc.FetchValue(ctx, key)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return v, err
	})
	svc = New(req, store, events.NewRouter(), nil, time.Second)

	store.Set("cA", &Conversation{ID: "cA"})
	svc.track("cA")
	svc.track("cB")
	svc.Select("cA")

	store.Invalidate("cA")
	<-fetchStarted

	done := make(chan error, 1)
	go func() {
		done <- svc.DeleteConversation(context.Background(), "cA")
	}()

	// The delete path cancels the pending fetch; release the blocked
	// handler so everything unwinds.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && store.PendingCount("cA") != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if store.PendingCount("cA") != 0 {
		t.Fatalf("pending fetch survived the delete")
	}
	fetchCancelled <- struct{}{}

	if err := <-done; err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, ok := store.Get("cA"); ok {
		t.Fatalf("deleted conversation still cached")
	}
}

// Aborting a delete mid-call keeps the pre-emptive effects (eviction,
// selection switch) but must still surface the cancellation to the caller.
func TestDeleteCancelledByUserSurfacesAbort(t *testing.T) {
	req := newFakeRequester()
	svc, store := newTestService(req)

	req.handler[wire.ActionConversationDelete] = func(interface{}) (json.RawMessage, error) {
		return nil, apperrors.Cancelled(wire.ActionConversationDelete)
	}

	store.Set("cA", &Conversation{ID: "cA"})
	svc.track("cA")
	svc.track("cB")
	svc.Select("cA")

	err := svc.DeleteConversation(context.Background(), "cA")
	if !apperrors.IsCancellation(err) {
		t.Fatalf("DeleteConversation = %v, want the cancellation error", err)
	}

	if got := svc.Current(); got != "cB" {
		t.Fatalf("current after aborted delete = %q, want cB", got)
	}
	if _, ok := store.Get("cA"); ok {
		t.Fatalf("aborted delete restored the evicted key")
	}
	// Unlike other failures, a cancellation must not trigger a refetch.
	for _, action := range req.callActions() {
		if action == wire.ActionConversationFetch {
			t.Fatalf("aborted delete refetched the conversation")
		}
	}
}

func TestDeleteFailureSurfacesAndRefetches(t *testing.T) {
	req := newFakeRequester()
	svc, store := newTestService(req)

	deleteErr := errors.New("backend unavailable")
	req.handler[wire.ActionConversationDelete] = func(interface{}) (json.RawMessage, error) {
		return nil, deleteErr
	}
	refetched := make(chan struct{}, 1)
	req.handler[wire.ActionConversationFetch] = func(interface{}) (json.RawMessage, error) {
		refetched <- struct{}{}
		return json.Marshal(Conversation{ID: "cA"})
	}

	store.Set("cA", &Conversation{ID: "cA"})
	svc.track("cA")
	svc.track("cB")

	if err := svc.DeleteConversation(context.Background(), "cA"); !errors.Is(err, deleteErr) {
		t.Fatalf("DeleteConversation = %v, want the backend error", err)
	}

	select {
	case <-refetched:
	case <-time.After(2 * time.Second):
		t.Fatalf("failed delete did not refetch server truth")
	}
}

func TestPushInvalidatesConversation(t *testing.T) {
	req := newFakeRequester()

	refetched := make(chan struct{}, 1)
	req.handler[wire.ActionConversationFetch] = func(interface{}) (json.RawMessage, error) {
		select {
		case refetched <- struct{}{}:
		default:
		}
		return json.Marshal(Conversation{ID: "c1", Name: "Fresh"})
	}

	router := events.NewRouter()
	var svc *Service
	store := cache.NewMemoryStore(func(ctx context.Context, key string) (interface{}, error) {
		return svc.FetchValue(ctx, key)
	})
	svc = New(req, store, router, nil, time.Second)
	svc.Start()
	defer svc.Stop()

	store.Set("c1", &Conversation{ID: "c1", Name: "Stale"})

	push, _ := wire.NewEvent(wire.ActionConversationUpdated, wire.ConversationRefPayload{ConversationID: "c1"})
	router.HandleFrame(push)

	select {
	case <-refetched:
	case <-time.After(2 * time.Second):
		t.Fatalf("push did not trigger a refetch")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := store.Get("c1"); ok && v.(*Conversation).Name == "Fresh" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cache not reconciled after push")
}
