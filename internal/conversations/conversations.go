// Package conversations implements the conversation-level operations the
// chat UI triggers: sending a message, regenerating a reply, renaming,
// pinning, and deleting conversations. Every state-changing operation runs
// through the optimistic mutation engine so the UI reflects it immediately,
// with the shared cache reconciled against (or rolled back to) server truth
// afterwards.
package conversations

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GenorTG/personal-assistant-sub001/internal/apperrors"
	"github.com/GenorTG/personal-assistant-sub001/internal/cache"
	"github.com/GenorTG/personal-assistant-sub001/internal/clientstate"
	"github.com/GenorTG/personal-assistant-sub001/internal/events"
	"github.com/GenorTG/personal-assistant-sub001/internal/optimistic"
	"github.com/GenorTG/personal-assistant-sub001/internal/wire"
)

// Message is one entry in a conversation transcript.
type Message struct {
	// ID is the server-assigned message id. Empty while the message is
	// only optimistic (not yet confirmed).
	ID string `json:"id,omitempty"`

	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// Conversation is the cached value for one conversation key.
type Conversation struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Pinned   bool      `json:"pinned"`
	Messages []Message `json:"messages"`
}

// clone returns a deep copy so staged values never alias the cached one.
func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	return &cp
}

// Requester issues a correlated request and settles exactly once. The
// service depends only on this promise-shaped contract, not on whether the
// underlying transport is the socket request path or HTTP.
type Requester interface {
	Request(ctx context.Context, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error)
}

// Service coordinates conversation operations against the shared cache.
type Service struct {
	requester Requester
	store     cache.Store
	engine    *optimistic.Engine
	router    *events.Router
	state     *clientstate.Store // may be nil (no persistence)
	timeout   time.Duration

	mu      sync.Mutex
	current string
	order   []string // known conversation ids, display order

	unsubs []func()
}

// New creates a conversation service. The state store may be nil, in which
// case selection is not persisted.
func New(requester Requester, store cache.Store, router *events.Router, state *clientstate.Store, timeout time.Duration) *Service {
	s := &Service{
		requester: requester,
		store:     store,
		engine:    optimistic.NewEngine(store),
		router:    router,
		state:     state,
		timeout:   timeout,
	}
	if state != nil {
		if last := state.LastConversation(); last != "" {
			s.current = last
		}
	}
	return s
}

// Start subscribes to the server pushes that keep the cache fresh.
func (s *Service) Start() {
	s.unsubs = append(s.unsubs,
		s.router.Subscribe(wire.ActionMessageAppended, func(payload json.RawMessage) {
			var p wire.MessageAppendedPayload
			if err := wire.DecodePayload(payload, &p); err != nil {
				log.Printf("conversations: bad message.appended payload: %v", err)
				return
			}
			s.store.Invalidate(p.ConversationID)
		}),
		s.router.Subscribe(wire.ActionConversationUpdated, func(payload json.RawMessage) {
			var p wire.ConversationRefPayload
			if err := wire.DecodePayload(payload, &p); err != nil {
				log.Printf("conversations: bad conversation.updated payload: %v", err)
				return
			}
			s.store.Invalidate(p.ConversationID)
		}),
	)
}

// Stop removes the push subscriptions.
func (s *Service) Stop() {
	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil
}

// FetchValue is the cache.Fetcher for conversation keys. Wire it into the
// store with cache.NewMemoryStore(service.FetchValue) — the service is
// created afterwards with that store.
func (s *Service) FetchValue(ctx context.Context, key string) (interface{}, error) {
	raw, err := s.requester.Request(ctx, wire.ActionConversationFetch,
		wire.ConversationRefPayload{ConversationID: key}, s.timeout)
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, err
	}
	s.track(conv.ID)
	return &conv, nil
}

// Current returns the id of the displayed conversation, or "".
func (s *Service) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Select makes a conversation current and persists the selection.
func (s *Service) Select(id string) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	s.track(id)
	s.persistSelection(id)
}

// Conversations returns the known conversation ids in display order.
func (s *Service) Conversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// SendMessage appends a user message optimistically and asks the backend to
// generate a reply. The transcript shows the message before the network
// call settles.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string) error {
	s.track(conversationID)
	_, err := s.engine.Mutate(ctx, conversationID,
		func(old interface{}) interface{} {
			conv := asConversation(old, conversationID)
			conv.Messages = append(conv.Messages, Message{Role: "user", Content: content})
			return conv
		},
		func(ctx context.Context) error {
			_, err := s.requester.Request(ctx, wire.ActionChatSend,
				wire.ChatSendPayload{ConversationID: conversationID, Content: content}, s.timeout)
			return err
		})
	return err
}

// RegenerateReply drops the trailing assistant message optimistically and
// asks the backend for a fresh one (delivered later via message.appended).
func (s *Service) RegenerateReply(ctx context.Context, conversationID string) error {
	_, err := s.engine.Mutate(ctx, conversationID,
		func(old interface{}) interface{} {
			conv := asConversation(old, conversationID)
			if n := len(conv.Messages); n > 0 && conv.Messages[n-1].Role == "assistant" {
				conv.Messages = conv.Messages[:n-1]
			}
			return conv
		},
		func(ctx context.Context) error {
			_, err := s.requester.Request(ctx, wire.ActionChatRegenerate,
				wire.ConversationRefPayload{ConversationID: conversationID}, s.timeout)
			return err
		})
	return err
}

// RenameConversation changes the display name optimistically.
func (s *Service) RenameConversation(ctx context.Context, conversationID, name string) error {
	_, err := s.engine.Mutate(ctx, conversationID,
		func(old interface{}) interface{} {
			conv := asConversation(old, conversationID)
			conv.Name = name
			return conv
		},
		func(ctx context.Context) error {
			_, err := s.requester.Request(ctx, wire.ActionConversationRename,
				wire.ConversationRenamePayload{ConversationID: conversationID, Name: name}, s.timeout)
			return err
		})
	return err
}

// SetPinned toggles the pinned flag optimistically.
func (s *Service) SetPinned(ctx context.Context, conversationID string, pinned bool) error {
	_, err := s.engine.Mutate(ctx, conversationID,
		func(old interface{}) interface{} {
			conv := asConversation(old, conversationID)
			conv.Pinned = pinned
			return conv
		},
		func(ctx context.Context) error {
			_, err := s.requester.Request(ctx, wire.ActionConversationPin,
				wire.ConversationPinPayload{ConversationID: conversationID, Pinned: pinned}, s.timeout)
			return err
		})
	return err
}

// DeleteConversation removes a conversation. Deletion is the one mutation
// with pre-emptive effects: before the delete call fires, in-flight fetches
// for the key are cancelled and its cache entry evicted so a straggling
// response cannot repopulate a deleted conversation, and if the deleted
// conversation is currently displayed, a replacement is selected first so
// the UI never fetches a 404.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	wasCurrent := s.current == conversationID
	s.removeLocked(conversationID)
	var replacement string
	if wasCurrent {
		if len(s.order) > 0 {
			replacement = s.order[0]
		} else {
			// Nothing left: create a fresh local conversation so the
			// UI always has a selection.
			replacement = uuid.New().String()
			s.order = append(s.order, replacement)
		}
		s.current = replacement
	}
	s.mu.Unlock()

	if wasCurrent {
		if _, ok := s.store.Get(replacement); !ok {
			s.store.Set(replacement, &Conversation{ID: replacement, Name: "New conversation"})
		}
		s.persistSelection(replacement)
	}

	s.store.CancelPending(conversationID)
	s.store.Evict(conversationID)

	_, err := s.requester.Request(ctx, wire.ActionConversationDelete,
		wire.ConversationRefPayload{ConversationID: conversationID}, s.timeout)
	if err == nil {
		return nil
	}
	if apperrors.IsCancellation(err) {
		// Aborted by the user: the pre-emptive eviction and selection
		// switch stay, but the caller must see the abort.
		return err
	}
	// The delete may not have happened server-side. Refetch truth; if the
	// conversation still exists it reappears, otherwise the key stays gone.
	log.Printf("conversations: delete %s failed: %v", conversationID, err)
	s.track(conversationID)
	s.store.Invalidate(conversationID)
	return err
}

// track records a conversation id in display order, once.
func (s *Service) track(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.order {
		if v == id {
			return
		}
	}
	s.order = append(s.order, id)
}

// removeLocked drops id from the display order. Caller holds mu.
func (s *Service) removeLocked(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Service) persistSelection(id string) {
	if s.state == nil {
		return
	}
	if err := s.state.SetLastConversation(id); err != nil {
		log.Printf("conversations: persisting selection: %v", err)
	}
}

// asConversation adapts a cached value for staging: nil becomes an empty
// conversation, and existing values are cloned so staging never mutates the
// cached value in place.
func asConversation(old interface{}, id string) *Conversation {
	if conv, ok := old.(*Conversation); ok && conv != nil {
		return conv.clone()
	}
	return &Conversation{ID: id}
}
