package wire

import "encoding/json"

// Action names for the conversation protocol.
// Requests and pushes share the same action namespace; the frame kind keeps
// the two addressing schemes from colliding.
const (
	// ActionChatSend asks the backend to append a user message to a
	// conversation and start generating a reply.
	// Request payload: ChatSendPayload
	ActionChatSend = "chat.send"

	// ActionChatRegenerate asks the backend to regenerate the last
	// assistant reply in a conversation.
	// Request payload: ConversationRefPayload
	ActionChatRegenerate = "chat.regenerate"

	// ActionConversationRename changes a conversation's display name.
	// Request payload: ConversationRenamePayload
	ActionConversationRename = "conversation.rename"

	// ActionConversationPin toggles a conversation's pinned flag.
	// Request payload: ConversationPinPayload
	ActionConversationPin = "conversation.pin"

	// ActionConversationDelete removes a conversation permanently.
	// Request payload: ConversationRefPayload
	ActionConversationDelete = "conversation.delete"

	// ActionConversationFetch reads a conversation's authoritative state.
	// Request payload: ConversationRefPayload
	ActionConversationFetch = "conversation.fetch"

	// ActionConversationUpdated is pushed when conversation metadata
	// changed on the server (rename, pin, participant updates).
	// Event payload: ConversationRefPayload
	ActionConversationUpdated = "conversation.updated"

	// ActionMessageAppended is pushed when the backend appends a message
	// (typically generated assistant output) to a conversation.
	// Event payload: MessageAppendedPayload
	ActionMessageAppended = "message.appended"

	// ActionPing is a lightweight liveness request usable over the socket.
	ActionPing = "ping"
)

// ChatSendPayload carries a user message to append to a conversation.
type ChatSendPayload struct {
	// ConversationID identifies the target conversation.
	ConversationID string `json:"conversation_id"`

	// Content is the user's message text.
	Content string `json:"content"`
}

// ConversationRefPayload references a conversation by id.
type ConversationRefPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationRenamePayload carries a rename request.
type ConversationRenamePayload struct {
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
}

// ConversationPinPayload carries a pin toggle request.
type ConversationPinPayload struct {
	ConversationID string `json:"conversation_id"`
	Pinned         bool   `json:"pinned"`
}

// MessageAppendedPayload is pushed when the server appends a message.
type MessageAppendedPayload struct {
	ConversationID string `json:"conversation_id"`

	// MessageID is the server-assigned id for the appended message.
	MessageID string `json:"message_id"`

	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text. May be a partial chunk while the
	// assistant is still generating.
	Content string `json:"content"`
}

// DecodePayload unmarshals a frame payload into the given struct.
func DecodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
