package chat

// Event names shared by the socket transport and the engine. Outgoing intents
// use the imperative form, server pushes the past-tense form.
const (
	EventMessageSend      = "message:send"
	EventMessageCreated   = "message:created"
	EventMessageConfirmed = "message:confirmed"
	EventMessageEdit      = "message:edit"
	EventMessageEdited    = "message:edited"
	EventMessageDelete    = "message:delete"
	EventMessageDeleted   = "message:deleted"
	EventReactionAdd      = "reaction:add"
	EventReactionRemove   = "reaction:remove"
	EventReactionChanged  = "reaction:changed"
)

type SendPayload struct {
	ClientTempID string          `json:"clientTempId"`
	Conversation ConversationKey `json:"conversation"`
	Recipient    string          `json:"recipient,omitempty"`
	Content      string          `json:"content"`
	Attachment   *Attachment     `json:"attachment,omitempty"`
}

type EditPayload struct {
	Conversation ConversationKey `json:"conversation"`
	MessageID    string          `json:"messageId"`
	Content      string          `json:"content"`
}

type DeletePayload struct {
	Conversation ConversationKey `json:"conversation"`
	MessageID    string          `json:"messageId"`
	ForEveryone  bool            `json:"forEveryone"`
}

type ReactionPayload struct {
	Conversation ConversationKey `json:"conversation"`
	MessageID    string          `json:"messageId"`
	Emoji        string          `json:"emoji"`
}

// CreatedEvent announces a counterpart's message to recipients.
type CreatedEvent struct {
	Message Message `json:"message"`
}

// ConfirmedEvent is the sender-side echo carrying the authoritative record
// plus the temp id of the optimistic entry it settles.
type ConfirmedEvent struct {
	ClientTempID string  `json:"clientTempId,omitempty"`
	Message      Message `json:"message"`
}

type EditedEvent struct {
	Conversation ConversationKey `json:"conversation"`
	MessageID    string          `json:"messageId"`
	Content      string          `json:"content"`
}

type DeletedEvent struct {
	Conversation ConversationKey `json:"conversation"`
	MessageID    string          `json:"messageId"`
	ForEveryone  bool            `json:"forEveryone"`
}

// ReactionChangedEvent carries the server's authoritative reaction set for a
// message; it replaces local state wholesale rather than incrementing it.
type ReactionChangedEvent struct {
	Conversation ConversationKey `json:"conversation"`
	MessageID    string          `json:"messageId"`
	Reactions    []Reaction      `json:"reactions"`
}
