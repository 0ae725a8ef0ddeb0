package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversationKey identifies one open conversation, derived from the
// counterpart user or group.
type ConversationKey string

func DirectConversation(userID string) ConversationKey {
	return ConversationKey("user:" + strings.TrimSpace(userID))
}

func GroupConversation(groupID string) ConversationKey {
	return ConversationKey("group:" + strings.TrimSpace(groupID))
}

// Counterpart returns the user or group id the key was derived from.
func (k ConversationKey) Counterpart() string {
	s := string(k)
	if idx := strings.Index(s, ":"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

func (k ConversationKey) IsGroup() bool {
	return strings.HasPrefix(string(k), "group:")
}

type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// Message is a server-confirmed conversation entry. ClientTempID is echoed
// back on the sender's own messages so confirmations can be correlated; it is
// never delivered to other participants.
type Message struct {
	ID           string          `json:"id"`
	ClientTempID string          `json:"clientTempId,omitempty"`
	Conversation ConversationKey `json:"conversation"`
	Sender       string          `json:"sender"`
	Recipient    string          `json:"recipient,omitempty"`
	Content      string          `json:"content"`
	Attachment   *Attachment     `json:"attachment,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	Edited       bool            `json:"edited,omitempty"`
	Deleted      bool            `json:"deleted,omitempty"`
	Reactions    []Reaction      `json:"reactions,omitempty"`

	// Optimistic is set only on store snapshots, for entries that are still
	// awaiting confirmation. It is never sent over the wire.
	Optimistic bool `json:"optimistic,omitempty"`
}

// Draft is a locally authored message awaiting server confirmation. It has no
// server id; TempID is its only identity.
type Draft struct {
	TempID       string
	Conversation ConversationKey
	Sender       string
	Recipient    string
	Content      string
	Attachment   *Attachment
	CreatedAt    time.Time
}

const tempIDPrefix = "tmp_"

// NewTempID returns a client-generated identifier in a namespace that cannot
// collide with server-assigned message ids.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
