package chat

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrNotFound     = errors.New("message not found")
	ErrStillPending = errors.New("message is still awaiting confirmation")
	ErrEmptyMessage = errors.New("message has no content or attachment")
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("engine closed")
)

type AckStatus string

const (
	AckSuccess AckStatus = "success"
	AckQueued  AckStatus = "queued"
	AckError   AckStatus = "error"
)

// Ack is the delivery outcome an emit-with-acknowledgement send reports back.
type Ack struct {
	Status  AckStatus
	Message string
}

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

// Transport is the bidirectional event channel the engine sends through and
// subscribes on. Implementations own connect/reconnect; the engine only asks
// whether the channel is currently usable.
type Transport interface {
	IsConnected() bool
	Send(event string, payload any, ack func(Ack)) error
	On(event string, h Handler) (off func())
	Close() error
}

// RestClient is the request/response fallback. All calls are awaited
// directly, so none of them need temp-id correlation.
type RestClient interface {
	CreateMessage(ctx context.Context, draft Draft) (Message, error)
	UpdateMessage(ctx context.Context, conversation ConversationKey, id, content string) (Message, error)
	DeleteMessage(ctx context.Context, conversation ConversationKey, id string, forEveryone bool) error
	AddReaction(ctx context.Context, conversation ConversationKey, id, emoji string) (Message, error)
	RemoveReaction(ctx context.Context, conversation ConversationKey, id, emoji string) (Message, error)
	ListMessages(ctx context.Context, conversation ConversationKey, limit int) ([]Message, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type NoticeKind string

const (
	NoticeSendFailed     NoticeKind = "send_failed"
	NoticeSendRolledBack NoticeKind = "send_rolled_back"
	NoticeActionFailed   NoticeKind = "action_failed"
)

// Notice is a user-facing failure report. Background reconciliation surfaces
// only rollback notices, never raw error payloads.
type Notice struct {
	Kind         NoticeKind
	Conversation ConversationKey
	TempID       string
	Message      string
}

type Notifier func(Notice)
