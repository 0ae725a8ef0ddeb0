package chatwire

import (
	"testing"

	"github.com/agentworkforce/relaychat/internal/chat"
)

func TestValidateConfirmedEventAcceptsFullFrame(t *testing.T) {
	payload := []byte(`{
		"clientTempId": "tmp_1",
		"message": {
			"id": "m1",
			"clientTempId": "tmp_1",
			"conversation": "user:u2",
			"sender": "u1",
			"recipient": "u2",
			"content": "hello",
			"createdAt": "2026-09-01T10:00:00Z",
			"reactions": [{"emoji": "👍", "userId": "u2"}]
		}
	}`)
	if err := validateEventPayload(chat.EventMessageConfirmed, payload); err != nil {
		t.Fatalf("expected a valid frame, got %v", err)
	}
}

func TestValidateConfirmedEventRejectsMissingMessage(t *testing.T) {
	if err := validateEventPayload(chat.EventMessageConfirmed, []byte(`{"clientTempId": "tmp_1"}`)); err == nil {
		t.Fatalf("expected rejection without the message field")
	}
}

func TestValidateMessageRejectsMissingID(t *testing.T) {
	payload := []byte(`{
		"message": {
			"conversation": "user:u2",
			"sender": "u1",
			"createdAt": "2026-09-01T10:00:00Z"
		}
	}`)
	if err := validateEventPayload(chat.EventMessageCreated, payload); err == nil {
		t.Fatalf("expected rejection of a message without an id")
	}
}

func TestValidateDeletedEventRequiresTarget(t *testing.T) {
	valid := []byte(`{"conversation": "user:u2", "messageId": "m1", "forEveryone": true}`)
	if err := validateEventPayload(chat.EventMessageDeleted, valid); err != nil {
		t.Fatalf("expected a valid frame, got %v", err)
	}
	if err := validateEventPayload(chat.EventMessageDeleted, []byte(`{"conversation": "user:u2"}`)); err == nil {
		t.Fatalf("expected rejection without a message id")
	}
}

func TestValidateUnknownEventSkipsValidation(t *testing.T) {
	if err := validateEventPayload("presence:changed", []byte(`"whatever"`)); err != nil {
		t.Fatalf("unknown events carry no schema, got %v", err)
	}
}

func TestValidateRejectsEmptyAndMalformedPayloads(t *testing.T) {
	if err := validateEventPayload(chat.EventMessageEdited, nil); err == nil {
		t.Fatalf("expected rejection of an empty payload")
	}
	if err := validateEventPayload(chat.EventMessageEdited, []byte(`{"conversation":`)); err == nil {
		t.Fatalf("expected rejection of malformed JSON")
	}
}
