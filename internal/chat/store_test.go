package chat

import (
	"testing"
	"time"
)

func confirmedMessage(conversation ConversationKey, id, content string) Message {
	return Message{
		ID:           id,
		Conversation: conversation,
		Sender:       "u2",
		Recipient:    "u1",
		Content:      content,
		CreatedAt:    time.Now(),
	}
}

func TestStoreConfirmReplacesInPlace(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	store.AppendConfirmed(conversation, confirmedMessage(conversation, "m1", "first"))
	store.AppendPending(Draft{TempID: "tmp_1", Conversation: conversation, Sender: "u1", Content: "hello"})
	store.AppendConfirmed(conversation, confirmedMessage(conversation, "m2", "later"))

	confirmed := confirmedMessage(conversation, "m9", "hello")
	confirmed.ClientTempID = "tmp_1"
	if !store.Confirm(conversation, "tmp_1", confirmed) {
		t.Fatalf("expected confirm to find the pending entry")
	}

	snapshot := store.Snapshot(conversation)
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(snapshot))
	}
	if snapshot[1].ID != "m9" || snapshot[1].Optimistic {
		t.Fatalf("expected slot 1 to hold confirmed m9, got %+v", snapshot[1])
	}
	if snapshot[0].ID != "m1" || snapshot[2].ID != "m2" {
		t.Fatalf("expected surrounding order preserved, got %s / %s", snapshot[0].ID, snapshot[2].ID)
	}
}

func TestStoreConfirmFallsBackToFirstPending(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	store.AppendPending(Draft{TempID: "tmp_1", Conversation: conversation, Content: "a"})
	store.AppendPending(Draft{TempID: "tmp_2", Conversation: conversation, Content: "b"})

	if !store.Confirm(conversation, "", confirmedMessage(conversation, "m1", "a")) {
		t.Fatalf("expected fallback confirm to succeed")
	}
	snapshot := store.Snapshot(conversation)
	if snapshot[0].ID != "m1" || snapshot[0].Optimistic {
		t.Fatalf("expected first pending slot confirmed, got %+v", snapshot[0])
	}
	if !snapshot[1].Optimistic || snapshot[1].ClientTempID != "tmp_2" {
		t.Fatalf("expected second pending untouched, got %+v", snapshot[1])
	}
}

func TestStoreAppendConfirmedDeduplicatesByID(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	if !store.AppendConfirmed(conversation, confirmedMessage(conversation, "m1", "hi")) {
		t.Fatalf("expected first append to succeed")
	}
	if store.AppendConfirmed(conversation, confirmedMessage(conversation, "m1", "hi again")) {
		t.Fatalf("expected duplicate append to be rejected")
	}
	if got := len(store.Snapshot(conversation)); got != 1 {
		t.Fatalf("expected 1 message, got %d", got)
	}
}

func TestStoreRemovePendingLeavesConfirmedAlone(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	store.AppendPending(Draft{TempID: "tmp_1", Conversation: conversation, Content: "a"})
	confirmed := confirmedMessage(conversation, "m1", "a")
	confirmed.ClientTempID = "tmp_1"
	store.Confirm(conversation, "tmp_1", confirmed)

	if store.RemovePending(conversation, "tmp_1") {
		t.Fatalf("rollback after confirmation must be a no-op")
	}
	if got := len(store.Snapshot(conversation)); got != 1 {
		t.Fatalf("expected confirmed message to survive, got %d entries", got)
	}
}

func TestStoreTombstoneVersusRemoval(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	m1 := confirmedMessage(conversation, "m1", "secret")
	m1.Attachment = &Attachment{URL: "https://cdn/a.png", Type: "image"}
	m1.Reactions = []Reaction{{Emoji: "👍", UserID: "u2"}}
	store.AppendConfirmed(conversation, m1)
	store.AppendConfirmed(conversation, confirmedMessage(conversation, "m2", "other"))

	if !store.ApplyTombstone(conversation, "m1") {
		t.Fatalf("expected tombstone to apply")
	}
	snapshot := store.Snapshot(conversation)
	if len(snapshot) != 2 {
		t.Fatalf("tombstone must preserve the slot, got %d entries", len(snapshot))
	}
	got := snapshot[0]
	if !got.Deleted || got.Content != "" || got.Attachment != nil || len(got.Reactions) != 0 {
		t.Fatalf("expected cleared tombstone, got %+v", got)
	}

	if !store.Remove(conversation, "m2") {
		t.Fatalf("expected removal to apply")
	}
	if got := len(store.Snapshot(conversation)); got != 1 {
		t.Fatalf("delete-for-me must drop the entry, got %d", got)
	}
}

func TestStoreApplyEditNoOpWhenMissing(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	if store.ApplyEdit(conversation, "m404", "new") {
		t.Fatalf("expected edit of unloaded message to be a no-op")
	}
	store.AppendConfirmed(conversation, confirmedMessage(conversation, "m1", "old"))
	if !store.ApplyEdit(conversation, "m1", "new") {
		t.Fatalf("expected edit to apply")
	}
	snapshot := store.Snapshot(conversation)
	if snapshot[0].Content != "new" || !snapshot[0].Edited {
		t.Fatalf("expected edited content, got %+v", snapshot[0])
	}
}

func TestStoreSetReactionsReplacesWholesale(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	m1 := confirmedMessage(conversation, "m1", "hi")
	m1.Reactions = []Reaction{{Emoji: "👍", UserID: "u1"}, {Emoji: "👍", UserID: "u2"}}
	store.AppendConfirmed(conversation, m1)

	store.SetReactions(conversation, "m1", []Reaction{{Emoji: "🎉", UserID: "u3"}})
	snapshot := store.Snapshot(conversation)
	if len(snapshot[0].Reactions) != 1 || snapshot[0].Reactions[0].Emoji != "🎉" {
		t.Fatalf("expected authoritative replacement, got %+v", snapshot[0].Reactions)
	}
}

func TestStoreEditNeverTouchesPendingEntries(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	store.AppendPending(Draft{TempID: "tmp_1", Conversation: conversation, Content: "draft"})
	if store.ApplyEdit(conversation, "tmp_1", "mutated") {
		t.Fatalf("pending entries must not be editable by id")
	}
	if store.ApplyTombstone(conversation, "tmp_1") || store.Remove(conversation, "tmp_1") {
		t.Fatalf("pending entries must not be deletable by id")
	}
	if store.SetReactions(conversation, "tmp_1", []Reaction{{Emoji: "👍", UserID: "u2"}}) {
		t.Fatalf("pending entries must not accept reactions")
	}
}

func TestStoreReseedPreservesPendingTail(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	store.AppendConfirmed(conversation, confirmedMessage(conversation, "stale", "old history"))
	store.AppendPending(Draft{TempID: "tmp_1", Conversation: conversation, Content: "in flight"})
	store.AppendPending(Draft{TempID: "tmp_2", Conversation: conversation, Content: "also in flight"})

	store.Reseed(conversation, []Message{
		confirmedMessage(conversation, "m1", "a"),
		confirmedMessage(conversation, "m2", "b"),
		confirmedMessage(conversation, "m2", "duplicate"),
	})

	snapshot := store.Snapshot(conversation)
	if len(snapshot) != 4 {
		t.Fatalf("expected 2 fetched + 2 pending, got %d", len(snapshot))
	}
	if snapshot[0].ID != "m1" || snapshot[1].ID != "m2" {
		t.Fatalf("expected fetched history first, got %+v", snapshot[:2])
	}
	if snapshot[2].ClientTempID != "tmp_1" || snapshot[3].ClientTempID != "tmp_2" {
		t.Fatalf("expected pending entries preserved in order, got %+v", snapshot[2:])
	}
}

func TestStoreOrderingAcrossOutOfOrderConfirmations(t *testing.T) {
	store := NewConversationStore()
	conversation := DirectConversation("u2")
	store.AppendPending(Draft{TempID: "tmp_a", Conversation: conversation, Content: "a"})
	store.AppendPending(Draft{TempID: "tmp_b", Conversation: conversation, Content: "b"})
	store.AppendPending(Draft{TempID: "tmp_c", Conversation: conversation, Content: "c"})

	store.Confirm(conversation, "tmp_c", confirmedMessage(conversation, "mc", "c"))
	store.Confirm(conversation, "tmp_a", confirmedMessage(conversation, "ma", "a"))
	store.Confirm(conversation, "tmp_b", confirmedMessage(conversation, "mb", "b"))

	snapshot := store.Snapshot(conversation)
	want := []string{"ma", "mb", "mc"}
	for i, id := range want {
		if snapshot[i].ID != id {
			t.Fatalf("expected submission order preserved, got %s at %d", snapshot[i].ID, i)
		}
	}
}
