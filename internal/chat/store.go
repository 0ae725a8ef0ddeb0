package chat

import "sync"

// entry is the tagged variant behind every list slot: a still-pending draft
// or a confirmed record, never both. Keeping the two as separate fields makes
// "act on a confirmed id" impossible to express against a pending slot.
type entry struct {
	pending   *Draft
	confirmed *Message
}

// ConversationStore holds the ordered, deduplicated message list per
// conversation. It is mutated only by the Engine; Snapshot gives everyone
// else read-only copies.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[ConversationKey][]entry
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: map[ConversationKey][]entry{},
	}
}

// AppendPending inserts an optimistic entry at the tail of its conversation.
func (s *ConversationStore) AppendPending(draft Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := draft
	s.conversations[draft.Conversation] = append(s.conversations[draft.Conversation], entry{pending: &d})
}

// Confirm replaces the optimistic entry matching tempID with the confirmed
// record, preserving its list position. An empty tempID falls back to the
// first pending entry in the conversation (temp-id echo unavailable).
// Returns false when no pending entry matched.
func (s *ConversationStore) Confirm(conversation ConversationKey, tempID string, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.conversations[conversation]
	for i := range entries {
		if entries[i].pending == nil {
			continue
		}
		if tempID != "" && entries[i].pending.TempID != tempID {
			continue
		}
		m := msg
		entries[i] = entry{confirmed: &m}
		return true
	}
	return false
}

// AppendConfirmed appends a confirmed record unless its id is already
// present. Returns false on duplicate.
func (s *ConversationStore) AppendConfirmed(conversation ConversationKey, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOfLocked(conversation, msg.ID) >= 0 {
		return false
	}
	m := msg
	s.conversations[conversation] = append(s.conversations[conversation], entry{confirmed: &m})
	return true
}

// RemovePending drops the optimistic entry for tempID. Confirmed entries are
// never touched, so a rollback that lost the race to a confirmation is a
// no-op.
func (s *ConversationStore) RemovePending(conversation ConversationKey, tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.conversations[conversation]
	for i := range entries {
		if entries[i].pending != nil && entries[i].pending.TempID == tempID {
			s.conversations[conversation] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// ContainsID reports whether a confirmed record with the given id is loaded.
func (s *ConversationStore) ContainsID(conversation ConversationKey, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfLocked(conversation, id) >= 0
}

// HasPending reports whether the id refers to a still-pending entry.
func (s *ConversationStore) HasPending(conversation ConversationKey, tempID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.conversations[conversation] {
		if e.pending != nil && e.pending.TempID == tempID {
			return true
		}
	}
	return false
}

// Replace swaps a confirmed record wholesale, matched by id, preserving
// position. Used for authoritative REST responses.
func (s *ConversationStore) Replace(conversation ConversationKey, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(conversation, msg.ID)
	if idx < 0 {
		return false
	}
	m := msg
	s.conversations[conversation][idx] = entry{confirmed: &m}
	return true
}

// ApplyEdit mutates a confirmed record's content in place and marks it
// edited. No-op when the id is not loaded.
func (s *ConversationStore) ApplyEdit(conversation ConversationKey, id, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(conversation, id)
	if idx < 0 {
		return false
	}
	msg := s.conversations[conversation][idx].confirmed
	msg.Content = content
	msg.Edited = true
	return true
}

// ApplyTombstone converts a confirmed record into a "deleted for everyone"
// slot: content and attachment cleared, position preserved.
func (s *ConversationStore) ApplyTombstone(conversation ConversationKey, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(conversation, id)
	if idx < 0 {
		return false
	}
	msg := s.conversations[conversation][idx].confirmed
	msg.Deleted = true
	msg.Content = ""
	msg.Attachment = nil
	msg.Reactions = nil
	return true
}

// Remove drops a confirmed record entirely ("deleted for me").
func (s *ConversationStore) Remove(conversation ConversationKey, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(conversation, id)
	if idx < 0 {
		return false
	}
	entries := s.conversations[conversation]
	s.conversations[conversation] = append(entries[:idx], entries[idx+1:]...)
	return true
}

// SetReactions replaces a record's reaction set with the server's
// authoritative one.
func (s *ConversationStore) SetReactions(conversation ConversationKey, id string, reactions []Reaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(conversation, id)
	if idx < 0 {
		return false
	}
	s.conversations[conversation][idx].confirmed.Reactions = append([]Reaction(nil), reactions...)
	return true
}

// Reseed replaces a conversation's confirmed history with a fresh fetch,
// keeping that conversation's still-pending entries at the tail in their
// original order. In-flight sends survive a navigate-away-and-back.
func (s *ConversationStore) Reseed(conversation ConversationKey, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]entry, 0, len(msgs))
	seen := map[string]bool{}
	for _, msg := range msgs {
		if msg.ID == "" || seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		m := msg
		next = append(next, entry{confirmed: &m})
	}
	for _, e := range s.conversations[conversation] {
		if e.pending != nil {
			next = append(next, e)
		}
	}
	s.conversations[conversation] = next
}

// PendingCount reports how many optimistic entries a conversation holds.
func (s *ConversationStore) PendingCount(conversation ConversationKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.conversations[conversation] {
		if e.pending != nil {
			n++
		}
	}
	return n
}

// Snapshot returns a render-ready copy of a conversation in insertion order.
// Pending drafts appear as messages with Optimistic set and their temp id in
// ClientTempID.
func (s *ConversationStore) Snapshot(conversation ConversationKey) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.conversations[conversation]
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		if e.pending != nil {
			d := e.pending
			out = append(out, Message{
				ClientTempID: d.TempID,
				Conversation: d.Conversation,
				Sender:       d.Sender,
				Recipient:    d.Recipient,
				Content:      d.Content,
				Attachment:   d.Attachment,
				CreatedAt:    d.CreatedAt,
				Optimistic:   true,
			})
			continue
		}
		msg := *e.confirmed
		msg.Reactions = append([]Reaction(nil), e.confirmed.Reactions...)
		out = append(out, msg)
	}
	return out
}

func (s *ConversationStore) indexOfLocked(conversation ConversationKey, id string) int {
	if id == "" {
		return -1
	}
	for i, e := range s.conversations[conversation] {
		if e.confirmed != nil && e.confirmed.ID == id {
			return i
		}
	}
	return -1
}
