package chat

import (
	"sync"
	"time"
)

type SendOutcome string

const (
	OutcomeSent       SendOutcome = "sent"
	OutcomeConfirmed  SendOutcome = "confirmed"
	OutcomeFailed     SendOutcome = "failed"
	OutcomeRolledBack SendOutcome = "rolled_back"
)

// JournalEntry records one step of a send's lifecycle. The journal is
// diagnostics only; it never feeds back into reconciliation and it does not
// persist conversation content beyond the ids needed to correlate.
type JournalEntry struct {
	TempID       string          `json:"tempId"`
	Conversation ConversationKey `json:"conversation"`
	MessageID    string          `json:"messageId,omitempty"`
	Outcome      SendOutcome     `json:"outcome"`
	Detail       string          `json:"detail,omitempty"`
	At           time.Time       `json:"at"`
}

type SendJournal interface {
	Record(entry JournalEntry) error
	Recent(limit int) ([]JournalEntry, error)
	Close() error
}

const defaultJournalCapacity = 256

type memorySendJournal struct {
	mu       sync.Mutex
	capacity int
	entries  []JournalEntry
}

func NewMemorySendJournal(capacity int) SendJournal {
	if capacity <= 0 {
		capacity = defaultJournalCapacity
	}
	return &memorySendJournal{capacity: capacity}
}

func (j *memorySendJournal) Record(entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	if len(j.entries) > j.capacity {
		j.entries = j.entries[len(j.entries)-j.capacity:]
	}
	return nil
}

func (j *memorySendJournal) Recent(limit int) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return recentEntries(j.entries, limit), nil
}

func (j *memorySendJournal) Close() error {
	return nil
}

// recentEntries returns up to limit entries, newest first.
func recentEntries(entries []JournalEntry, limit int) []JournalEntry {
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]JournalEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out
}
