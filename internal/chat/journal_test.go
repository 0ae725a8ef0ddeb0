package chat

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func journalEntry(tempID string, outcome SendOutcome) JournalEntry {
	return JournalEntry{
		TempID:       tempID,
		Conversation: DirectConversation("u2"),
		Outcome:      outcome,
		At:           time.Now(),
	}
}

func TestMemoryJournalRecentNewestFirst(t *testing.T) {
	journal := NewMemorySendJournal(10)
	for i := 0; i < 3; i++ {
		if err := journal.Record(journalEntry(fmt.Sprintf("tmp_%d", i), OutcomeSent)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := journal.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].TempID != "tmp_2" || got[1].TempID != "tmp_1" {
		t.Fatalf("expected newest first, got %+v", got)
	}
}

func TestMemoryJournalBoundsCapacity(t *testing.T) {
	journal := NewMemorySendJournal(2)
	for i := 0; i < 5; i++ {
		if err := journal.Record(journalEntry(fmt.Sprintf("tmp_%d", i), OutcomeSent)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := journal.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].TempID != "tmp_4" || got[1].TempID != "tmp_3" {
		t.Fatalf("expected the retained tail, got %+v", got)
	}
}

func TestFileJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	journal, err := NewFileSendJournal(path, 10)
	if err != nil {
		t.Fatalf("NewFileSendJournal: %v", err)
	}
	if err := journal.Record(journalEntry("tmp_1", OutcomeSent)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := journal.Record(journalEntry("tmp_1", OutcomeConfirmed)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewFileSendJournal(path, 10)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Outcome != OutcomeConfirmed || got[1].Outcome != OutcomeSent {
		t.Fatalf("expected persisted lifecycle, got %+v", got)
	}
}

func TestFileJournalRejectsEmptyPath(t *testing.T) {
	if _, err := NewFileSendJournal("  ", 10); err == nil {
		t.Fatalf("expected an error for a blank path")
	}
}

func TestBuildSendJournalFromDSN(t *testing.T) {
	if journal, err := BuildSendJournalFromDSN("", 10); err != nil || journal != nil {
		t.Fatalf("empty DSN must mean no journal, got %v / %v", journal, err)
	}

	journal, err := BuildSendJournalFromDSN("memory://", 10)
	if err != nil {
		t.Fatalf("memory DSN: %v", err)
	}
	if _, ok := journal.(*memorySendJournal); !ok {
		t.Fatalf("expected the memory backend, got %T", journal)
	}

	path := filepath.Join(t.TempDir(), "journal.json")
	journal, err = BuildSendJournalFromDSN(path, 10)
	if err != nil {
		t.Fatalf("bare path DSN: %v", err)
	}
	if _, ok := journal.(*fileSendJournal); !ok {
		t.Fatalf("expected the file backend, got %T", journal)
	}

	journal, err = BuildSendJournalFromDSN("file://"+path, 10)
	if err != nil {
		t.Fatalf("file DSN: %v", err)
	}
	if _, ok := journal.(*fileSendJournal); !ok {
		t.Fatalf("expected the file backend, got %T", journal)
	}

	if _, err := BuildSendJournalFromDSN("carrierpigeon://nowhere", 10); err == nil {
		t.Fatalf("expected an error for an unknown scheme")
	}
}

func TestRegisteredFactoryOverridesScheme(t *testing.T) {
	called := false
	RegisterSendJournalFactory("custom", func(dsn string, capacity int) (SendJournal, error) {
		called = true
		return NewMemorySendJournal(capacity), nil
	})
	journal, err := BuildSendJournalFromDSN("custom://anything", 5)
	if err != nil {
		t.Fatalf("custom DSN: %v", err)
	}
	if !called || journal == nil {
		t.Fatalf("expected the registered factory to serve the scheme")
	}
}

func TestPostgresJournalRejectsEmptyDSN(t *testing.T) {
	if _, err := NewPostgresSendJournal(""); err == nil {
		t.Fatalf("expected an error for an empty DSN")
	}
}
