package chat

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type fileSendJournal struct {
	path     string
	capacity int
	mu       sync.Mutex
	entries  []JournalEntry
}

type fileJournalState struct {
	Entries []JournalEntry `json:"entries"`
}

// NewFileSendJournal keeps the journal in a single JSON file, rewritten
// atomically on every record. Capacity bounds the retained tail.
func NewFileSendJournal(path string, capacity int) (SendJournal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = defaultJournalCapacity
	}
	j := &fileSendJournal{path: path, capacity: capacity}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *fileSendJournal) Record(entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	if len(j.entries) > j.capacity {
		j.entries = j.entries[len(j.entries)-j.capacity:]
	}
	return j.saveLocked()
}

func (j *fileSendJournal) Recent(limit int) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return recentEntries(j.entries, limit), nil
}

func (j *fileSendJournal) Close() error {
	return nil
}

func (j *fileSendJournal) load() error {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var state fileJournalState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	j.entries = state.Entries
	return nil
}

func (j *fileSendJournal) saveLocked() error {
	data, err := json.Marshal(fileJournalState{Entries: j.entries})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(j.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return writeFileAtomic(j.path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
