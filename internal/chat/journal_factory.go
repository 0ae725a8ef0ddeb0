package chat

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type SendJournalFactory func(dsn string, capacity int) (SendJournal, error)

var journalFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]SendJournalFactory
}{
	factories: map[string]SendJournalFactory{},
}

// RegisterSendJournalFactory lets embedders plug in journal backends for
// additional DSN schemes. Registrations override the built-in schemes.
func RegisterSendJournalFactory(scheme string, factory SendJournalFactory) {
	scheme = normalizeJournalScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	journalFactoryRegistry.mu.Lock()
	defer journalFactoryRegistry.mu.Unlock()
	journalFactoryRegistry.factories[scheme] = factory
}

func lookupSendJournalFactory(scheme string) (SendJournalFactory, bool) {
	scheme = normalizeJournalScheme(scheme)
	journalFactoryRegistry.mu.RLock()
	defer journalFactoryRegistry.mu.RUnlock()
	factory, ok := journalFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildSendJournalFromDSN picks the journal backend by DSN scheme. An empty
// DSN means no journal.
func BuildSendJournalFromDSN(dsn string, capacity int) (SendJournal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeJournalScheme(parsed.Scheme)
	if factory, ok := lookupSendJournalFactory(scheme); ok {
		return factory(dsn, capacity)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileSendJournal(path, capacity)
	case "memory", "mem", "inmem":
		return NewMemorySendJournal(capacity), nil
	case "postgres", "postgresql":
		return NewPostgresSendJournal(dsn)
	default:
		return nil, fmt.Errorf("unsupported send journal scheme: %s", scheme)
	}
}

func normalizeJournalScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
