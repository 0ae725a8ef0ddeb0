package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresJournalTableName = "relaychat_send_journal"
	postgresJournalTimeout   = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type postgresSendJournal struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresSendJournal stores journal entries in a Postgres table, created
// lazily on first use.
func NewPostgresSendJournal(dsn string) (SendJournal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &postgresSendJournal{
		dsn:       dsn,
		tableName: postgresJournalTableName,
		openDB:    sql.Open,
	}, nil
}

func (j *postgresSendJournal) Record(entry JournalEntry) error {
	if err := j.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresJournalTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (temp_id, conversation, message_id, outcome, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, postgresQuoteIdentifier(j.tableName))
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, query,
		entry.TempID, string(entry.Conversation), entry.MessageID,
		string(entry.Outcome), entry.Detail, at.UTC())
	return err
}

func (j *postgresSendJournal) Recent(limit int) ([]JournalEntry, error) {
	if err := j.ensureReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultJournalCapacity
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresJournalTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		SELECT temp_id, conversation, message_id, outcome, detail, recorded_at
		FROM %s ORDER BY id DESC LIMIT $1`, postgresQuoteIdentifier(j.tableName))
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		var entry JournalEntry
		var conversation, outcome string
		if err := rows.Scan(&entry.TempID, &conversation, &entry.MessageID, &outcome, &entry.Detail, &entry.At); err != nil {
			return nil, err
		}
		entry.Conversation = ConversationKey(conversation)
		entry.Outcome = SendOutcome(outcome)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (j *postgresSendJournal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *postgresSendJournal) ensureReady() error {
	j.initOnce.Do(func() {
		db, err := j.openDB("postgres", j.dsn)
		if err != nil {
			j.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresJournalTimeout)
		defer cancel()
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				temp_id TEXT NOT NULL,
				conversation TEXT NOT NULL,
				message_id TEXT NOT NULL DEFAULT '',
				outcome TEXT NOT NULL,
				detail TEXT NOT NULL DEFAULT '',
				recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(j.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			j.initErr = err
			return
		}
		j.db = db
	})
	return j.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
