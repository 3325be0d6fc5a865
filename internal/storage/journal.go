package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spendbot/internal/core"
	"spendbot/internal/log"

	_ "modernc.org/sqlite"
)

const DefaultRecentLimit = 20

// Journal is the SQLite audit trail of handled commands.
type Journal struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger
}

func NewJournal(dbPath string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Handlers record concurrently; one writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("Journal opened", "path", dbPath, "schema_version", version)

	return &Journal{db: db, queries: New(db), logger: logger}, nil
}

func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Record appends entry and returns its row id. Entries for the same event id
// are stored again, not merged.
func (j *Journal) Record(ctx context.Context, entry core.JournalEntry) (int64, error) {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	id, err := j.queries.InsertEntry(ctx, InsertEntryParams{
		EventID:     entry.EventID,
		RoomID:      entry.RoomID,
		Sender:      entry.Sender,
		Source:      string(entry.Source),
		Command:     entry.Command,
		Outcome:     entry.Outcome,
		Reason:      entry.Reason,
		Amount:      entry.Amount,
		Description: entry.Description,
		Note:        entry.Note,
		CreatedAt:   createdAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return 0, fmt.Errorf("insert journal entry: %w", err)
	}

	j.logger.DebugContext(ctx, "Journal entry saved",
		"id", id,
		log.FieldEventID, entry.EventID,
		log.FieldOutcome, entry.Outcome)
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]core.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := j.queries.ListRecent(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}

	entries := make([]core.JournalEntry, 0, len(rows))
	for _, row := range rows {
		createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at of entry %d: %w", row.ID, err)
		}
		entries = append(entries, core.JournalEntry{
			ID:          row.ID,
			EventID:     row.EventID,
			RoomID:      row.RoomID,
			Sender:      row.Sender,
			Source:      core.Source(row.Source),
			Command:     row.Command,
			Outcome:     row.Outcome,
			Reason:      row.Reason,
			Amount:      row.Amount,
			Description: row.Description,
			Note:        row.Note,
			CreatedAt:   createdAt,
		})
	}
	return entries, nil
}

// Counts returns the number of journaled commands per outcome kind.
func (j *Journal) Counts(ctx context.Context) (map[string]int64, error) {
	rows, err := j.queries.CountByOutcome(ctx)
	if err != nil {
		return nil, fmt.Errorf("count journal entries: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Outcome] = row.Total
	}
	return counts, nil
}
