package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type JournalRow struct {
	ID          int64
	EventID     string
	RoomID      string
	Sender      string
	Source      string
	Command     string
	Outcome     string
	Reason      string
	Amount      string
	Description string
	Note        string
	CreatedAt   string
}

const insertEntry = `-- name: InsertEntry :one
INSERT INTO journal (
    event_id, room_id, sender, source, command, outcome, reason, amount, description, note, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id
`

type InsertEntryParams struct {
	EventID     string
	RoomID      string
	Sender      string
	Source      string
	Command     string
	Outcome     string
	Reason      string
	Amount      string
	Description string
	Note        string
	CreatedAt   string
}

func (q *Queries) InsertEntry(ctx context.Context, arg InsertEntryParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertEntry,
		arg.EventID,
		arg.RoomID,
		arg.Sender,
		arg.Source,
		arg.Command,
		arg.Outcome,
		arg.Reason,
		arg.Amount,
		arg.Description,
		arg.Note,
		arg.CreatedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const listRecent = `-- name: ListRecent :many
SELECT id, event_id, room_id, sender, source, command, outcome, reason, amount, description, note, created_at
FROM journal
ORDER BY id DESC
LIMIT ?
`

func (q *Queries) ListRecent(ctx context.Context, limit int64) ([]JournalRow, error) {
	rows, err := q.db.QueryContext(ctx, listRecent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []JournalRow
	for rows.Next() {
		var i JournalRow
		if err := rows.Scan(
			&i.ID,
			&i.EventID,
			&i.RoomID,
			&i.Sender,
			&i.Source,
			&i.Command,
			&i.Outcome,
			&i.Reason,
			&i.Amount,
			&i.Description,
			&i.Note,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countByOutcome = `-- name: CountByOutcome :many
SELECT outcome, COUNT(*) AS total
FROM journal
GROUP BY outcome
`

type CountByOutcomeRow struct {
	Outcome string
	Total   int64
}

func (q *Queries) CountByOutcome(ctx context.Context) ([]CountByOutcomeRow, error) {
	rows, err := q.db.QueryContext(ctx, countByOutcome)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CountByOutcomeRow
	for rows.Next() {
		var i CountByOutcomeRow
		if err := rows.Scan(&i.Outcome, &i.Total); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
