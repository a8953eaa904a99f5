package notes

import (
	"context"
	"database/sql"
	"time"
)

// Audit actions.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionFavorite   = "favorite"
	ActionUnfavorite = "unfavorite"
)

type AuditEvent struct {
	SessionID string    `json:"session_id"`
	NoteID    string    `json:"note_id"`
	Action    string    `json:"action"`
	At        time.Time `json:"at"`
}

// Auditor records mutations. The log is write-mostly: it is never replayed
// into a Store.
type Auditor interface {
	Record(ctx context.Context, e AuditEvent) error
	Recent(ctx context.Context, sessionID string, limit int) ([]AuditEvent, error)
}

// NopAuditor drops every event.
type NopAuditor struct{}

func (NopAuditor) Record(context.Context, AuditEvent) error { return nil }

func (NopAuditor) Recent(context.Context, string, int) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// AuditRepository stores events in the notes_audit table.
type AuditRepository struct {
	db *sql.DB

	stmtInsert *sql.Stmt
	stmtRecent *sql.Stmt
}

func NewAuditRepository(ctx context.Context, db *sql.DB) (*AuditRepository, error) {
	ins, err := db.PrepareContext(ctx, `
		INSERT INTO notes_audit (session_id, note_id, action, at)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return nil, err
	}

	recent, err := db.PrepareContext(ctx, `
		SELECT session_id, note_id, action, at
		FROM notes_audit
		WHERE session_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2
	`)
	if err != nil {
		_ = ins.Close()
		return nil, err
	}

	return &AuditRepository{
		db:         db,
		stmtInsert: ins,
		stmtRecent: recent,
	}, nil
}

func (r *AuditRepository) Close() error {
	for _, s := range []*sql.Stmt{r.stmtInsert, r.stmtRecent} {
		if s != nil {
			_ = s.Close()
		}
	}
	return nil
}

func (r *AuditRepository) Record(ctx context.Context, e AuditEvent) error {
	_, err := r.stmtInsert.ExecContext(ctx, e.SessionID, e.NoteID, e.Action, e.At)
	return err
}

const (
	defaultAuditLimit = 20
	maxAuditLimit     = 200
)

// Recent returns the newest events of the session first.
func (r *AuditRepository) Recent(ctx context.Context, sessionID string, limit int) ([]AuditEvent, error) {
	rows, err := r.stmtRecent.QueryContext(ctx, sessionID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// clampLimit picks the default for non-positive limits and caps the rest.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultAuditLimit
	case limit > maxAuditLimit:
		return maxAuditLimit
	}
	return limit
}

func scanEvents(rows *sql.Rows) ([]AuditEvent, error) {
	out := make([]AuditEvent, 0, 32)
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.SessionID, &e.NoteID, &e.Action, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
