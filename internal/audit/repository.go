package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Repository writes audit logs to Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	prepare(&entry)
	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, actor, role, action, resource_type, resource_id, apt_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID, entry.ApartmentID,
		[]byte(metadata), entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}

// List returns entries newest first plus the total matching count.
func (r *Repository) List(ctx context.Context, q Query) ([]Entry, int, error) {
	if r == nil || r.db == nil {
		return nil, 0, errors.New("audit repo: nil db")
	}
	const where = `
WHERE ($1 = '' OR apt_id = $1)
	AND ($2 = '' OR resource_type = $2)
	AND ($3 = '' OR action = $3)`

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where,
		q.ApartmentID, q.ResourceType, q.Action).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, actor, role, action, resource_type, resource_id, apt_id,
	metadata, payload_digest, ip, user_agent, created_at
FROM audit_logs`+where+`
ORDER BY created_at DESC, id
OFFSET $4 LIMIT $5`, q.ApartmentID, q.ResourceType, q.Action, q.Offset, q.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry    Entry
			metadata []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Role, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &entry.ApartmentID, &metadata, &entry.PayloadDigest, &entry.IP,
			&entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, 0, err
		}
		entry.Metadata = json.RawMessage(metadata)
		entry.CreatedAt = entry.CreatedAt.UTC()
		out = append(out, entry)
	}
	return out, total, rows.Err()
}
