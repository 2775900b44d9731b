package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/sales-engine/sales"
)

// Record appends an audit entry. Entries are never updated or deleted.
func (s *Store) Record(ctx context.Context, entry sales.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	var payload sql.NullString
	if len(entry.Payload) > 0 {
		data, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("encoding audit payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO audit_log (id, recorded_at, actor_id, action, sale_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`), entry.ID, formatTime(entry.Timestamp), entry.ActorID, entry.Action, entry.SaleID, payload)
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// AuditEntries returns the trail of a sale, oldest first. It survives an
// emergency delete of the sale itself.
func (s *Store) AuditEntries(ctx context.Context, saleID sales.SaleID) ([]sales.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, recorded_at, actor_id, action, sale_id, payload_json
		FROM audit_log
		WHERE sale_id = ?
		ORDER BY recorded_at, id
	`), saleID)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []sales.AuditEntry
	for rows.Next() {
		var (
			e        sales.AuditEntry
			recorded string
			payload  sql.NullString
		)
		if err := rows.Scan(&e.ID, &recorded, &e.ActorID, &e.Action, &e.SaleID, &payload); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		var dec columnDecoder
		e.Timestamp = dec.time("recorded_at", recorded)
		if dec.err != nil {
			return nil, fmt.Errorf("decoding audit entry %s: %w", e.ID, dec.err)
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("decoding audit payload %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
