package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"certiscan.io/internal/audit"
)

// Append writes one audit entry. The table is append-only: the application
// never updates or deletes rows.
func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = data
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, occurred_at, event_type, event_name, actor_id, factory_id, resource_type, resource_id, request_id, metadata)
		values ($1, $2, $3, $4, nullif($5,''), nullif($6,''), nullif($7,''), nullif($8,''), nullif($9,''), $10)
	`, e.ID, e.OccurredAt, e.EventType, e.EventName, e.ActorID, e.FactoryID,
		e.ResourceType, e.ResourceID, e.RequestID, metadata)
	return err
}
