package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"agentfloor/internal/domain"
)

// Writer appends business events to the activity log inside the caller's
// transaction, so an event row only lands together with the agent and
// movement mutations it caused.
type Writer struct {
	DB *sql.DB
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actions := e.InferredActions
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshal inferred actions: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(id,company_id,from_agent,to_agent,event_type,payload_json,inferred_actions_json,ts) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.CompanyID, nullableStringPtr(e.FromAgent), nullableStringPtr(e.ToAgent), e.EventType, string(payloadJSON), string(actionsJSON), e.Timestamp)
	return err
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
