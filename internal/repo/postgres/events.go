package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/simgate/internal/domain"
)

const insertSimulationEventQuery = `INSERT INTO simulation_events (
		simulation_id,
		from_status,
		to_status,
		occurred_at,
		detail,
		integrity_sha256
	) VALUES ($1,$2,$3,$4,$5,$6)
	RETURNING event_id`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertEvent appends a lifecycle event. Callers pass the transaction that
// performed the status change.
func insertEvent(ctx context.Context, q queryRower, event domain.SimulationEvent) (int64, error) {
	if strings.TrimSpace(event.SimulationID) == "" {
		return 0, errors.New("simulation id is required")
	}
	if event.To == "" {
		return 0, errors.New("target status is required")
	}
	event.OccurredAt = normalizeTime(event.OccurredAt)

	integrity, err := eventIntegritySHA256(event)
	if err != nil {
		return 0, err
	}

	var from sql.NullString
	if event.From != "" {
		from = sql.NullString{String: string(event.From), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		insertSimulationEventQuery,
		strings.TrimSpace(event.SimulationID),
		from,
		string(event.To),
		event.OccurredAt,
		nullIfEmpty(event.Detail),
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert simulation event: %w", err)
	}
	return id, nil
}

func eventIntegritySHA256(event domain.SimulationEvent) (string, error) {
	type integrityInput struct {
		SimulationID string `json:"simulation_id"`
		From         string `json:"from,omitempty"`
		To           string `json:"to"`
		OccurredAt   string `json:"occurred_at"`
		Detail       string `json:"detail,omitempty"`
	}
	blob, err := json.Marshal(integrityInput{
		SimulationID: strings.TrimSpace(event.SimulationID),
		From:         string(event.From),
		To:           string(event.To),
		OccurredAt:   event.OccurredAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		Detail:       strings.TrimSpace(event.Detail),
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
