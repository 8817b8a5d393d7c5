package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/simgate/internal/domain"
	"github.com/animus-labs/simgate/internal/repo"
)

//go:embed schema.sql
var SchemaSQL string

const simulationColumns = `simulation_id, user_id, input_data, prepared_payload, status, validated_response, error, attempts, created_at, updated_at`

const (
	insertSimulationQuery = `INSERT INTO simulations (
		simulation_id,
		user_id,
		input_data,
		prepared_payload,
		status,
		validated_response,
		error,
		attempts,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	selectSimulationQuery = `SELECT ` + simulationColumns + `
	 FROM simulations
	 WHERE simulation_id = $1`

	lockSimulationStatusQuery = `SELECT status
	 FROM simulations
	 WHERE simulation_id = $1
	 FOR UPDATE`

	beginProcessingQuery = `UPDATE simulations
	 SET status = $2, error = NULL, validated_response = NULL, updated_at = $3
	 WHERE simulation_id = $1
	 RETURNING ` + simulationColumns

	setPreparedPayloadQuery = `UPDATE simulations
	 SET prepared_payload = $2, updated_at = $3
	 WHERE simulation_id = $1 AND status = $4`

	completeSimulationQuery = `UPDATE simulations
	 SET status = $2, validated_response = $3, error = NULL, attempts = $4, updated_at = $5
	 WHERE simulation_id = $1`

	failSimulationQuery = `UPDATE simulations
	 SET status = $2, validated_response = NULL, error = $3, attempts = $4, updated_at = $5
	 WHERE simulation_id = $1`
)

type SimulationStore struct {
	db DB
}

func NewSimulationStore(db DB) *SimulationStore {
	if db == nil {
		return nil
	}
	return &SimulationStore{db: db}
}

var _ repo.SimulationRepository = (*SimulationStore)(nil)

// EnsureSchema applies the idempotent table definitions.
func EnsureSchema(ctx context.Context, db DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if _, err := db.ExecContext(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SimulationStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("simulation store not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *SimulationStore) CreateSimulation(ctx context.Context, sim domain.Simulation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("simulation store not initialized")
	}
	if err := sim.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(sim.CreatedAt)
	updatedAt := createdAt
	if !sim.UpdatedAt.IsZero() {
		updatedAt = sim.UpdatedAt.UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		insertSimulationQuery,
		strings.TrimSpace(sim.ID),
		nullIfEmpty(sim.UserID),
		[]byte(sim.InputData),
		nullJSON(sim.PreparedPayload),
		string(sim.Status),
		nullJSON(sim.ValidatedResponse),
		nullIfEmpty(sim.Error),
		sim.Attempts,
		createdAt,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert simulation: %w", err)
	}
	if _, err := insertEvent(ctx, tx, domain.SimulationEvent{
		SimulationID: sim.ID,
		To:           sim.Status,
		OccurredAt:   createdAt,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SimulationStore) GetSimulation(ctx context.Context, id string) (domain.Simulation, error) {
	if s == nil || s.db == nil {
		return domain.Simulation{}, fmt.Errorf("simulation store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Simulation{}, fmt.Errorf("simulation id is required")
	}
	sim, err := scanSimulation(s.db.QueryRowContext(ctx, selectSimulationQuery, id))
	if err != nil {
		return domain.Simulation{}, handleNotFound(err)
	}
	return sim, nil
}

func (s *SimulationStore) BeginProcessing(ctx context.Context, id string, at time.Time) (domain.Simulation, error) {
	var out domain.Simulation
	err := s.transition(ctx, id, domain.SimulationProcessing, at, "", func(tx *sql.Tx) error {
		sim, err := scanSimulation(tx.QueryRowContext(ctx, beginProcessingQuery, id, string(domain.SimulationProcessing), normalizeTime(at)))
		if err != nil {
			return fmt.Errorf("update simulation: %w", err)
		}
		out = sim
		return nil
	})
	return out, err
}

func (s *SimulationStore) SetPreparedPayload(ctx context.Context, id string, payload json.RawMessage, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("simulation store not initialized")
	}
	if !json.Valid(payload) {
		return fmt.Errorf("prepared payload must be valid json")
	}
	res, err := s.db.ExecContext(ctx, setPreparedPayloadQuery, strings.TrimSpace(id), []byte(payload), normalizeTime(at), string(domain.SimulationProcessing))
	if err != nil {
		return fmt.Errorf("update prepared payload: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetSimulation(ctx, id); err != nil {
			return err
		}
		return repo.ErrConflict
	}
	return nil
}

func (s *SimulationStore) CompleteSimulation(ctx context.Context, id string, response json.RawMessage, attempts int, at time.Time) error {
	if !json.Valid(response) {
		return fmt.Errorf("validated response must be valid json")
	}
	return s.transition(ctx, id, domain.SimulationCompleted, at, "", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, completeSimulationQuery, id, string(domain.SimulationCompleted), []byte(response), attempts, normalizeTime(at))
		if err != nil {
			return fmt.Errorf("update simulation: %w", err)
		}
		return nil
	})
}

func (s *SimulationStore) FailSimulation(ctx context.Context, id string, reason string, attempts int, at time.Time) error {
	return s.transition(ctx, id, domain.SimulationFailed, at, reason, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, failSimulationQuery, id, string(domain.SimulationFailed), nullIfEmpty(reason), attempts, normalizeTime(at))
		if err != nil {
			return fmt.Errorf("update simulation: %w", err)
		}
		return nil
	})
}

// transition locks the row, checks the state machine, applies update and
// appends the lifecycle event in one transaction.
func (s *SimulationStore) transition(ctx context.Context, id string, next domain.SimulationStatus, at time.Time, detail string, update func(*sql.Tx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("simulation store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("simulation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRowContext(ctx, lockSimulationStatusQuery, id).Scan(&current); err != nil {
		return handleNotFound(err)
	}
	from := domain.NormalizeSimulationStatus(current)
	if !domain.CanTransitionSimulation(from, next) {
		return fmt.Errorf("%w: simulation %s is %s, cannot move to %s", repo.ErrConflict, id, from, next)
	}
	if err := update(tx); err != nil {
		return err
	}
	if _, err := insertEvent(ctx, tx, domain.SimulationEvent{
		SimulationID: id,
		From:         from,
		To:           next,
		OccurredAt:   at,
		Detail:       detail,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanSimulation(row *sql.Row) (domain.Simulation, error) {
	var (
		sim               domain.Simulation
		userID            sql.NullString
		inputData         []byte
		preparedPayload   []byte
		status            string
		validatedResponse []byte
		errText           sql.NullString
	)
	if err := row.Scan(&sim.ID, &userID, &inputData, &preparedPayload, &status, &validatedResponse, &errText,
		&sim.Attempts, &sim.CreatedAt, &sim.UpdatedAt); err != nil {
		return domain.Simulation{}, err
	}
	if userID.Valid {
		sim.UserID = userID.String
	}
	if errText.Valid {
		sim.Error = errText.String
	}
	sim.Status = domain.NormalizeSimulationStatus(status)
	sim.InputData = json.RawMessage(inputData)
	if len(preparedPayload) > 0 {
		sim.PreparedPayload = json.RawMessage(preparedPayload)
	}
	if len(validatedResponse) > 0 {
		sim.ValidatedResponse = json.RawMessage(validatedResponse)
	}
	sim.CreatedAt = sim.CreatedAt.UTC()
	sim.UpdatedAt = sim.UpdatedAt.UTC()
	return sim, nil
}
