package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/animus-labs/simgate/internal/domain"
	"github.com/animus-labs/simgate/internal/platform/env"
	"github.com/animus-labs/simgate/internal/repo"
)

const (
	simulationPrefix = "simulation/"
	inputPrefix      = "simulation_input/"
	eventPrefix      = "simulation_event/"
)

type Config struct {
	Dir        string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

func ConfigFromEnv() (Config, error) {
	syncWrites, err := env.Bool("SIMGATE_BADGER_SYNC_WRITES", true)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Dir:        env.String("SIMGATE_BADGER_DIR", "data/badger"),
		SyncWrites: syncWrites,
	}, nil
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func Open(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if strings.TrimSpace(cfg.Dir) == "" {
			return nil, errors.New("badger dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(cfg.SyncWrites)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// record is the stored form of a simulation. InputData lives under its own
// key so the caller's bytes are kept exactly; encoding it inside the record
// would compact and HTML-escape it.
type record struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id,omitempty"`
	InputData         json.RawMessage `json:"-"`
	PreparedPayload   json.RawMessage `json:"prepared_payload,omitempty"`
	Status            string          `json:"status"`
	ValidatedResponse json.RawMessage `json:"validated_response,omitempty"`
	Error             string          `json:"error,omitempty"`
	Attempts          int             `json:"attempts"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type event struct {
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
}

// SimulationStore keeps simulations in an embedded badger database. Badger
// transactions are serializable, so a lost race on the same record surfaces
// as repo.ErrConflict.
type SimulationStore struct {
	db *badger.DB
}

func NewSimulationStore(db *badger.DB) *SimulationStore {
	if db == nil {
		return nil
	}
	return &SimulationStore{db: db}
}

var _ repo.SimulationRepository = (*SimulationStore)(nil)

func (s *SimulationStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("simulation store not initialized")
	}
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return ctx.Err()
}

func (s *SimulationStore) CreateSimulation(ctx context.Context, sim domain.Simulation) error {
	if s == nil || s.db == nil {
		return errors.New("simulation store not initialized")
	}
	if err := sim.Validate(); err != nil {
		return err
	}
	if sim.CreatedAt.IsZero() {
		sim.CreatedAt = time.Now().UTC()
	}
	if sim.UpdatedAt.IsZero() {
		sim.UpdatedAt = sim.CreatedAt
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		key := simulationKey(sim.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: simulation %s already exists", repo.ErrConflict, sim.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		rec := toRecord(sim)
		if err := txn.Set(inputKey(rec.ID), append([]byte(nil), rec.InputData...)); err != nil {
			return err
		}
		if err := putRecord(txn, rec); err != nil {
			return err
		}
		return appendEvent(txn, sim.ID, event{To: string(sim.Status), OccurredAt: sim.CreatedAt.UTC()})
	})
}

func (s *SimulationStore) GetSimulation(ctx context.Context, id string) (domain.Simulation, error) {
	if s == nil || s.db == nil {
		return domain.Simulation{}, errors.New("simulation store not initialized")
	}
	if err := ctx.Err(); err != nil {
		return domain.Simulation{}, err
	}
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return domain.Simulation{}, err
	}
	return rec.toDomain(), nil
}

func (s *SimulationStore) BeginProcessing(ctx context.Context, id string, at time.Time) (domain.Simulation, error) {
	var out domain.Simulation
	err := s.transition(ctx, id, domain.SimulationProcessing, at, "", func(rec *record) {
		rec.Error = ""
		rec.ValidatedResponse = nil
		out = rec.toDomain()
	})
	if err != nil {
		return domain.Simulation{}, err
	}
	return out, nil
}

func (s *SimulationStore) SetPreparedPayload(ctx context.Context, id string, payload json.RawMessage, at time.Time) error {
	if !json.Valid(payload) {
		return errors.New("prepared payload must be valid json")
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if domain.SimulationStatus(rec.Status) != domain.SimulationProcessing {
			return fmt.Errorf("%w: simulation %s is %s", repo.ErrConflict, id, rec.Status)
		}
		rec.PreparedPayload = append(json.RawMessage(nil), payload...)
		rec.UpdatedAt = at.UTC()
		return putRecord(txn, rec)
	})
}

func (s *SimulationStore) CompleteSimulation(ctx context.Context, id string, response json.RawMessage, attempts int, at time.Time) error {
	if !json.Valid(response) {
		return errors.New("validated response must be valid json")
	}
	return s.transition(ctx, id, domain.SimulationCompleted, at, "", func(rec *record) {
		rec.ValidatedResponse = append(json.RawMessage(nil), response...)
		rec.Error = ""
		rec.Attempts = attempts
	})
}

func (s *SimulationStore) FailSimulation(ctx context.Context, id string, reason string, attempts int, at time.Time) error {
	return s.transition(ctx, id, domain.SimulationFailed, at, reason, func(rec *record) {
		rec.ValidatedResponse = nil
		rec.Error = strings.TrimSpace(reason)
		rec.Attempts = attempts
	})
}

// Events returns the lifecycle events of one simulation in order.
func (s *SimulationStore) Events(ctx context.Context, id string) ([]domain.SimulationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.SimulationEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventPrefix + id + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var ev event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			out = append(out, domain.SimulationEvent{
				SimulationID: id,
				From:         domain.SimulationStatus(ev.From),
				To:           domain.SimulationStatus(ev.To),
				OccurredAt:   ev.OccurredAt,
				Detail:       ev.Detail,
			})
		}
		return nil
	})
	return out, err
}

func (s *SimulationStore) transition(ctx context.Context, id string, next domain.SimulationStatus, at time.Time, detail string, mutate func(*record)) error {
	if at.IsZero() {
		at = time.Now()
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		from := domain.NormalizeSimulationStatus(rec.Status)
		if !domain.CanTransitionSimulation(from, next) {
			return fmt.Errorf("%w: simulation %s is %s, cannot move to %s", repo.ErrConflict, id, from, next)
		}
		rec.Status = string(next)
		rec.UpdatedAt = at.UTC()
		mutate(&rec)
		if err := putRecord(txn, rec); err != nil {
			return err
		}
		return appendEvent(txn, id, event{From: string(from), To: string(next), OccurredAt: at.UTC(), Detail: strings.TrimSpace(detail)})
	})
}

func (s *SimulationStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if s == nil || s.db == nil {
		return errors.New("simulation store not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: concurrent update", repo.ErrConflict)
	}
	return err
}

func simulationKey(id string) []byte {
	return []byte(simulationPrefix + strings.TrimSpace(id))
}

func inputKey(id string) []byte {
	return []byte(inputPrefix + strings.TrimSpace(id))
}

func getRecord(txn *badger.Txn, id string) (record, error) {
	if strings.TrimSpace(id) == "" {
		return record{}, errors.New("simulation id is required")
	}
	item, err := txn.Get(simulationKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record{}, repo.ErrNotFound
	}
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return record{}, fmt.Errorf("decode simulation: %w", err)
	}
	input, err := txn.Get(inputKey(id))
	if err != nil {
		return record{}, fmt.Errorf("load simulation input: %w", err)
	}
	if rec.InputData, err = input.ValueCopy(nil); err != nil {
		return record{}, fmt.Errorf("load simulation input: %w", err)
	}
	return rec, nil
}

func putRecord(txn *badger.Txn, rec record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode simulation: %w", err)
	}
	return txn.Set(simulationKey(rec.ID), blob)
}

func appendEvent(txn *badger.Txn, id string, ev event) error {
	blob, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := fmt.Sprintf("%s%s/%020d", eventPrefix, strings.TrimSpace(id), ev.OccurredAt.UnixNano())
	// Same-nanosecond events keep their order through a suffix.
	for i := 0; ; i++ {
		candidate := []byte(fmt.Sprintf("%s-%03d", key, i))
		if _, err := txn.Get(candidate); errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(candidate, blob)
		} else if err != nil {
			return err
		}
	}
}

func toRecord(sim domain.Simulation) record {
	return record{
		ID:                strings.TrimSpace(sim.ID),
		UserID:            strings.TrimSpace(sim.UserID),
		InputData:         sim.InputData,
		PreparedPayload:   nullableJSON(sim.PreparedPayload),
		Status:            string(sim.Status),
		ValidatedResponse: nullableJSON(sim.ValidatedResponse),
		Error:             sim.Error,
		Attempts:          sim.Attempts,
		CreatedAt:         sim.CreatedAt.UTC(),
		UpdatedAt:         sim.UpdatedAt.UTC(),
	}
}

func (r record) toDomain() domain.Simulation {
	return domain.Simulation{
		ID:                r.ID,
		UserID:            r.UserID,
		InputData:         r.InputData,
		PreparedPayload:   r.PreparedPayload,
		Status:            domain.NormalizeSimulationStatus(r.Status),
		ValidatedResponse: r.ValidatedResponse,
		Error:             r.Error,
		Attempts:          r.Attempts,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func nullableJSON(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return raw
}
