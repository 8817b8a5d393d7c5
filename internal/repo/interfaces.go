package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/animus-labs/simgate/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the record was not in a state that permits the
	// requested transition.
	ErrConflict = errors.New("conflict")
)

// SimulationRepository persists simulation records. Every transition method
// is a compare-and-swap on the current status.
type SimulationRepository interface {
	CreateSimulation(ctx context.Context, sim domain.Simulation) error
	GetSimulation(ctx context.Context, id string) (domain.Simulation, error)

	// BeginProcessing moves a pending, failed or completed record to
	// processing and returns it. A record already processing yields
	// ErrConflict.
	BeginProcessing(ctx context.Context, id string, at time.Time) (domain.Simulation, error)
	SetPreparedPayload(ctx context.Context, id string, payload json.RawMessage, at time.Time) error
	CompleteSimulation(ctx context.Context, id string, response json.RawMessage, attempts int, at time.Time) error
	FailSimulation(ctx context.Context, id string, reason string, attempts int, at time.Time) error

	Ping(ctx context.Context) error
}
