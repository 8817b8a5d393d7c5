package simulations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/animus-labs/simgate/internal/domain"
	"github.com/animus-labs/simgate/internal/platform/observability"
	"github.com/animus-labs/simgate/internal/repo"
	"github.com/animus-labs/simgate/internal/rules"
	"github.com/animus-labs/simgate/internal/schema"
	"github.com/animus-labs/simgate/internal/upstream"
)

type PayloadBuilder interface {
	BuildWithScenario(input map[string]any) (rules.Payload, rules.Scenario, error)
}

type Sender interface {
	Send(ctx context.Context, req upstream.Request) (upstream.Response, error)
}

// Archiver stores a copy of a validated response. Failures never affect the
// record.
type Archiver interface {
	Archive(ctx context.Context, recordID string, body []byte) error
}

// Dependencies are the collaborators of a Service. Archive and Metrics are
// optional.
type Dependencies struct {
	Records   repo.SimulationRepository
	Builder   PayloadBuilder
	Requests  *schema.RequestValidator
	Responses *schema.ResponseValidator
	Sender    Sender
	Archive   Archiver
	Metrics   *observability.Collector
	Logger    *slog.Logger
	Retry     RetryPolicy
}

type Service struct {
	records   repo.SimulationRepository
	builder   PayloadBuilder
	requests  *schema.RequestValidator
	responses *schema.ResponseValidator
	sender    Sender
	archive   Archiver
	metrics   *observability.Collector
	logger    *slog.Logger
	retry     RetryPolicy
	tracer    trace.Tracer
	inflight  singleflight.Group

	now   func() time.Time
	newID func() string
}

func New(deps Dependencies) (*Service, error) {
	if deps.Records == nil || deps.Builder == nil || deps.Requests == nil || deps.Responses == nil || deps.Sender == nil {
		return nil, errors.New("simulations: records, builder, validators and sender are required")
	}
	if err := deps.Retry.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		records:   deps.Records,
		builder:   deps.Builder,
		requests:  deps.Requests,
		responses: deps.Responses,
		sender:    deps.Sender,
		archive:   deps.Archive,
		metrics:   deps.Metrics,
		logger:    logger,
		retry:     deps.Retry,
		tracer:    otel.Tracer(observability.TracerName),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

// Summary is the caller-facing view of a record after save or submit.
type Summary struct {
	ID        string                  `json:"id"`
	Status    domain.SimulationStatus `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
}

type envelope struct {
	UserID    *string         `json:"userId"`
	InputData json.RawMessage `json:"inputData"`
}

// SaveInput validates a save-input body, builds the canonical payload and
// stores a pending record. inputData is stored exactly as the caller sent it.
func (s *Service) SaveInput(ctx context.Context, body []byte) (Summary, error) {
	ctx, span := s.tracer.Start(ctx, "simulations.SaveInput")
	defer span.End()

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		verr := &schema.ValidationError{Kind: schema.ErrInvalidRequest}
		verr.Add("", "body is not valid JSON: %v", err)
		return Summary{}, recordSpanError(span, verr.OrNil())
	}
	if err := s.requests.Validate(doc); err != nil {
		s.metrics.ObserveBuild("", "invalid_input")
		return Summary{}, recordSpanError(span, err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Summary{}, recordSpanError(span, fmt.Errorf("decode envelope: %w", err))
	}
	input, _ := doc.(map[string]any)["inputData"].(map[string]any)

	payload, scenario, err := s.builder.BuildWithScenario(input)
	if err != nil {
		s.metrics.ObserveBuild("", buildOutcome(err))
		return Summary{}, recordSpanError(span, err)
	}
	s.metrics.ObserveBuild(string(scenario), "ok")
	span.SetAttributes(attribute.String("simulation.scenario", string(scenario)))

	prepared, err := payload.Canonical()
	if err != nil {
		return Summary{}, recordSpanError(span, fmt.Errorf("encode payload: %w", err))
	}

	now := s.now()
	sim := domain.Simulation{
		ID:              s.newID(),
		InputData:       env.InputData,
		PreparedPayload: prepared,
		Status:          domain.SimulationPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if env.UserID != nil {
		sim.UserID = strings.TrimSpace(*env.UserID)
	}
	if err := s.records.CreateSimulation(ctx, sim); err != nil {
		return Summary{}, recordSpanError(span, fmt.Errorf("create simulation: %w", err))
	}
	span.SetAttributes(attribute.String("simulation.id", sim.ID))
	s.logger.Info("simulation saved", "simulation_id", sim.ID, "scenario", scenario)
	return Summary{ID: sim.ID, Status: sim.Status, Timestamp: now}, nil
}

func (s *Service) GetResult(ctx context.Context, id string) (domain.Simulation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Simulation{}, ErrIDRequired
	}
	return s.records.GetSimulation(ctx, id)
}

// Submit sends the stored payload of a record to the external validator and
// drives the record to completed or failed. The submission is detached from
// ctx cancellation once started. A record already processing yields
// ErrAlreadyProcessing; callers in this process that submit the same id while
// a submission is in flight receive that submission's outcome.
func (s *Service) Submit(ctx context.Context, id string) (Summary, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Summary{}, ErrIDRequired
	}
	detached := context.WithoutCancel(ctx)
	v, err, _ := s.inflight.Do(id, func() (any, error) {
		return s.submit(detached, id)
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

func (s *Service) submit(ctx context.Context, id string) (Summary, error) {
	ctx, span := s.tracer.Start(ctx, "simulations.Submit", trace.WithAttributes(attribute.String("simulation.id", id)))
	defer span.End()

	sim, err := s.records.BeginProcessing(ctx, id, s.now())
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			s.metrics.ObserveSubmission("conflict")
			return Summary{}, recordSpanError(span, ErrAlreadyProcessing)
		}
		return Summary{}, recordSpanError(span, err)
	}
	s.logger.Info("simulation processing", "simulation_id", id)

	payload := sim.PreparedPayload
	if !sim.HasPreparedPayload() {
		payload, err = s.rebuildPayload(ctx, sim)
		if err != nil {
			s.metrics.ObserveSubmission("invalid_scenario")
			return Summary{}, recordSpanError(span, s.fail(ctx, id, "invalid_scenario: "+err.Error(), 0, err))
		}
	}

	resp, attempts, err := s.deliver(ctx, id, payload)
	span.SetAttributes(attribute.Int("simulation.attempts", attempts))
	if err != nil {
		s.metrics.ObserveSubmission("upstream_unavailable")
		return Summary{}, recordSpanError(span, s.fail(ctx, id, err.Error(), attempts, err))
	}

	doc, err := s.responses.ValidateBody(resp.Body)
	if err != nil {
		var verr *schema.ValidationError
		errors.As(err, &verr)
		uerr := &UpstreamError{
			Kind:        ErrUpstreamResponseInvalid,
			StatusCode:  resp.StatusCode,
			ContentType: resp.ContentType,
			Body:        resp.Body,
			Attempts:    attempts,
			Validation:  verr,
			Err:         err,
		}
		s.metrics.ObserveSubmission("upstream_response_invalid")
		return Summary{}, recordSpanError(span, s.fail(ctx, id, uerr.Error(), attempts, uerr))
	}
	validated, err := json.Marshal(doc)
	if err != nil {
		return Summary{}, recordSpanError(span, fmt.Errorf("encode validated response: %w", err))
	}

	now := s.now()
	if err := s.records.CompleteSimulation(ctx, id, validated, attempts, now); err != nil {
		// A record must not be left in processing.
		err = fmt.Errorf("complete simulation: %w", err)
		return Summary{}, recordSpanError(span, s.fail(ctx, id, err.Error(), attempts, err))
	}
	s.metrics.ObserveSubmission("completed")
	s.logger.Info("simulation completed", "simulation_id", id, "attempts", attempts)

	if s.archive != nil {
		if err := s.archive.Archive(ctx, id, validated); err != nil {
			s.logger.Warn("archive validated response failed", "simulation_id", id, "error", err)
		}
	}
	return Summary{ID: id, Status: domain.SimulationCompleted, Timestamp: now}, nil
}

// rebuildPayload covers records stored without a canonical payload.
func (s *Service) rebuildPayload(ctx context.Context, sim domain.Simulation) ([]byte, error) {
	var input map[string]any
	if err := json.Unmarshal(sim.InputData, &input); err != nil {
		return nil, fmt.Errorf("decode stored input: %w", err)
	}
	payload, scenario, err := s.builder.BuildWithScenario(input)
	if err != nil {
		s.metrics.ObserveBuild("", buildOutcome(err))
		return nil, err
	}
	s.metrics.ObserveBuild(string(scenario), "ok")
	prepared, err := payload.Canonical()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if err := s.records.SetPreparedPayload(ctx, sim.ID, prepared, s.now()); err != nil {
		return nil, fmt.Errorf("store prepared payload: %w", err)
	}
	s.logger.Warn("prepared payload rebuilt", "simulation_id", sim.ID, "scenario", scenario)
	return prepared, nil
}

// fail persists the failed state and returns cause, or the persistence error
// when the record could not be updated.
func (s *Service) fail(ctx context.Context, id, reason string, attempts int, cause error) error {
	if err := s.records.FailSimulation(ctx, id, reason, attempts, s.now()); err != nil {
		s.logger.Error("persist failed simulation", "simulation_id", id, "error", err)
		return fmt.Errorf("fail simulation: %w", errors.Join(err, cause))
	}
	s.logger.Info("simulation failed", "simulation_id", id, "attempts", attempts, "reason", reason)
	return cause
}

func buildOutcome(err error) string {
	switch {
	case errors.Is(err, rules.ErrMissingRequiredField):
		return "missing_required_field"
	case errors.Is(err, rules.ErrInvalidScenario):
		return "invalid_scenario"
	default:
		return "error"
	}
}

func recordSpanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
