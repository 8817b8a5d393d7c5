package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/simgate/internal/domain"
	"github.com/animus-labs/simgate/internal/platform/httpserver"
	"github.com/animus-labs/simgate/internal/repo"
	"github.com/animus-labs/simgate/internal/rules"
	"github.com/animus-labs/simgate/internal/schema"
	"github.com/animus-labs/simgate/internal/service/simulations"
)

const maxRequestBytes = 4 << 20

type simulationAPI struct {
	logger *slog.Logger
	svc    *simulations.Service
}

func newSimulationAPI(logger *slog.Logger, svc *simulations.Service) *simulationAPI {
	return &simulationAPI{
		logger: logger,
		svc:    svc,
	}
}

func (api *simulationAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /save-input", api.handleSaveInput)
	mux.HandleFunc("POST /send-to-validator", api.handleSendToValidator)
	mux.HandleFunc("GET /results/{id}", api.handleGetResult)
}

func (api *simulationAPI) handleSaveInput(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", nil)
		return
	}

	summary, err := api.svc.SaveInput(r.Context(), body)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/results/"+summary.ID)
	api.writeJSON(w, http.StatusCreated, summary)
}

type sendToValidatorRequest struct {
	ID string `json:"id"`
}

func (api *simulationAPI) handleSendToValidator(w http.ResponseWriter, r *http.Request) {
	var req sendToValidatorRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		api.writeError(w, r, http.StatusBadRequest, "id_required", nil)
		return
	}

	summary, err := api.svc.Submit(r.Context(), id)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, summary)
}

type simulationResult struct {
	ID                string                  `json:"id"`
	UserID            *string                 `json:"userId"`
	Status            domain.SimulationStatus `json:"status"`
	InputData         json.RawMessage         `json:"inputData"`
	PreparedPayload   json.RawMessage         `json:"preparedPayload"`
	ValidatedResponse json.RawMessage         `json:"validatedResponse"`
	Error             *string                 `json:"error"`
	Attempts          int                     `json:"attempts"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

func (api *simulationAPI) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		api.writeError(w, r, http.StatusBadRequest, "id_required", nil)
		return
	}
	sim, err := api.svc.GetResult(r.Context(), id)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toResult(sim))
}

func toResult(sim domain.Simulation) simulationResult {
	out := simulationResult{
		ID:                sim.ID,
		Status:            sim.Status,
		InputData:         nullJSON(sim.InputData),
		PreparedPayload:   nullJSON(sim.PreparedPayload),
		ValidatedResponse: nullJSON(sim.ValidatedResponse),
		Attempts:          sim.Attempts,
		CreatedAt:         sim.CreatedAt,
		UpdatedAt:         sim.UpdatedAt,
	}
	if sim.UserID != "" {
		userID := sim.UserID
		out.UserID = &userID
	}
	if sim.Error != "" {
		reason := sim.Error
		out.Error = &reason
	}
	return out
}

// writeServiceError maps service errors onto the HTTP surface. Upstream
// responses that ended a submission are passed through unchanged.
func (api *simulationAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *schema.ValidationError
		serr *rules.ScenarioError
		uerr *simulations.UpstreamError
	)
	switch {
	case errors.As(err, &uerr):
		switch {
		case uerr.Validation != nil:
			api.writeError(w, r, http.StatusUnprocessableEntity, "upstream_response_invalid", map[string]any{
				"issues": uerr.Validation.Issues,
			})
		case uerr.HasResponse():
			contentType := uerr.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			w.Header().Set("Content-Type", contentType)
			w.WriteHeader(uerr.StatusCode)
			_, _ = w.Write(uerr.Body)
		default:
			api.writeError(w, r, http.StatusBadGateway, "upstream_unavailable", nil)
		}
	case errors.As(err, &verr):
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_input", map[string]any{
			"issues": verr.Issues,
		})
	case errors.As(err, &serr):
		code := "invalid_scenario"
		if errors.Is(err, rules.ErrMissingRequiredField) {
			code = "missing_required_field"
		}
		api.writeError(w, r, http.StatusUnprocessableEntity, code, map[string]any{
			"rule":    serr.Rule,
			"field":   serr.Group + "." + serr.Field,
			"message": serr.Message,
		})
	case errors.Is(err, simulations.ErrIDRequired):
		api.writeError(w, r, http.StatusBadRequest, "id_required", nil)
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, simulations.ErrAlreadyProcessing):
		api.writeError(w, r, http.StatusConflict, "already_processing", nil)
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", nil)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *simulationAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *simulationAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string, extra map[string]any) {
	httpserver.WriteError(w, r, status, code, extra)
}

func nullJSON(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return json.RawMessage("null")
	}
	return raw
}
