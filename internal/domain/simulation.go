package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// SimulationStatus is the lifecycle state of a simulation record.
type SimulationStatus string

const (
	SimulationPending    SimulationStatus = "pending"
	SimulationProcessing SimulationStatus = "processing"
	SimulationCompleted  SimulationStatus = "completed"
	SimulationFailed     SimulationStatus = "failed"
)

// NormalizeSimulationStatus maps free-form status values to canonical states.
func NormalizeSimulationStatus(value string) SimulationStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(SimulationPending):
		return SimulationPending
	case string(SimulationProcessing), "running":
		return SimulationProcessing
	case string(SimulationCompleted), "succeeded":
		return SimulationCompleted
	case string(SimulationFailed):
		return SimulationFailed
	default:
		return ""
	}
}

func (s SimulationStatus) Terminal() bool {
	return s == SimulationCompleted || s == SimulationFailed
}

// CanTransitionSimulation enforces pending -> processing -> {completed, failed}.
// Both terminal states may re-enter processing on resubmission.
func CanTransitionSimulation(current, next SimulationStatus) bool {
	switch {
	case current == SimulationPending || current.Terminal():
		return next == SimulationProcessing
	case current == SimulationProcessing:
		return next.Terminal()
	default:
		return false
	}
}

// SubmittableStatuses are the states a submit may start from.
func SubmittableStatuses() []SimulationStatus {
	return []SimulationStatus{SimulationPending, SimulationFailed, SimulationCompleted}
}

// Simulation is one caller-submitted configuration and its outcome.
type Simulation struct {
	ID                string
	UserID            string
	InputData         json.RawMessage
	PreparedPayload   json.RawMessage
	Status            SimulationStatus
	ValidatedResponse json.RawMessage
	Error             string
	Attempts          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s Simulation) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("simulation id is required")
	}
	if len(s.InputData) == 0 || !json.Valid(s.InputData) {
		return errors.New("simulation input data must be valid json")
	}
	if len(s.PreparedPayload) > 0 && !json.Valid(s.PreparedPayload) {
		return errors.New("simulation prepared payload must be valid json")
	}
	if NormalizeSimulationStatus(string(s.Status)) == "" {
		return errors.New("simulation status is invalid")
	}
	return nil
}

// HasPreparedPayload reports whether a canonical payload was stored.
func (s Simulation) HasPreparedPayload() bool {
	trimmed := strings.TrimSpace(string(s.PreparedPayload))
	return trimmed != "" && trimmed != "null"
}

// SimulationEvent records one status transition.
type SimulationEvent struct {
	SimulationID string
	From         SimulationStatus
	To           SimulationStatus
	OccurredAt   time.Time
	Detail       string
}
