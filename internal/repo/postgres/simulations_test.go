package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/simgate/internal/domain"
)

func TestSimulationQueries(t *testing.T) {
	if !strings.Contains(lockSimulationStatusQuery, "FOR UPDATE") {
		t.Fatalf("expected row lock in status query")
	}
	if !strings.Contains(beginProcessingQuery, "RETURNING "+simulationColumns) {
		t.Fatalf("expected begin processing to return the full row")
	}
	if !strings.Contains(setPreparedPayloadQuery, "status = $4") {
		t.Fatalf("expected status guard on prepared payload update")
	}
	if !strings.Contains(beginProcessingQuery, "error = NULL, validated_response = NULL") {
		t.Fatalf("expected re-entry into processing to clear the previous outcome")
	}
	if !strings.Contains(completeSimulationQuery, "error = NULL") {
		t.Fatalf("expected completion to clear the error")
	}
	if !strings.Contains(failSimulationQuery, "validated_response = NULL") {
		t.Fatalf("expected failure to clear the validated response")
	}
	for name, q := range map[string]string{
		"select":   selectSimulationQuery,
		"lock":     lockSimulationStatusQuery,
		"begin":    beginProcessingQuery,
		"prepared": setPreparedPayloadQuery,
		"complete": completeSimulationQuery,
		"fail":     failSimulationQuery,
	} {
		if !strings.Contains(q, "simulation_id = $1") {
			t.Fatalf("%s query must be keyed on simulation_id", name)
		}
	}
}

func TestSchemaDefinesTables(t *testing.T) {
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS simulations",
		"CREATE TABLE IF NOT EXISTS simulation_events",
		"prepared_payload   JSON",
		"'pending', 'processing', 'completed', 'failed'",
	} {
		if !strings.Contains(SchemaSQL, want) {
			t.Fatalf("schema missing %q", want)
		}
	}
}

func TestEventIntegrityIsStable(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	event := domain.SimulationEvent{
		SimulationID: "sim-1",
		From:         domain.SimulationPending,
		To:           domain.SimulationProcessing,
		OccurredAt:   at,
	}
	first, err := eventIntegritySHA256(event)
	if err != nil {
		t.Fatalf("eventIntegritySHA256() err=%v", err)
	}

	event.OccurredAt = at.UTC()
	second, _ := eventIntegritySHA256(event)
	if first != second {
		t.Fatalf("integrity must not depend on time zone")
	}
	if len(first) != 64 {
		t.Fatalf("integrity=%q, want hex sha256", first)
	}

	event.Detail = "upstream_unavailable"
	third, _ := eventIntegritySHA256(event)
	if third == first {
		t.Fatalf("integrity must cover the detail")
	}
}

func TestNullJSON(t *testing.T) {
	if nullJSON(nil) != nil || nullJSON([]byte(" null ")) != nil {
		t.Fatalf("expected SQL NULL for empty documents")
	}
	if got, ok := nullJSON([]byte(`{"a":1}`)).([]byte); !ok || string(got) != `{"a":1}` {
		t.Fatalf("nullJSON() = %v", got)
	}
}

func TestNewSimulationStoreNilDB(t *testing.T) {
	if NewSimulationStore(nil) != nil {
		t.Fatalf("expected nil store for nil db")
	}
}
