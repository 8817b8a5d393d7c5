package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/animus-labs/simgate/internal/spec"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	ix, err := spec.LoadFile("../../api/simulation_spec.yaml")
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	b, err := NewBuilder(ix)
	if err != nil {
		t.Fatalf("NewBuilder() err=%v", err)
	}
	return b
}

// decodeInput mirrors how the HTTP layer hands input to the builder.
func decodeInput(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	return out
}

func TestBuildStandardCycle(t *testing.T) {
	b := newTestBuilder(t)
	payload, scenario, err := b.BuildWithScenario(decodeInput(t, `{
		"Driving_Cycle": {"cycleType": 2, "timeSeries": [0, 1], "speedSeries": [0, 3], "altitude": [5, 6]},
		"Scenario_data": {"initialGap": 40}
	}`))
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	if scenario != ScenarioStandard {
		t.Fatalf("scenario=%q", scenario)
	}

	cycle := payload[spec.GroupDrivingCycle]
	if cycle["Time_s"] != nil || cycle["Speed_mps"] != nil {
		t.Fatalf("expected null series, got %v / %v", cycle["Time_s"], cycle["Speed_mps"])
	}
	if cycle["Altitude_m"] != 0 {
		t.Fatalf("Altitude_m=%v, want 0", cycle["Altitude_m"])
	}

	scenarioData, ok := payload[spec.GroupScenarioData]
	if !ok {
		t.Fatalf("Scenario_data must be retained for standard cycles")
	}
	want := map[string]any{
		"Vehicle_Length_m":       4.6,
		"Initial_Gap_m":          float64(40),
		"Lead_Vehicle_Speed_mps": 0,
		"Road_Grade_pct":         0,
	}
	if !reflect.DeepEqual(scenarioData, want) {
		t.Fatalf("Scenario_data=%v, want %v", scenarioData, want)
	}
}

func TestBuildCityCycleRemovesAltitude(t *testing.T) {
	b := newTestBuilder(t)
	payload, err := b.Build(decodeInput(t, `{
		"Driving_Cycle": {"cycleType": 0, "timeSeries": [0, 1, 2], "altitude": 12}
	}`))
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	cycle := payload[spec.GroupDrivingCycle]
	if _, ok := cycle["Altitude_m"]; ok {
		t.Fatalf("Altitude_m must be absent for city cycles: %v", cycle)
	}
	if !reflect.DeepEqual(cycle["Time_s"], []any{float64(0), float64(1), float64(2)}) {
		t.Fatalf("Time_s=%v, want caller series untouched", cycle["Time_s"])
	}
	if _, ok := payload[spec.GroupScenarioData]; ok {
		t.Fatalf("Scenario_data must be deleted for city cycles")
	}
}

func TestBuildCustomCycle(t *testing.T) {
	series := func(n int) string {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = "1"
		}
		return "[" + strings.Join(parts, ",") + "]"
	}

	cases := []struct {
		name     string
		input    string
		wantErr  error
		wantRule string
		altitude any
	}{
		{
			name:     "length mismatch",
			input:    `{"Driving_Cycle": {"cycleType": 4, "timeSeries": ` + series(5) + `, "speedSeries": ` + series(4) + `}}`,
			wantErr:  ErrInvalidScenario,
			wantRule: RuleCustomArraysLen,
		},
		{
			name:     "only one array",
			input:    `{"Driving_Cycle": {"cycleType": 4, "timeSeries": ` + series(3) + `, "speedSeries": 7}}`,
			wantErr:  ErrInvalidScenario,
			wantRule: RuleCustomArraysPair,
		},
		{
			name:     "matching arrays keep altitude",
			input:    `{"Driving_Cycle": {"cycleType": 4, "timeSeries": ` + series(10) + `, "speedSeries": ` + series(10) + `, "altitude": ` + series(10) + `}}`,
			altitude: []any{float64(1), float64(1), float64(1), float64(1), float64(1), float64(1), float64(1), float64(1), float64(1), float64(1)},
		},
		{
			name:     "scalar altitude passes through",
			input:    `{"Driving_Cycle": {"cycleType": 4, "timeSeries": ` + series(2) + `, "speedSeries": ` + series(2) + `, "altitude": 250}}`,
			altitude: float64(250),
		},
		{
			name:     "empty altitude defaults to zero",
			input:    `{"Driving_Cycle": {"cycleType": 4, "altitude": ""}}`,
			altitude: 0,
		},
		{
			name:     "null altitude defaults to zero",
			input:    `{"Driving_Cycle": {"cycleType": 4, "altitude": null}}`,
			altitude: 0,
		},
	}

	b := newTestBuilder(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := b.Build(decodeInput(t, tc.input))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v, want %v", err, tc.wantErr)
				}
				var sErr *ScenarioError
				if !errors.As(err, &sErr) || sErr.Rule != tc.wantRule {
					t.Fatalf("rule=%v, want %s", err, tc.wantRule)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() err=%v", err)
			}
			if got := payload[spec.GroupDrivingCycle]["Altitude_m"]; !reflect.DeepEqual(got, tc.altitude) {
				t.Fatalf("Altitude_m=%#v, want %#v", got, tc.altitude)
			}
			if _, ok := payload[spec.GroupScenarioData]; ok {
				t.Fatalf("Scenario_data must be deleted for custom cycles")
			}
		})
	}
}

func TestBuildUnknownCycleType(t *testing.T) {
	b := newTestBuilder(t)
	_, err := b.Build(decodeInput(t, `{"Driving_Cycle": {"cycleType": 9}}`))
	if !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("err=%v, want ErrInvalidScenario", err)
	}
}

func TestBuildECOThresholdGating(t *testing.T) {
	b := newTestBuilder(t)

	_, err := b.Build(decodeInput(t, `{"Driving_Cycle": {"cycleType": 1, "ecoOptions": 2}}`))
	if !errors.Is(err, ErrMissingRequiredField) {
		t.Fatalf("err=%v, want ErrMissingRequiredField", err)
	}
	_, err = b.Build(decodeInput(t, `{"Driving_Cycle": {"cycleType": 1, "ecoOptions": 2, "ecoThreshold": null}}`))
	if !errors.Is(err, ErrMissingRequiredField) {
		t.Fatalf("explicit null: err=%v, want ErrMissingRequiredField", err)
	}

	payload, err := b.Build(decodeInput(t, `{"Driving_Cycle": {"cycleType": 1, "ecoOptions": 2, "ecoThreshold": 0.7}}`))
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	if got := payload[spec.GroupDrivingCycle]["ECO_Threshold"]; got != 0.7 {
		t.Fatalf("ECO_Threshold=%v, want 0.7", got)
	}

	for _, option := range []string{"0", "1"} {
		payload, err := b.Build(decodeInput(t, `{"Driving_Cycle": {"cycleType": 1, "ecoOptions": `+option+`, "ECO_Threshold": 0.9}}`))
		if err != nil {
			t.Fatalf("Build() err=%v", err)
		}
		v, ok := payload[spec.GroupDrivingCycle]["ECO_Threshold"]
		if !ok || v != nil {
			t.Fatalf("ECO_Threshold=%v (present=%v), want null for option %s", v, ok, option)
		}
	}
}

func TestBuildNeverEmitsCalculatedKeys(t *testing.T) {
	b := newTestBuilder(t)
	inputs := []string{
		`{"Driving_Cycle": {"cycleType": 0, "distance": 10, "Distance_km": 11}, "Vehicle_data": {"curbWeight": 1}, "Energy_Storage_data": {"Usable_Energy_kWh": 60}}`,
		`{"Driving_Cycle": {"cycleType": 3, "Distance_km": 11}, "Motor_data": {"motorEfficiency": 97}}`,
		`{"Driving_Cycle": {"cycleType": 4, "Distance_km": 11}, "Vehicle_data": {"Curb_Weight_kg": 2}}`,
	}
	for _, raw := range inputs {
		payload, err := b.Build(decodeInput(t, raw))
		if err != nil {
			t.Fatalf("Build(%s) err=%v", raw, err)
		}
		for group, fields := range payload {
			for key := range fields {
				if b.Index().IsCalculated(group, key) {
					t.Fatalf("calculated key %s.%s leaked for %s", group, key, raw)
				}
			}
		}
	}
}

func TestBuildScrubsStaleCalculatedDefaults(t *testing.T) {
	ix, err := spec.Parse([]byte(`
template:
  Driving_Cycle: { Cycle_Type: 1, Derived: 42 }
  Energy_Storage_data: { MaximumSoC_pct: 90, Initial_Battery_SoC_pct: null }
ui_schema:
  Driving_Cycle:
    - { key: derived, backend_key: Derived, type: calculated }
  Energy_Storage_data:
    - { key: initialSoc, backend_key: Initial_Battery_SoC_pct, type: calculated }
`))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	b, _ := NewBuilder(ix)
	payload, err := b.Build(map[string]any{"Driving_Cycle": map[string]any{"Derived": 1}})
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	if _, ok := payload[spec.GroupDrivingCycle]["Derived"]; ok {
		t.Fatalf("stale calculated default leaked")
	}
	if _, ok := payload[spec.GroupEnergyStorage]["Initial_Battery_SoC_pct"]; ok {
		t.Fatalf("calculated SoC default reappeared after the SoC rule")
	}
}

func TestBuildKeepsTemplateShape(t *testing.T) {
	b := newTestBuilder(t)
	payload, err := b.Build(decodeInput(t, `{"Driving_Cycle": {"cycleType": 1, "notInTemplate": 1}, "Unknown_group": {"a": 1}}`))
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	if _, ok := payload["Unknown_group"]; ok {
		t.Fatalf("unknown group leaked into payload")
	}
	if _, ok := payload[spec.GroupDrivingCycle]["notInTemplate"]; ok {
		t.Fatalf("unknown field leaked into payload")
	}
	for _, group := range b.Index().Groups() {
		defaults, _ := b.Index().TemplateGroup(group)
		for key := range defaults {
			if b.Index().IsCalculated(group, key) {
				continue
			}
			if _, ok := payload[group][key]; !ok {
				t.Fatalf("template key %s.%s missing from payload", group, key)
			}
		}
	}
}

func TestBuildChargerFlagNormalization(t *testing.T) {
	b := newTestBuilder(t)
	payload, err := b.Build(decodeInput(t, `{
		"Driving_Cycle": {"cycleType": 1},
		"Charger_data": {"dcFastCharge": true, "bidirectional": "on"},
		"Energy_Storage_data": {"thermalManagement": "off"},
		"Vehicle_data": {"regenBraking": 0}
	}`))
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	wantCharger := map[string]any{
		"Charger_Power_kW":        11,
		"Charger_Efficiency_pct":  92,
		"DC_Fast_Charge_Flag":     1,
		"Bidirectional_Flag":      1,
		"Scheduled_Charging_Flag": 0,
	}
	if !reflect.DeepEqual(payload[spec.GroupChargerData], wantCharger) {
		t.Fatalf("Charger_data=%v, want %v", payload[spec.GroupChargerData], wantCharger)
	}
	if got := payload[spec.GroupEnergyStorage]["Thermal_Management_Flag"]; got != 0 {
		t.Fatalf("Thermal_Management_Flag=%v, want 0", got)
	}
	if got := payload[spec.GroupVehicleData]["Regen_Braking_Flag"]; got != 0 {
		t.Fatalf("Regen_Braking_Flag=%v, want 0", got)
	}
}

func TestBuildInitialSoCDefault(t *testing.T) {
	b := newTestBuilder(t)
	cases := []struct {
		name  string
		input string
		want  any
	}{
		{"defaults to template maximum", `{"Driving_Cycle": {"cycleType": 1}}`, 95},
		{"defaults to caller maximum", `{"Driving_Cycle": {"cycleType": 1}, "Energy_Storage_data": {"maximumSoc": 80}}`, float64(80)},
		{"explicit value wins", `{"Driving_Cycle": {"cycleType": 1}, "Energy_Storage_data": {"initialSoc": 55}}`, float64(55)},
		{"non numeric maximum keeps template", `{"Driving_Cycle": {"cycleType": 1}, "Energy_Storage_data": {"maximumSoc": "high"}}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := b.Build(decodeInput(t, tc.input))
			if err != nil {
				t.Fatalf("Build() err=%v", err)
			}
			if got := payload[spec.GroupEnergyStorage]["Initial_Battery_SoC_pct"]; got != tc.want {
				t.Fatalf("Initial_Battery_SoC_pct=%#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestBuildIsDeterministicAndPure(t *testing.T) {
	b := newTestBuilder(t)
	raw := `{"Driving_Cycle": {"cycleType": 4, "timeSeries": [0, 1, 2], "speedSeries": [1, 2, 3], "altitude": [1, 1, 1]}, "Vehicle_data": {"vehicleMass": 1800}}`
	input := decodeInput(t, raw)

	first, err := b.Build(input)
	if err != nil {
		t.Fatalf("Build() err=%v", err)
	}
	firstJSON, _ := first.Canonical()

	// Mutating one result must not leak into the next.
	first[spec.GroupDrivingCycle]["Time_s"].([]any)[0] = float64(99)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := b.Build(input)
			if err != nil {
				t.Errorf("Build() err=%v", err)
				return
			}
			results[i], _ = p.Canonical()
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if !bytes.Equal(got, firstJSON) {
			t.Fatalf("result %d differs:\n%s\n%s", i, got, firstJSON)
		}
	}
	if !reflect.DeepEqual(input, decodeInput(t, raw)) {
		t.Fatalf("input was mutated by Build")
	}
}

func TestFlagValue(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want int
	}{
		{true, 1}, {false, 0}, {nil, 0},
		{float64(1), 1}, {float64(0), 0}, {2, 1},
		{"yes", 1}, {"TRUE", 1}, {" 1 ", 1}, {"no", 0}, {"", 0}, {"off", 0},
		{[]any{}, 1},
	} {
		if got := flagValue(tc.in); got != tc.want {
			t.Fatalf("flagValue(%#v)=%d, want %d", tc.in, got, tc.want)
		}
	}
}
