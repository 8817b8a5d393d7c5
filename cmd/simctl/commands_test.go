package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/simgate/internal/rules"
	"github.com/animus-labs/simgate/internal/spec"
)

const specPath = "../../api/simulation_spec.yaml"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckSpec(t *testing.T) {
	out, err := run(t, "", "check-spec", specPath)
	if err != nil {
		t.Fatalf("check-spec err=%v", err)
	}
	for _, want := range []string{"version:", "Driving_Cycle", "Distance_km", "0 city", "city\n", "custom\n", "standard\n", "ui mappings"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckSpecMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("template: [1, 2]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := run(t, "", "check-spec", path)
	var malformed *spec.MalformedSpecError
	if !errors.As(err, &malformed) {
		t.Fatalf("err=%v, want MalformedSpecError", err)
	}
}

func TestBuildFromStdin(t *testing.T) {
	out, err := run(t, `{"Driving_Cycle":{"cycleType":0}}`, "build", "--spec", specPath, "-")
	if err != nil {
		t.Fatalf("build err=%v", err)
	}
	var payload map[string]map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode payload %q: %v", out, err)
	}
	if payload[spec.GroupDrivingCycle]["Cycle_Type"] != float64(0) {
		t.Fatalf("Driving_Cycle=%v", payload[spec.GroupDrivingCycle])
	}
	if _, ok := payload[spec.GroupScenarioData]; ok {
		t.Fatalf("city payload must not carry Scenario_data")
	}
}

func TestBuildReportsRuleViolation(t *testing.T) {
	input := filepath.Join(t.TempDir(), "input.json")
	body := `{"inputData":{"Driving_Cycle":{"cycleType":4,"timeSeries":[0,1,2],"speedSeries":[0,1]}}}`
	if err := os.WriteFile(input, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := run(t, "", "build", "--spec", specPath, input)
	if !errors.Is(err, rules.ErrInvalidScenario) {
		t.Fatalf("err=%v, want ErrInvalidScenario", err)
	}
	if !strings.Contains(out, rules.RuleCustomArraysLen) {
		t.Fatalf("output missing rule name:\n%s", out)
	}
}
