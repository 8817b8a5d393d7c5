package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/animus-labs/simgate/internal/spec"
)

func newRequestValidator(t *testing.T) *RequestValidator {
	t.Helper()
	ix, err := spec.LoadFile("../../api/simulation_spec.yaml")
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	v, err := NewRequestValidator(ix)
	if err != nil {
		t.Fatalf("NewRequestValidator() err=%v", err)
	}
	return v
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func issuePaths(err error) []string {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	out := make([]string, 0, len(verr.Issues))
	for _, issue := range verr.Issues {
		out = append(out, issue.Path)
	}
	return out
}

func hasPath(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}

func TestRequestValidatorAccepts(t *testing.T) {
	v := newRequestValidator(t)
	for _, raw := range []string{
		`{"inputData": {"Driving_Cycle": {"cycleType": 0}}}`,
		`{"userId": null, "inputData": {"Driving_Cycle": {"Cycle_Type": 4}, "Future_group": {"anything": [1, "x"]}}}`,
		`{"userId": "u-1", "inputData": {"Driving_Cycle": {"cycleType": 2, "extra": true}, "Vehicle_data": {}}}`,
	} {
		if err := v.Validate(decode(t, raw)); err != nil {
			t.Fatalf("Validate(%s) err=%v", raw, err)
		}
	}
}

func TestRequestValidatorRejects(t *testing.T) {
	v := newRequestValidator(t)
	cases := []struct {
		name  string
		raw   string
		paths []string
	}{
		{"not an object", `[]`, []string{rootPath}},
		{"missing inputData", `{"userId": "u"}`, []string{"inputData"}},
		{"missing driving cycle", `{"inputData": {"Vehicle_data": {}}}`, []string{"inputData.Driving_Cycle"}},
		{"missing cycle type", `{"inputData": {"Driving_Cycle": {}}}`, []string{"inputData.Driving_Cycle.Cycle_Type"}},
		{"fractional cycle type", `{"inputData": {"Driving_Cycle": {"cycleType": 1.5}}}`, []string{"inputData.Driving_Cycle.cycleType"}},
		{"cycle type out of range", `{"inputData": {"Driving_Cycle": {"cycleType": 7}}}`, []string{"inputData.Driving_Cycle.cycleType"}},
		{"string cycle type", `{"inputData": {"Driving_Cycle": {"Cycle_Type": "1"}}}`, []string{"inputData.Driving_Cycle.Cycle_Type"}},
		{
			"every offending path is reported",
			`{"userId": 5, "inputData": {"Driving_Cycle": {"cycleType": -1}, "Vehicle_data": 3}}`,
			[]string{"userId", "inputData.Driving_Cycle.cycleType", "inputData.Vehicle_data"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(decode(t, tc.raw))
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err=%v, want ErrInvalidRequest", err)
			}
			paths := issuePaths(err)
			for _, want := range tc.paths {
				if !hasPath(paths, want) {
					t.Fatalf("paths=%v, missing %q (err=%v)", paths, want, err)
				}
			}
		})
	}
}

func TestRequestValidatorNonContiguousCatalogue(t *testing.T) {
	ix, err := spec.Parse([]byte(`
template: { Driving_Cycle: { Cycle_Type: 0 } }
enums:
  cycle_types:
    - { code: 0, key: city }
    - { code: 2, key: wltp }
    - { code: 5, key: custom }
`))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	v, _ := NewRequestValidator(ix)
	err = v.Validate(decode(t, `{"inputData": {"Driving_Cycle": {"Cycle_Type": 3}}}`))
	if !hasPath(issuePaths(err), "inputData.Driving_Cycle.Cycle_Type") {
		t.Fatalf("expected catalogue membership issue, got %v", err)
	}
	if err := v.Validate(decode(t, `{"inputData": {"Driving_Cycle": {"Cycle_Type": 5}}}`)); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

const validResponse = `{
	"version": "1.4.0",
	"computed_at": "2024-05-01T10:00:00Z",
	"timeseries": {"time_s": [0, 1, 2], "speed_mps": [0, 1.5, 3]},
	"metrics": {"energy_kWh": 1.2, "range_km": 410}
}`

func TestResponseValidatorAccepts(t *testing.T) {
	v := NewResponseValidator()
	doc, err := v.ValidateBody([]byte(validResponse))
	if err != nil {
		t.Fatalf("ValidateBody() err=%v", err)
	}
	if doc.(map[string]any)["version"] != "1.4.0" {
		t.Fatalf("unexpected decoded doc %v", doc)
	}

	if _, err := v.ValidateBody([]byte(`{"version": "1", "computed_at": "2024-05-01T10:00:00.123+02:00", "timeseries": {"time_s": []}, "metrics": {}}`)); err != nil {
		t.Fatalf("ValidateBody(minimal) err=%v", err)
	}
}

func TestResponseValidatorRejects(t *testing.T) {
	v := NewResponseValidator()
	cases := []struct {
		name  string
		raw   string
		paths []string
	}{
		{"not json", `<html>`, []string{rootPath}},
		{"trailing document", validResponse + `{}`, []string{rootPath}},
		{"empty object", `{}`, []string{"version", "computed_at", "timeseries", "metrics"}},
		{"bad timestamp", `{"version": "1", "computed_at": "yesterday", "timeseries": {"time_s": [0]}, "metrics": {}}`, []string{"computed_at"}},
		{"missing time_s", `{"version": "1", "computed_at": "2024-05-01T10:00:00Z", "timeseries": {"speed_mps": [1]}, "metrics": {}}`, []string{"timeseries.time_s"}},
		{"non numeric sample", `{"version": "1", "computed_at": "2024-05-01T10:00:00Z", "timeseries": {"time_s": [0, "x"]}, "metrics": {}}`, []string{"timeseries.time_s.1"}},
		{"non numeric series", `{"version": "1", "computed_at": "2024-05-01T10:00:00Z", "timeseries": {"time_s": [0], "soc": "full"}, "metrics": {}}`, []string{"timeseries.soc"}},
		{"non numeric metric", `{"version": "1", "computed_at": "2024-05-01T10:00:00Z", "timeseries": {"time_s": [0]}, "metrics": {"range_km": "far"}}`, []string{"metrics.range_km"}},
		{"empty version", `{"version": "", "computed_at": "2024-05-01T10:00:00Z", "timeseries": {"time_s": [0]}, "metrics": {}}`, []string{"version"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.ValidateBody([]byte(tc.raw))
			if !errors.Is(err, ErrInvalidResponse) {
				t.Fatalf("err=%v, want ErrInvalidResponse", err)
			}
			paths := issuePaths(err)
			for _, want := range tc.paths {
				if !hasPath(paths, want) {
					t.Fatalf("paths=%v, missing %q (err=%v)", paths, want, err)
				}
			}
		})
	}
}

func TestValidationErrorFormatting(t *testing.T) {
	verr := &ValidationError{Kind: ErrInvalidRequest}
	if verr.OrNil() != nil {
		t.Fatalf("empty error must be nil")
	}
	verr.Add("b", "second")
	verr.Add("", "root issue")
	verr.Add("a", "first")
	verr.Add("a", "first")

	err := verr.OrNil()
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(verr.Issues) != 3 {
		t.Fatalf("issues=%v, want duplicates collapsed", verr.Issues)
	}
	if verr.Issues[0].Path != rootPath || verr.Issues[1].Path != "a" {
		t.Fatalf("issues not sorted: %v", verr.Issues)
	}
	if !strings.Contains(err.Error(), "a: first") {
		t.Fatalf("Error()=%q", err.Error())
	}
}
