package schema

import (
	"errors"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/animus-labs/simgate/internal/spec"
)

const cycleTypeField = "Cycle_Type"

// RequestValidator checks the save-input envelope { userId?, inputData }.
// Driving_Cycle must carry an integer cycle type from the catalogue; every
// other group is an open key/value object.
type RequestValidator struct {
	schema    *openapi3.Schema
	cycles    spec.CycleCatalogue
	cycleKeys []string
}

func NewRequestValidator(index *spec.Index) (*RequestValidator, error) {
	if index == nil {
		return nil, errors.New("spec index is required")
	}
	cycles := index.CycleTypes()
	cycleKeys := index.UIKeys(spec.GroupDrivingCycle, cycleTypeField)

	drivingCycle := openapi3.NewObjectSchema()
	for _, key := range cycleKeys {
		drivingCycle.WithProperty(key, openapi3.NewIntegerSchema().
			WithMin(float64(cycles.Min())).
			WithMax(float64(cycles.Max())))
	}

	inputData := openapi3.NewObjectSchema().
		WithProperty(spec.GroupDrivingCycle, drivingCycle).
		WithAdditionalProperties(openapi3.NewObjectSchema())
	inputData.Required = []string{spec.GroupDrivingCycle}

	envelope := openapi3.NewObjectSchema().
		WithProperty("userId", openapi3.NewStringSchema().WithNullable()).
		WithProperty("inputData", inputData)
	envelope.Required = []string{"inputData"}

	return &RequestValidator{schema: envelope, cycles: cycles, cycleKeys: cycleKeys}, nil
}

// Validate takes the envelope as decoded by encoding/json.
func (v *RequestValidator) Validate(body any) error {
	verr := &ValidationError{Kind: ErrInvalidRequest}
	verr.collect(v.schema.VisitJSON(body, openapi3.MultiErrors()))

	envelope, _ := body.(map[string]any)
	input, _ := envelope["inputData"].(map[string]any)
	cycle, ok := input[spec.GroupDrivingCycle].(map[string]any)
	if !ok {
		return verr.OrNil()
	}

	found := false
	for _, key := range v.cycleKeys {
		raw, present := cycle[key]
		if !present {
			continue
		}
		found = true
		code, ok := spec.AsInt(raw)
		if !ok || code < v.cycles.Min() || code > v.cycles.Max() {
			continue
		}
		if !v.cycles.Contains(code) {
			verr.Add("inputData."+spec.GroupDrivingCycle+"."+key, "cycle type %d is not one of %s", code, formatCodes(v.cycles.Codes()))
		}
	}
	if !found {
		verr.Add("inputData."+spec.GroupDrivingCycle+"."+cycleTypeField, "cycle type is required (one of %s)", formatCodes(v.cycles.Codes()))
	}
	return verr.OrNil()
}

func formatCodes(codes []int) string {
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, strconv.Itoa(c))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
