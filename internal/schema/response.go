package schema

import (
	"bytes"
	"encoding/json"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-openapi/strfmt"
)

// ResponseValidator checks the external validator's success body:
//
//	{ version, computed_at, timeseries: { time_s: number[], ...number[] }, metrics: { ...number } }
type ResponseValidator struct {
	schema *openapi3.Schema
}

func NewResponseValidator() *ResponseValidator {
	numericSeries := openapi3.NewArraySchema().WithItems(openapi3.NewFloat64Schema())

	timeseries := openapi3.NewObjectSchema().
		WithProperty("time_s", numericSeries).
		WithAdditionalProperties(numericSeries)
	timeseries.Required = []string{"time_s"}

	metrics := openapi3.NewObjectSchema().
		WithAdditionalProperties(openapi3.NewFloat64Schema())

	envelope := openapi3.NewObjectSchema().
		WithProperty("version", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("computed_at", openapi3.NewStringSchema()).
		WithProperty("timeseries", timeseries).
		WithProperty("metrics", metrics)
	envelope.Required = []string{"version", "computed_at", "timeseries", "metrics"}

	return &ResponseValidator{schema: envelope}
}

// ValidateBody decodes and validates a raw response body, returning the
// decoded document on success.
func (v *ResponseValidator) ValidateBody(body []byte) (any, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&doc); err != nil {
		verr := &ValidationError{Kind: ErrInvalidResponse}
		verr.Add(rootPath, "body is not valid JSON: %v", err)
		return nil, verr.OrNil()
	}
	if dec.More() {
		verr := &ValidationError{Kind: ErrInvalidResponse}
		verr.Add(rootPath, "body must contain a single JSON document")
		return nil, verr.OrNil()
	}
	if err := v.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (v *ResponseValidator) Validate(doc any) error {
	verr := &ValidationError{Kind: ErrInvalidResponse}
	verr.collect(v.schema.VisitJSON(doc, openapi3.MultiErrors()))

	if envelope, ok := doc.(map[string]any); ok {
		if computedAt, ok := envelope["computed_at"].(string); ok {
			if _, err := strfmt.ParseDateTime(computedAt); err != nil {
				verr.Add("computed_at", "must be an ISO 8601 timestamp")
			}
		}
	}
	return verr.OrNil()
}
