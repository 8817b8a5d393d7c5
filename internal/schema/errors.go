package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

var (
	ErrInvalidRequest  = errors.New("input validation failed")
	ErrInvalidResponse = errors.New("upstream response validation failed")
)

const rootPath = "(root)"

type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError aggregates every violated field path. Kind is
// ErrInvalidRequest or ErrInvalidResponse.
type ValidationError struct {
	Kind   error
	Issues []Issue
}

func (e *ValidationError) Error() string {
	kind := e.Kind
	if kind == nil {
		kind = ErrInvalidRequest
	}
	if len(e.Issues) == 0 {
		return kind.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Path+": "+issue.Message)
	}
	return kind.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func (e *ValidationError) Add(path, format string, args ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	if msg == "" {
		return
	}
	if strings.TrimSpace(path) == "" {
		path = rootPath
	}
	for _, existing := range e.Issues {
		if existing.Path == path && existing.Message == msg {
			return
		}
	}
	e.Issues = append(e.Issues, Issue{Path: path, Message: msg})
}

// OrNil returns nil when no issue was recorded. Issues are sorted by path.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	sort.SliceStable(e.Issues, func(i, j int) bool {
		if e.Issues[i].Path != e.Issues[j].Path {
			return e.Issues[i].Path < e.Issues[j].Path
		}
		return e.Issues[i].Message < e.Issues[j].Message
	})
	return e
}

// collect flattens kin-openapi's nested MultiError/SchemaError tree.
func (e *ValidationError) collect(err error) {
	switch t := err.(type) {
	case nil:
	case openapi3.MultiError:
		for _, item := range t {
			e.collect(item)
		}
	case *openapi3.SchemaError:
		if nested, ok := t.Origin.(openapi3.MultiError); ok && len(nested) > 0 {
			e.collect(nested)
			return
		}
		e.Add(schemaErrorPath(t), "%s", t.Reason)
	default:
		e.Add(rootPath, "%s", err.Error())
	}
}

var missingPropertyRE = regexp.MustCompile(`^property "(.+)" is missing$`)

// schemaErrorPath reports a missing required property at its own path rather
// than at the enclosing object.
func schemaErrorPath(err *openapi3.SchemaError) string {
	pointer := err.JSONPointer()
	if err.SchemaField == "required" {
		if m := missingPropertyRE.FindStringSubmatch(err.Reason); m != nil {
			if len(pointer) == 0 || pointer[len(pointer)-1] != m[1] {
				pointer = append(pointer, m[1])
			}
		}
	}
	return strings.Join(pointer, ".")
}
