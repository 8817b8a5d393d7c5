package simulations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/simgate/internal/repo"
	"github.com/animus-labs/simgate/internal/schema"
)

var (
	ErrIDRequired = errors.New("simulation id is required")
	// ErrAlreadyProcessing wraps repo.ErrConflict.
	ErrAlreadyProcessing = fmt.Errorf("simulation already processing: %w", repo.ErrConflict)

	ErrUpstreamUnavailable     = errors.New("upstream_unavailable")
	ErrUpstreamResponseInvalid = errors.New("upstream_response_invalid")
)

// UpstreamError describes a submission that reached a failed state because of
// the external validator. StatusCode and Body are zero when no HTTP response
// was received.
type UpstreamError struct {
	Kind        error
	StatusCode  int
	ContentType string
	Body        []byte
	Attempts    int
	Validation  *schema.ValidationError
	Err         error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	switch {
	case e.Validation != nil:
		b.WriteString(": ")
		b.WriteString(e.Validation.Error())
	case e.StatusCode != 0:
		fmt.Fprintf(&b, ": validator returned %d", e.StatusCode)
		if snippet := bodySnippet(e.Body); snippet != "" {
			b.WriteString(": ")
			b.WriteString(snippet)
		}
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Validation != nil {
		errs = append(errs, e.Validation)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// HasResponse reports whether the validator answered with an HTTP response
// that can be passed back to the caller.
func (e *UpstreamError) HasResponse() bool {
	return e.StatusCode != 0
}

const maxReasonBody = 256

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxReasonBody {
		s = s[:maxReasonBody] + "..."
	}
	return s
}
