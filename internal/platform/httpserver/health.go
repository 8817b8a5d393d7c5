package httpserver

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 2 * time.Second

func Healthz(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"service": service,
			"status":  "ok",
		})
	}
}

// ReadinessCheck is one dependency probe. Timeout defaults to two seconds.
type ReadinessCheck struct {
	Name    string
	Check   func(context.Context) error
	Timeout time.Duration
}

type checkResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ReadyzWithChecks runs every check concurrently and answers 503 when any of
// them fails. Results keep the order the checks were given in.
func ReadyzWithChecks(service string, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make([]checkResult, len(checks))
		var g errgroup.Group
		for i, check := range checks {
			g.Go(func() error {
				results[i] = runCheck(r.Context(), check)
				return nil
			})
		}
		_ = g.Wait()

		status, code := "ready", http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				status, code = "not_ready", http.StatusServiceUnavailable
				break
			}
		}
		WriteJSON(w, code, map[string]any{
			"service": service,
			"status":  status,
			"checks":  results,
		})
	}
}

func runCheck(ctx context.Context, check ReadinessCheck) checkResult {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res := checkResult{Name: check.Name, Status: "ok"}
	var err error
	if check.Check == nil {
		err = errNoCheck
	} else {
		err = check.Check(ctx)
	}
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Status = "fail"
		res.Error = err.Error()
	}
	return res
}
