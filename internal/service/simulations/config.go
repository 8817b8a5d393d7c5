package simulations

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"

	"github.com/animus-labs/simgate/internal/platform/env"
)

// RetryPolicy bounds outbound submission attempts. Deadline caps the whole
// retry loop; zero means the attempts alone bound it.
type RetryPolicy struct {
	MaxAttempts int           `validate:"gte=1,lte=20"`
	BaseDelay   time.Duration `validate:"gt=0"`
	MaxDelay    time.Duration `validate:"gtefield=BaseDelay"`
	Jitter      float64       `validate:"gte=0,lt=1"`
	Deadline    time.Duration `validate:"gte=0"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}
}

func RetryPolicyFromEnv() (RetryPolicy, error) {
	p := DefaultRetryPolicy()
	var err error
	if p.MaxAttempts, err = env.Int("VALIDATOR_MAX_ATTEMPTS", p.MaxAttempts); err != nil {
		return RetryPolicy{}, err
	}
	if p.BaseDelay, err = env.Duration("VALIDATOR_RETRY_BASE_DELAY", p.BaseDelay); err != nil {
		return RetryPolicy{}, err
	}
	if p.MaxDelay, err = env.Duration("VALIDATOR_RETRY_MAX_DELAY", p.MaxDelay); err != nil {
		return RetryPolicy{}, err
	}
	if p.Deadline, err = env.Duration("VALIDATOR_SUBMIT_DEADLINE", 0); err != nil {
		return RetryPolicy{}, err
	}
	return p, p.Validate()
}

var validate = validator.New()

func (p RetryPolicy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("retry policy: %w", err)
	}
	return nil
}

// backOff returns a fresh exponential schedule doubling from BaseDelay.
func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}
