package mail

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should not be retried: explicit
// permanent errors and 5xx SMTP replies other than 535.
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	code := smtpCode(err)
	return code >= 500 && code != 535
}

// RetryPolicy bounds delivery attempts.
type RetryPolicy struct {
	MaxRetries uint64
	Base       time.Duration
	Cap        time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	ceiling := p.Cap
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(ceiling, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// RetryingSender retries transient failures of the wrapped sender with
// capped exponential backoff.
type RetryingSender struct {
	next   Sender
	policy RetryPolicy
	logger *zap.SugaredLogger
}

func NewRetryingSender(next Sender, policy RetryPolicy, logger *zap.SugaredLogger) *RetryingSender {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RetryingSender{next: next, policy: policy, logger: logger}
}

func (s *RetryingSender) Send(ctx context.Context, m Message) error {
	attempt := 0
	err := retry.Do(ctx, s.policy.backoff(), func(ctx context.Context) error {
		attempt++
		err := s.next.Send(ctx, m)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		s.logger.Debugw("email delivery attempt failed", "tag", m.Tag, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		s.logger.Warnw("email delivery failed", "tag", m.Tag, "attempts", attempt, "error", err)
		return apperr.TransportFailed("email_delivery_failed", err)
	}
	return nil
}
