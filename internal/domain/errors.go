package domain

import "errors"

// Error kinds. Adapters and components wrap these with fmt.Errorf("...: %w")
// and callers classify with errors.Is.
var (
	// ErrTransient: network, timeout, 429 or 5xx. Retried; never advances the watermark.
	ErrTransient = errors.New("transient source error")
	// ErrDecode: malformed oracle payload. Permanent for the event.
	ErrDecode = errors.New("decode error")
	// ErrNotFound: the catalog has no market for the identifier. Permanent for the event.
	ErrNotFound = errors.New("market not found")
	// ErrOrderValidation: price or size out of bounds, or the exchange rejected the request.
	ErrOrderValidation = errors.New("order validation error")
	// ErrSubmissionFailed: submission retries exhausted.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrFatalConfig: missing or invalid configuration.
	ErrFatalConfig = errors.New("fatal config error")
)

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
