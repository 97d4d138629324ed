package densitymap

import "github.com/pkg/errors"

// Error taxonomy for density map construction and use. Callers match these
// with errors.Is; the returned errors carry additional context.
var (
	// ErrInvalidSpec is returned synchronously, before any tiling work, for a
	// spec with a non-positive radius, a negative pixel size or an
	// inconsistent kernel/normalization combination.
	ErrInvalidSpec = errors.New("invalid density map spec")

	// ErrDataUnavailable is returned when the image or its object hierarchy
	// cannot be queried. No raster is returned.
	ErrDataUnavailable = errors.New("density map data unavailable")

	// ErrCancelled is returned when cooperative cancellation was observed.
	// It is a normal termination and not reported to users.
	ErrCancelled = errors.New("density map build cancelled")

	// ErrRendering is returned when a display range or color model cannot be
	// constructed. Renderers recover from it with a default range.
	ErrRendering = errors.New("density map rendering failed")
)

// kindError files an underlying error under one of the sentinels above.
// errors.Is matches both the sentinel and anything in the cause chain.
type kindError struct {
	kind  error
	cause error
}

func withKind(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &kindError{kind: kind, cause: cause}
}

func (e *kindError) Error() string        { return e.kind.Error() + ": " + e.cause.Error() }
func (e *kindError) Is(target error) bool { return target == e.kind }
func (e *kindError) Unwrap() error        { return e.cause }

// Cancelled returns ErrCancelled carrying the context error that stopped
// the work, so callers can match either.
func Cancelled(err error) error {
	return withKind(ErrCancelled, err)
}
