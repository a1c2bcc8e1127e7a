package availability

import "fmt"

// InvalidInputError is returned for requests that can never succeed. Callers should not retry.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamDataError wraps a failed schedule or appointment lookup.
// Callers treat it as "no slots" so a broken read never offers a double booking.
type UpstreamDataError struct {
	Op  string
	Err error
}

func (e *UpstreamDataError) Error() string {
	return fmt.Sprintf("availability %s: %v", e.Op, e.Err)
}

func (e *UpstreamDataError) Unwrap() error {
	return e.Err
}
