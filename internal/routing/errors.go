package routing

import (
	"fmt"

	"digipin/internal/digipin"
)

// InvalidCodeError reports an undecodable depot or stop code. Optimize wraps it
// with the offending field, so match it with errors.As.
type InvalidCodeError = digipin.InvalidCodeError

// InsufficientStopsError is returned when the request has no stops to route.
type InsufficientStopsError struct {
	Points int
}

func (e *InsufficientStopsError) Error() string {
	return fmt.Sprintf("at least 2 points are required including the depot, got %d", e.Points)
}

// NoSolutionError is returned when the search finds no feasible assignment.
type NoSolutionError struct {
	Reason string
}

func (e *NoSolutionError) Error() string {
	if e.Reason == "" {
		return "no solution found (consider adjusting time windows or vehicle count)"
	}
	return "no solution found: " + e.Reason
}

// InvalidRequestError reports a malformed request field.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return e.Field + ": " + e.Reason
}
