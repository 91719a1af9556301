// Package integrations defines the stop import sources accepted by the API.
package integrations

import (
	"fmt"
	"io"

	"digipin/internal/routing"
)

// StopSource parses an uploaded stop list into optimizer locations.
type StopSource interface {
	Name() string
	ContentTypes() []string
	Parse(r io.Reader) ([]routing.RouteLocation, error)
}

// ParseError points at the offending input row.
type ParseError struct {
	Source string
	Line   int
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s line %d: %s", e.Source, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s line %d: %s: %s", e.Source, e.Line, e.Field, e.Reason)
}
