package digipin

import "fmt"

// OutOfBoundsError is returned by Encode for coordinates outside the service area.
type OutOfBoundsError struct {
	Field string // "latitude" or "longitude"
	Value float64
	Min   float64
	Max   float64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s %v out of range [%v, %v]", e.Field, e.Value, e.Min, e.Max)
}

// InvalidCodeError is returned for malformed codes.
type InvalidCodeError struct {
	Code   string
	Char   rune // offending symbol, 0 when the length is wrong
	Length int  // separator-stripped length
	Reason string
}

func (e *InvalidCodeError) Error() string {
	if e.Char != 0 {
		return fmt.Sprintf("invalid DIGIPIN %q: invalid character %q", e.Code, e.Char)
	}
	if e.Reason != "" {
		return fmt.Sprintf("invalid DIGIPIN %q: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("invalid DIGIPIN %q: length %d, want %d", e.Code, e.Length, Levels)
}
