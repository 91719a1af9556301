// Package geocode resolves coordinates to postal addresses.
package geocode

import (
	"context"
	"errors"
	"fmt"
)

// Address is the reverse-geocoded place at a coordinate.
type Address struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	FullAddress string  `json:"full_address"`
	Pincode     string  `json:"pincode"`
	City        string  `json:"city"`
	State       string  `json:"state"`
	Country     string  `json:"country"`
}

// Provider is a reverse geocoding backend.
type Provider interface {
	Name() string
	Reverse(ctx context.Context, lat, lng float64) (Address, error)
}

// ErrNoResult is returned when the provider knows nothing at the point.
var ErrNoResult = errors.New("geocode: no result")

// UpstreamError is a non-success response from a provider.
type UpstreamError struct {
	Provider string
	Code     int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Code, e.Body)
}
