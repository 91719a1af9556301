package geocode

import (
	"context"
	"fmt"

	maps "googlemaps.github.io/maps"

	"digipin/internal/obs"
)

// Google reverse geocodes through the Maps Geocoding API.
type Google struct {
	client *maps.Client
}

// NewGoogle builds a provider for apiKey. baseURL overrides the API host and
// is only set in tests.
func NewGoogle(apiKey, baseURL string) (*Google, error) {
	opts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, maps.WithBaseURL(baseURL))
	}
	c, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("maps.NewClient: %w", err)
	}
	return &Google{client: c}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) Reverse(ctx context.Context, lat, lng float64) (_ Address, err error) {
	defer obs.Time(ctx, "google.Reverse")(&err)

	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	})
	if err != nil {
		return Address{}, fmt.Errorf("google reverse geocode: %w", err)
	}
	if len(results) == 0 {
		return Address{}, ErrNoResult
	}

	out := Address{Latitude: lat, Longitude: lng, FullAddress: results[0].FormattedAddress}
	var locality, town string
	for _, comp := range results[0].AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "postal_code":
				out.Pincode = comp.LongName
			case "locality":
				locality = comp.LongName
			case "administrative_area_level_2", "sublocality":
				if town == "" {
					town = comp.LongName
				}
			case "administrative_area_level_1":
				out.State = comp.LongName
			case "country":
				out.Country = comp.LongName
			}
		}
	}
	out.City = firstNonEmpty(locality, town)
	return out, nil
}
