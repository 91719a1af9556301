package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"digipin/internal/obs"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim is an OpenStreetMap reverse geocoder.
type Nominatim struct {
	baseURL   string
	userAgent string
	session   *http.Client
}

func NewNominatim(baseURL, userAgent string, client *http.Client) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if userAgent == "" {
		userAgent = "digipin-app"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Nominatim{baseURL: strings.TrimRight(baseURL, "/"), userAgent: userAgent, session: client}
}

func (n *Nominatim) Name() string { return "nominatim" }

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		Postcode string `json:"postcode"`
		City     string `json:"city"`
		Town     string `json:"town"`
		Village  string `json:"village"`
		State    string `json:"state"`
		Country  string `json:"country"`
	} `json:"address"`
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lng float64) (_ Address, err error) {
	defer obs.Time(ctx, "nominatim.Reverse")(&err)

	resp, err := n.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/reverse", nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
		q.Set("format", "json")
		q.Set("addressdetails", "1")
		req.URL.RawQuery = q.Encode()
		req.Header.Set("User-Agent", n.userAgent)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return Address{}, err
	}
	defer resp.Body.Close()

	var decoded nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Address{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	if decoded.Error != "" {
		return Address{}, fmt.Errorf("%w: %s", ErrNoResult, decoded.Error)
	}

	a := decoded.Address
	return Address{
		Latitude:    lat,
		Longitude:   lng,
		FullAddress: decoded.DisplayName,
		Pincode:     a.Postcode,
		City:        firstNonEmpty(a.City, a.Town, a.Village),
		State:       a.State,
		Country:     a.Country,
	}, nil
}

// doWithRetry retries network errors and 5xx responses with exponential
// backoff while respecting context cancellation.
func (n *Nominatim) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := n.session.Do(req)
		if err == nil && resp.StatusCode < 400 {
			return resp, nil
		}
		if err == nil {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			err = &UpstreamError{Provider: n.Name(), Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		lastErr = err

		var ue *UpstreamError
		if errors.As(err, &ue) && ue.Code < 500 && ue.Code != http.StatusTooManyRequests {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("nominatim: %w", lastErr)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
