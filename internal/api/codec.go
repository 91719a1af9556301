package api

import (
	"net/http"
	"strconv"
	"strings"

	"digipin/internal/digipin"
	"digipin/internal/metrics"
)

func queryFloat(r *http.Request, key string) (float64, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// decodeParam reads and decodes the digipin query parameter, writing the
// problem response itself on failure.
func decodeParam(w http.ResponseWriter, r *http.Request) (string, digipin.GeoPoint, bool) {
	raw := r.URL.Query().Get("digipin")
	if raw == "" {
		writeFieldProblem(w, http.StatusBadRequest, "Missing parameter", "digipin is required", r.URL.Path, "digipin")
		return "", digipin.GeoPoint{}, false
	}
	compact, err := digipin.Normalize(raw)
	if err != nil {
		metrics.CodecOps.WithLabelValues("decode", "invalid").Inc()
		writeError(w, r, err)
		return "", digipin.GeoPoint{}, false
	}
	p, err := digipin.Decode(compact)
	if err != nil {
		metrics.CodecOps.WithLabelValues("decode", "invalid").Inc()
		writeError(w, r, err)
		return "", digipin.GeoPoint{}, false
	}
	metrics.CodecOps.WithLabelValues("decode", "ok").Inc()
	return compact, p, true
}

// EncodeHandler handles GET /api/digipin?lat=&lng=
func (s *Server) EncodeHandler(w http.ResponseWriter, r *http.Request) {
	lat, okLat := queryFloat(r, "lat")
	lng, okLng := queryFloat(r, "lng")
	if !okLat || !okLng {
		writeProblem(w, http.StatusBadRequest, "Invalid coordinates", "lat and lng must be decimal degrees", r.URL.Path)
		return
	}
	code, err := digipin.Encode(lat, lng)
	if err != nil {
		metrics.CodecOps.WithLabelValues("encode", "out_of_bounds").Inc()
		writeError(w, r, err)
		return
	}
	metrics.CodecOps.WithLabelValues("encode", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"digipin": code.String()})
}

// DecodeHandler handles GET /api/latlng?digipin=
func (s *Server) DecodeHandler(w http.ResponseWriter, r *http.Request) {
	_, p, ok := decodeParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ValidateHandler decodes a code and checks it against the service areas.
func (s *Server) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	compact, p, ok := decodeParam(w, r)
	if !ok {
		return
	}
	within, err := s.Store.ContainsPoint(r.Context(), p.Latitude, p.Longitude)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Service area lookup failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"digipin":                compact,
		"latitude":               p.Latitude,
		"longitude":              p.Longitude,
		"is_within_service_area": within,
	})
}

// AddressHandler reverse geocodes the centre of a code's cell.
func (s *Server) AddressHandler(w http.ResponseWriter, r *http.Request) {
	if s.Geocoder == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Geocoding unavailable", "no geocoding provider configured", r.URL.Path)
		return
	}
	_, p, ok := decodeParam(w, r)
	if !ok {
		return
	}
	addr, err := s.Geocoder.Reverse(r.Context(), p.Latitude, p.Longitude)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

// QRContentHandler returns the payload a QR code for the code should encode.
func (s *Server) QRContentHandler(w http.ResponseWriter, r *http.Request) {
	compact, _, ok := decodeParam(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "":
		format = digipin.FormatJSON
	case digipin.FormatJSON, digipin.FormatVCard, digipin.FormatText:
	default:
		writeFieldProblem(w, http.StatusBadRequest, "Invalid format", "format must be json, vcard or text", r.URL.Path, "format")
		return
	}
	content, err := digipin.QRContent(compact, format)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"digipin": compact, "format": format, "content": content})
}
