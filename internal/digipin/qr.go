package digipin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// QR payload formats.
const (
	FormatJSON  = "json"
	FormatVCard = "vcard"
	FormatText  = "text"
)

type qrLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type qrPayload struct {
	Digipin  string     `json:"digipin"`
	Location qrLocation `json:"location"`
	MapsURL  string     `json:"maps_url"`
}

// MapsURL returns a Google Maps link to p.
func MapsURL(p GeoPoint) string {
	return "https://www.google.com/maps?q=" + ftoa(p.Latitude) + "," + ftoa(p.Longitude)
}

// QRContent returns the text a QR code for code should carry. Unknown formats
// produce the plain text form.
func QRContent(code, format string) (string, error) {
	p, err := Decode(code)
	if err != nil {
		return "", err
	}
	url := MapsURL(p)

	switch strings.ToLower(format) {
	case FormatJSON:
		b, err := json.MarshalIndent(qrPayload{
			Digipin:  code,
			Location: qrLocation{Lat: p.Latitude, Lng: p.Longitude},
			MapsURL:  url,
		}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("qr content: marshal json: %w", err)
		}
		return string(b), nil
	case FormatVCard:
		return "BEGIN:VCARD\n" +
			"VERSION:4.0\n" +
			"LABEL;TYPE=home:" + code + "\n" +
			"GEO:geo:" + ftoa(p.Latitude) + "," + ftoa(p.Longitude) + "\n" +
			"URL:" + url + "\n" +
			"END:VCARD", nil
	default:
		return "DIGIPIN: " + code + "\nGoogle Maps: " + url, nil
	}
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
