package digipin

import (
	"math"
	"strings"
)

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Code is a DIGIPIN in display form (XXX-XXX-XXXX).
type Code string

// Compact returns the code without separators.
func (c Code) Compact() string { return strip(string(c)) }

func (c Code) String() string { return string(c) }

// Encode returns the code of the level-10 cell containing (lat, lon).
func Encode(lat, lon float64) (Code, error) {
	if math.IsNaN(lat) || lat < MinLat || lat > MaxLat {
		return "", &OutOfBoundsError{Field: "latitude", Value: lat, Min: MinLat, Max: MaxLat}
	}
	if math.IsNaN(lon) || lon < MinLon || lon > MaxLon {
		return "", &OutOfBoundsError{Field: "longitude", Value: lon, Min: MinLon, Max: MaxLon}
	}

	minLat, maxLat := MinLat, MaxLat
	minLon, maxLon := MinLon, MaxLon

	var sb strings.Builder
	sb.Grow(Levels + 2)
	for level := 1; level <= Levels; level++ {
		latDiv := (maxLat - minLat) / 4
		lonDiv := (maxLon - minLon) / 4

		row := clamp(3-int(math.Floor((lat-minLat)/latDiv)), 0, 3)
		col := clamp(int(math.Floor((lon-minLon)/lonDiv)), 0, 3)

		sb.WriteByte(grid[row][col])
		if level == 3 || level == 6 {
			sb.WriteByte(Separator)
		}

		maxLat = minLat + latDiv*float64(4-row)
		minLat = minLat + latDiv*float64(3-row)
		minLon = minLon + lonDiv*float64(col)
		maxLon = minLon + lonDiv
	}
	return Code(sb.String()), nil
}

// Decode returns the centroid of the cell addressed by code, rounded to 6 decimals.
func Decode(code string) (GeoPoint, error) {
	b, err := Bounds(code)
	if err != nil {
		return GeoPoint{}, err
	}
	c := b.Center()
	return GeoPoint{Latitude: round6(c.Latitude), Longitude: round6(c.Longitude)}, nil
}

// Bounds returns the level-10 cell addressed by code.
func Bounds(code string) (Box, error) {
	pin, err := Normalize(code)
	if err != nil {
		return Box{}, err
	}

	b := ServiceArea()
	for i := 0; i < len(pin); i++ {
		pos, ok := symbols[pin[i]]
		if !ok {
			return Box{}, &InvalidCodeError{Code: code, Char: rune(pin[i]), Length: len(pin)}
		}
		latDiv := (b.MaxLat - b.MinLat) / 4
		lonDiv := (b.MaxLon - b.MinLon) / 4

		lat1 := b.MaxLat - latDiv*float64(pos.row+1)
		lat2 := b.MaxLat - latDiv*float64(pos.row)
		lon1 := b.MinLon + lonDiv*float64(pos.col)
		lon2 := b.MinLon + lonDiv*float64(pos.col+1)
		b = Box{MinLat: lat1, MaxLat: lat2, MinLon: lon1, MaxLon: lon2}
	}
	return b, nil
}

// Normalize validates code and returns its canonical 10-symbol uppercase form.
// Separators ('-' and spaces) are ignored; letters are case-insensitive.
func Normalize(code string) (string, error) {
	pin := strings.ToUpper(strip(code))
	if n := len([]rune(pin)); n != Levels {
		return "", &InvalidCodeError{Code: code, Length: n}
	}
	for _, r := range pin {
		if r > 0x7f {
			return "", &InvalidCodeError{Code: code, Char: r, Length: Levels}
		}
		if _, ok := symbols[byte(r)]; !ok {
			return "", &InvalidCodeError{Code: code, Char: r, Length: Levels}
		}
	}
	return pin, nil
}

// Valid reports whether code is a well-formed DIGIPIN.
func Valid(code string) bool {
	_, err := Normalize(code)
	return err == nil
}

// Format inserts display separators into a compact code. Input that is not
// exactly Levels symbols long is returned unchanged.
func Format(compact string) Code {
	if len(compact) != Levels {
		return Code(compact)
	}
	return Code(compact[:3] + string(Separator) + compact[3:6] + string(Separator) + compact[6:])
}

func strip(s string) string {
	return strings.Map(func(r rune) rune {
		if r == Separator || r == ' ' {
			return -1
		}
		return r
	}, s)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
