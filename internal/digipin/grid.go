// Package digipin converts between coordinates and 10-symbol DIGIPIN location codes.
package digipin

// Service-area bounding box. Codes are only defined inside it.
const (
	MinLat = 2.5
	MaxLat = 38.5
	MinLon = 63.5
	MaxLon = 99.5
)

// Levels is the number of data symbols in a code.
const Levels = 10

// Separator is inserted after the 3rd and 6th symbol for display.
const Separator = '-'

var grid = [4][4]byte{
	{'F', 'C', '9', '8'},
	{'J', '3', '2', '7'},
	{'K', '4', '5', '6'},
	{'L', 'M', 'P', 'T'},
}

type cell struct{ row, col int }

// symbols maps a grid symbol to its row/column. Read-only after init.
var symbols = func() map[byte]cell {
	m := make(map[byte]cell, 16)
	for r := range grid {
		for c := range grid[r] {
			m[grid[r][c]] = cell{row: r, col: c}
		}
	}
	return m
}()

// Alphabet returns the 16 code symbols in grid order.
func Alphabet() string {
	b := make([]byte, 0, 16)
	for r := range grid {
		b = append(b, grid[r][:]...)
	}
	return string(b)
}

// Box is a latitude/longitude rectangle.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// ServiceArea returns the full bounding box codes are defined over.
func ServiceArea() Box {
	return Box{MinLat: MinLat, MaxLat: MaxLat, MinLon: MinLon, MaxLon: MaxLon}
}

// Contains reports whether p lies inside b, edges included.
func (b Box) Contains(p GeoPoint) bool {
	return p.Latitude >= b.MinLat && p.Latitude <= b.MaxLat &&
		p.Longitude >= b.MinLon && p.Longitude <= b.MaxLon
}

// Center returns the centroid of b.
func (b Box) Center() GeoPoint {
	return GeoPoint{Latitude: (b.MinLat + b.MaxLat) / 2, Longitude: (b.MinLon + b.MaxLon) / 2}
}
