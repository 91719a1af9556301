package routing

import (
	"encoding/json"
	"fmt"

	"digipin/internal/opt"
)

// TimeWindow is an inclusive range of minutes. On the wire it is [start, end].
type TimeWindow struct {
	Start int
	End   int
}

func (w TimeWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{w.Start, w.End})
}

func (w *TimeWindow) UnmarshalJSON(b []byte) error {
	var pair []int
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("time_window: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("time_window: want [start, end], got %d values", len(pair))
	}
	w.Start, w.End = pair[0], pair[1]
	return nil
}

// RouteLocation is a stop to visit.
type RouteLocation struct {
	Code       string     `json:"digipin"`
	Priority   int        `json:"priority"`
	TimeWindow TimeWindow `json:"time_window"`
}

// UnmarshalJSON defaults an omitted time_window to the whole day, [0, 9999].
func (l *RouteLocation) UnmarshalJSON(b []byte) error {
	type plain RouteLocation
	v := plain{TimeWindow: TimeWindow{Start: 0, End: 9999}}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*l = RouteLocation(v)
	return nil
}

// RouteRequest asks for routes from Depot across VehicleCount vehicles.
type RouteRequest struct {
	Depot        string          `json:"depot"`
	VehicleCount int             `json:"vehicles"`
	Stops        []RouteLocation `json:"locations"`
	DepotWindow  *TimeWindow     `json:"depot_window,omitempty"`
}

// VehicleRoute is one vehicle's visit order. Stops and Arrivals are parallel
// and both begin and end at the depot.
type VehicleRoute struct {
	VehicleID       int      `json:"vehicle_id"`
	Stops           []string `json:"stops"`
	Arrivals        []int64  `json:"arrivals"`
	DistanceMeters  int64    `json:"distance_meters"`
	DurationMinutes int64    `json:"duration_minutes"`
}

// RouteAssignment is the optimizer result.
type RouteAssignment struct {
	Routes  []VehicleRoute `json:"routes"`
	Dropped []string       `json:"dropped"`
	Cost    int64          `json:"cost"`
	Stats   opt.Stats      `json:"stats"`
}
