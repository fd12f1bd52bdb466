package sim

import (
	"encoding/json"
	"fmt"
	"os"

	"headway-simulator/internal/demand"
)

// StopDef is one stop on a route definition: its key and the distance in
// metres to the following stop (0 for the terminus).
type StopDef struct {
	StopID         string  `json:"stop_id"`
	DistanceToNext float64 `json:"distance_to_next"`
}

// Route is an immutable ordered sequence of stops for one direction,
// together with the monitored-stop set used by the adaptive dispatcher.
type Route struct {
	RouteID   string    `json:"route_id"`
	Direction string    `json:"direction"`
	Stops     []StopDef `json:"stops"`
	Monitored []string  `json:"monitored_stops"`

	index map[string]int
}

// Validate checks route integrity and that every monitored stop has demand
// data. Violations are setup errors and abort the run.
func (r *Route) Validate(rates *demand.ArrivalRateTable) error {
	if r.RouteID == "" {
		return fmt.Errorf("route has empty route_id")
	}
	if r.Direction == "" {
		return fmt.Errorf("route %s has empty direction", r.RouteID)
	}
	if len(r.Stops) == 0 {
		return fmt.Errorf("route %s %s has no stops", r.RouteID, r.Direction)
	}
	seen := make(map[string]bool, len(r.Stops))
	for i, s := range r.Stops {
		if s.StopID == "" {
			return fmt.Errorf("route %s %s: stop %d has empty stop_id", r.RouteID, r.Direction, i)
		}
		if seen[s.StopID] {
			return fmt.Errorf("route %s %s: duplicate stop %s", r.RouteID, r.Direction, s.StopID)
		}
		seen[s.StopID] = true
		if s.DistanceToNext < 0 {
			return fmt.Errorf("route %s %s: stop %s has negative distance_to_next", r.RouteID, r.Direction, s.StopID)
		}
	}
	for _, m := range r.Monitored {
		if !seen[m] {
			return fmt.Errorf("route %s %s: monitored stop %s is not on the route", r.RouteID, r.Direction, m)
		}
		if rates != nil && !rates.HasStop(r.Direction, m) {
			return fmt.Errorf("route %s %s: monitored stop %s has no arrival-rate data", r.RouteID, r.Direction, m)
		}
	}
	return nil
}

// Index returns the position of a stop on the route.
func (r *Route) Index(stopID string) (int, bool) {
	if r.index == nil {
		r.index = make(map[string]int, len(r.Stops))
		for i, s := range r.Stops {
			r.index[s.StopID] = i
		}
	}
	i, ok := r.index[stopID]
	return i, ok
}

// StopID returns the key of the stop at position i.
func (r *Route) StopID(i int) string { return r.Stops[i].StopID }

// Len returns the number of stops.
func (r *Route) Len() int { return len(r.Stops) }

// DistanceToNext returns the metres from stop i to stop i+1, 0 at the
// terminus.
func (r *Route) DistanceToNext(i int) float64 {
	if i < 0 || i >= len(r.Stops)-1 {
		return 0
	}
	return r.Stops[i].DistanceToNext
}

// DistanceRemaining returns the metres from stop i to the terminus.
func (r *Route) DistanceRemaining(i int) float64 {
	total := 0.0
	for j := i; j < len(r.Stops)-1; j++ {
		total += r.Stops[j].DistanceToNext
	}
	return total
}

// IsTerminus reports whether position i is the last stop.
func (r *Route) IsTerminus(i int) bool { return i == len(r.Stops)-1 }

type routeFile struct {
	Routes []*Route `json:"routes"`
}

// LoadRoutesFile reads route definitions from a JSON file.
func LoadRoutesFile(path string) ([]*Route, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes %s: %w", path, err)
	}
	var parsed routeFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode routes %s: %w", path, err)
	}
	if len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("routes %s: no routes defined", path)
	}
	return parsed.Routes, nil
}
