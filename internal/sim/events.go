package sim

// EventType names one kind of domain event.
type EventType string

const (
	EventBusDispatch       EventType = "bus_dispatch"
	EventBusArrival        EventType = "bus_arrival"
	EventBusDeparture      EventType = "bus_departure"
	EventPassengerArrival  EventType = "passenger_arrival"
	EventPassengerBoarded  EventType = "passenger_boarded"
	EventPassengerAlighted EventType = "passenger_alighted"
	EventPassengerDenied   EventType = "passenger_denied"
	EventHeadwayAdjust     EventType = "headway_adjust"
	EventBusFailure        EventType = "bus_failure"
)

// Event is the typed union pushed to sinks. Fields not meaningful for a
// given type are zero and omitted from the wire encoding.
type Event struct {
	Type      EventType `json:"event_type"`
	Time      float64   `json:"time"`
	RouteID   string    `json:"route_id,omitempty"`
	Direction string    `json:"direction,omitempty"`
	BusID     string    `json:"bus_id,omitempty"`
	TripID    string    `json:"trip_id,omitempty"`
	StopID    string    `json:"stop_id,omitempty"`

	PassengerID int64  `json:"passenger_id,omitempty"`
	Destination string `json:"destination,omitempty"`
	Mobility    string `json:"mobility,omitempty"`

	Load            int `json:"load,omitempty"`
	WheelchairCount int `json:"wheelchair_count,omitempty"`
	Boarded         int `json:"boarded,omitempty"`
	Alighted        int `json:"alighted,omitempty"`

	Headway  float64 `json:"headway,omitempty"`
	HoldTime float64 `json:"hold_time,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Sink receives every emitted event. Implementations must not block the
// kernel; failures are a sink concern and never propagate back.
type Sink interface {
	Emit(Event)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MemorySink buffers events in emission order. Used by tests and for
// post-run analysis of short runs.
type MemorySink struct {
	Events []Event
}

func (m *MemorySink) Emit(ev Event) { m.Events = append(m.Events, ev) }

// Count returns how many buffered events have the given type.
func (m *MemorySink) Count(t EventType) int {
	n := 0
	for _, ev := range m.Events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// OfType returns the buffered events of one type, in emission order.
func (m *MemorySink) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range m.Events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
