package sim

// StopVisitRecord is the persisted output contract: one record per
// (bus, stop) visit, emitted at departure. Field names follow the ETL
// consumer's schema. Times are seconds of virtual time, distances metres.
type StopVisitRecord struct {
	OperatingDate string  `json:"opd_date"`
	Weekday       int     `json:"weekday"` // ISO 1-7
	Daypart       string  `json:"daypart"`
	RouteID       string  `json:"line_abbr"`
	Direction     string  `json:"direction"`
	TripID        string  `json:"trip_id_int"`
	BusID         string  `json:"bus_id"`
	StopID        string  `json:"stop_id"`
	StopSequence  int     `json:"stop_sequence"`
	SchedArrTime  float64 `json:"sched_arr_time"`
	ActArrTime    float64 `json:"act_arr_time"`
	SchedDepTime  float64 `json:"sched_dep_time"`
	ActDepTime    float64 `json:"act_dep_time"`
	DwellTime     float64 `json:"dwell_time"`
	HoldTime      float64 `json:"hold_time"`
	Boarding      int     `json:"boarding"`
	Alighting     int     `json:"alighting"`
	Load          int     `json:"load"`
	Wheelchairs   int     `json:"wheelchair_count"`
	DistanceToNext float64 `json:"distance_to_next"`
	DistanceToTrip float64 `json:"distance_to_trip"`
}

// RecordWriter persists stop-visit records. Write errors are surfaced to
// the host runner, never to the kernel.
type RecordWriter interface {
	Write(StopVisitRecord) error
}

// MemoryRecords buffers records in order; used in tests.
type MemoryRecords struct {
	Records []StopVisitRecord
}

func (m *MemoryRecords) Write(r StopVisitRecord) error {
	m.Records = append(m.Records, r)
	return nil
}
