package demand

import (
	"fmt"
	"math"
	"sort"
)

const secondsPerDay = 86400

// Daypart is a named contiguous segment of the 24-hour day, [Start, End)
// in seconds from midnight.
type Daypart struct {
	Name  string  `json:"name"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Partition is a closed, ordered partition of the day into dayparts. The
// partition is data-driven but must cover the whole day with no overlap.
type Partition struct {
	parts []Daypart
}

// DefaultPartition mirrors the six operating periods of the source data:
// night, morning peak, midday, afternoon peak, evening, late night.
func DefaultPartition() *Partition {
	p, err := NewPartition([]Daypart{
		{Name: "0", Start: 0, End: 21600},
		{Name: "1", Start: 21600, End: 32400},
		{Name: "2", Start: 32400, End: 54000},
		{Name: "3", Start: 54000, End: 68400},
		{Name: "4", Start: 68400, End: 79200},
		{Name: "5", Start: 79200, End: 86400},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// NewPartition validates and builds a partition. The parts must tile
// [0, 86400) exactly.
func NewPartition(parts []Daypart) (*Partition, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("daypart partition is empty")
	}
	sorted := make([]Daypart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	cursor := 0.0
	for _, d := range sorted {
		if d.Name == "" {
			return nil, fmt.Errorf("daypart starting at %.0fs has no name", d.Start)
		}
		if d.Start != cursor {
			return nil, fmt.Errorf("daypart %q starts at %.0fs, expected %.0fs (gap or overlap)", d.Name, d.Start, cursor)
		}
		if d.End <= d.Start {
			return nil, fmt.Errorf("daypart %q has non-positive span", d.Name)
		}
		cursor = d.End
	}
	if cursor != secondsPerDay {
		return nil, fmt.Errorf("daypart partition ends at %.0fs, expected %d", cursor, secondsPerDay)
	}
	return &Partition{parts: sorted}, nil
}

// At maps a virtual time (seconds, any epoch) to its daypart name, taking
// the time modulo one day.
func (p *Partition) At(t float64) string {
	s := math.Mod(t, secondsPerDay)
	if s < 0 {
		s += secondsPerDay
	}
	for _, d := range p.parts {
		if s >= d.Start && s < d.End {
			return d.Name
		}
	}
	// Unreachable for a validated partition.
	return p.parts[len(p.parts)-1].Name
}

// Parts returns the ordered dayparts.
func (p *Partition) Parts() []Daypart { return p.parts }
