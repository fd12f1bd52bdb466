package demand

import (
	"time"
)

// Predictor resolves a passenger arrival rate λ (passengers/second) for a
// (stop, time) pair against the tabulated historical data. It is a pure
// lookup: the simulation date fixes month and weekday, virtual time selects
// the daypart.
type Predictor struct {
	table     *ArrivalRateTable
	partition *Partition
	month     int
	weekday   int
	overrides map[string]float64 // date (2006-01-02) -> multiplier
	dateKey   string
}

// NewPredictor builds a predictor for one simulated operating date.
func NewPredictor(table *ArrivalRateTable, partition *Partition, date time.Time) *Predictor {
	return &Predictor{
		table:     table,
		partition: partition,
		month:     int(date.Month()),
		weekday:   isoWeekday(date),
		overrides: make(map[string]float64),
		dateKey:   date.Format("2006-01-02"),
	}
}

// SetSpecialEvent attaches a multiplicative demand override for a date.
// Overrides apply after the table lookup; a date with no override has
// multiplier 1.
func (p *Predictor) SetSpecialEvent(date string, multiplier float64) {
	p.overrides[date] = multiplier
}

// Rate returns λ for the stop in the given direction at virtual time t
// (seconds, arbitrary epoch; taken modulo one day for the daypart).
// Missing cells return 0.
func (p *Predictor) Rate(direction, stop string, t float64) float64 {
	part := p.partition.At(t)
	rate := p.table.Rate(RateKey{
		Direction: direction,
		Stop:      stop,
		Month:     p.month,
		Weekday:   p.weekday,
		Daypart:   part,
	})
	if m, ok := p.overrides[p.dateKey]; ok {
		rate *= m
	}
	return rate
}

// Month returns the resolved month (1-12).
func (p *Predictor) Month() int { return p.month }

// Weekday returns the resolved ISO weekday (Monday=1 .. Sunday=7).
func (p *Predictor) Weekday() int { return p.weekday }

// Daypart maps a virtual time to its daypart name.
func (p *Predictor) Daypart(t float64) string { return p.partition.At(t) }

func isoWeekday(date time.Time) int {
	wd := int(date.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
