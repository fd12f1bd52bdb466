package sim

import (
	"github.com/rs/zerolog/log"
)

// minAvgDemandRate is the floor below which the adaptive formula falls
// back to the maximum headway instead of dividing by near-zero demand.
const minAvgDemandRate = 1e-3

// Dispatcher decides when to inject buses onto a line and how long an
// early bus is held at a stop.
type Dispatcher interface {
	// Start schedules the dispatch process on the kernel.
	Start()
	// NextDepartureTime returns the next planned dispatch, if any.
	NextDepartureTime() (float64, bool)
	// RequestHold returns the holding time for a bus arriving now; 0
	// when no holding applies.
	RequestHold(b *Bus, now float64) float64
}

// DispatchParams configures the dispatcher variants.
type DispatchParams struct {
	Type string // "timetable", "interval" or "adaptive_headway"

	// Adaptive headway.
	BetaTarget       float64
	HMin             float64
	HMax             float64
	MaxHold          float64
	HeadwayTolerance float64

	// Fixed interval.
	DefaultInterval float64
	PeakInterval    float64
	OffPeakInterval float64
	PeakDayparts    []string

	// Timetable: departure seconds per direction.
	Timetable map[string][]float64
}

// DefaultDispatchParams carry the operator defaults for the adaptive
// policy: β*=1.0, C from the vehicle, headway bounded to [600, 1800],
// holds capped at 30 s and suppressed under 10% of the headway.
func DefaultDispatchParams() DispatchParams {
	return DispatchParams{
		Type:             "adaptive_headway",
		BetaTarget:       1.0,
		HMin:             600,
		HMax:             1800,
		MaxHold:          30,
		HeadwayTolerance: 0.10,
		DefaultInterval:  1800,
	}
}

// holdController implements the in-trip holding rule shared by the
// dispatcher variants. It never advances a late bus; it only decelerates
// early ones.
type holdController struct {
	ln        *line
	maxHold   float64
	tolerance float64
}

func (h *holdController) RequestHold(b *Bus, now float64) float64 {
	if b.hAssigned <= 0 {
		return 0
	}
	w := h.ln.w
	prevID, ok := h.ln.registry.Preceding(b.ID)
	if !ok {
		return 0
	}
	tPrevDep, ok := h.ln.registry.DepartureAt(prevID, b.next)
	if !ok {
		// The preceding bus has not reached this stop yet; spacing is
		// already larger than planned.
		w.holdSkippedNoPredecessor(b)
		return 0
	}
	delta := now - tPrevDep
	if delta >= b.hAssigned {
		return 0
	}
	hold := b.hAssigned - delta
	if hold > h.maxHold {
		hold = h.maxHold
	}
	if hold < h.tolerance*b.hAssigned {
		return 0
	}
	return hold
}

// AdaptiveDispatcher injects buses with a demand-derived headway frozen at
// dispatch:
//
//	h* = clamp((β*·C) / (λ̂/|M|), h_min, h_max)
//
// where λ̂ sums the predicted arrival rates over the monitored stops.
type AdaptiveDispatcher struct {
	holdController
	beta     float64
	capacity int
	hMin     float64
	hMax     float64

	nextAt    float64
	scheduled bool
}

func newAdaptiveDispatcher(ln *line, p DispatchParams, capacity int) *AdaptiveDispatcher {
	return &AdaptiveDispatcher{
		holdController: holdController{ln: ln, maxHold: p.MaxHold, tolerance: p.HeadwayTolerance},
		beta:           p.BetaTarget,
		capacity:       capacity,
		hMin:           p.HMin,
		hMax:           p.HMax,
	}
}

func (d *AdaptiveDispatcher) Start() {
	w := d.ln.w
	d.nextAt = w.cfg.StartTime
	d.scheduled = true
	w.kernel.ScheduleAt(w.cfg.StartTime, d.tick)
}

func (d *AdaptiveDispatcher) NextDepartureTime() (float64, bool) {
	return d.nextAt, d.scheduled
}

func (d *AdaptiveDispatcher) tick() {
	w := d.ln.w
	now := w.kernel.Now()
	if now >= w.cfg.EndTime {
		d.scheduled = false
		return
	}
	h := d.targetHeadway(now)
	d.ln.launch(h, now)
	d.nextAt = now + h
	w.kernel.Schedule(h, d.tick)
}

// targetHeadway closes the demand loop at dispatch time. Zero demand on
// all monitored stops yields the maximum headway.
func (d *AdaptiveDispatcher) targetHeadway(now float64) float64 {
	w := d.ln.w
	route := d.ln.route
	if len(route.Monitored) == 0 {
		return d.hMax
	}
	// Running mean of the monitored rates: equal to λ̂/|M|, and exact when
	// every monitored stop has the same rate.
	avg := 0.0
	for i, stop := range route.Monitored {
		avg += (w.predictor.Rate(route.Direction, stop, now) - avg) / float64(i+1)
	}
	var h float64
	if avg < minAvgDemandRate {
		h = d.hMax
		w.zeroDemandHeadway(route)
	} else {
		h = clamp(d.beta*float64(d.capacity)/avg, d.hMin, d.hMax)
	}
	log.Debug().Str("route", route.RouteID).Str("direction", route.Direction).
		Float64("avg_rate", avg).Float64("headway", h).Msg("computed target headway")
	return h
}

// IntervalDispatcher injects buses at a piecewise-constant interval by
// daypart; the configured interval doubles as the assigned headway so the
// holding controller still applies.
type IntervalDispatcher struct {
	holdController
	defaultInterval float64
	peakInterval    float64
	offPeakInterval float64
	peak            map[string]bool

	nextAt    float64
	scheduled bool
}

func newIntervalDispatcher(ln *line, p DispatchParams) *IntervalDispatcher {
	peak := make(map[string]bool, len(p.PeakDayparts))
	for _, d := range p.PeakDayparts {
		peak[d] = true
	}
	return &IntervalDispatcher{
		holdController:  holdController{ln: ln, maxHold: p.MaxHold, tolerance: p.HeadwayTolerance},
		defaultInterval: p.DefaultInterval,
		peakInterval:    p.PeakInterval,
		offPeakInterval: p.OffPeakInterval,
		peak:            peak,
	}
}

func (d *IntervalDispatcher) Start() {
	w := d.ln.w
	d.nextAt = w.cfg.StartTime
	d.scheduled = true
	w.kernel.ScheduleAt(w.cfg.StartTime, d.tick)
}

func (d *IntervalDispatcher) NextDepartureTime() (float64, bool) {
	return d.nextAt, d.scheduled
}

func (d *IntervalDispatcher) tick() {
	w := d.ln.w
	now := w.kernel.Now()
	if now >= w.cfg.EndTime {
		d.scheduled = false
		return
	}
	h := d.intervalAt(now)
	d.ln.launch(h, now)
	d.nextAt = now + h
	w.kernel.Schedule(h, d.tick)
}

func (d *IntervalDispatcher) intervalAt(t float64) float64 {
	part := d.ln.w.predictor.Daypart(t)
	if d.peak[part] {
		if d.peakInterval > 0 {
			return d.peakInterval
		}
	} else if d.offPeakInterval > 0 {
		return d.offPeakInterval
	}
	return d.defaultInterval
}

// TimetableDispatcher replays a pre-supplied list of departure times. Each
// trip's assigned headway is the gap to the following departure; the last
// trip gets none, which disables holding for it.
type TimetableDispatcher struct {
	holdController
	departures []float64

	next int
}

func newTimetableDispatcher(ln *line, p DispatchParams) *TimetableDispatcher {
	return &TimetableDispatcher{
		holdController: holdController{ln: ln, maxHold: p.MaxHold, tolerance: p.HeadwayTolerance},
		departures:     p.Timetable[ln.route.Direction],
	}
}

func (d *TimetableDispatcher) Start() {
	w := d.ln.w
	for i, t := range d.departures {
		i, t := i, t
		if t < w.cfg.StartTime || t >= w.cfg.EndTime {
			continue
		}
		w.kernel.ScheduleAt(t, func() {
			h := 0.0
			if i+1 < len(d.departures) {
				h = d.departures[i+1] - t
			}
			d.next = i + 1
			d.ln.launch(h, w.kernel.Now())
		})
	}
}

func (d *TimetableDispatcher) NextDepartureTime() (float64, bool) {
	if d.next < len(d.departures) {
		return d.departures[d.next], true
	}
	return 0, false
}

func newDispatcher(ln *line, p DispatchParams, capacity int) Dispatcher {
	switch p.Type {
	case "interval":
		return newIntervalDispatcher(ln, p)
	case "timetable":
		return newTimetableDispatcher(ln, p)
	default:
		return newAdaptiveDispatcher(ln, p, capacity)
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
