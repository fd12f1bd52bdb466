package sim

import (
	"math"

	"github.com/rs/zerolog/log"

	"headway-simulator/internal/demand"
)

const (
	// rateEpsilon is the demand floor under which the generator backs
	// off instead of drawing an astronomically long inter-arrival gap.
	rateEpsilon = 1e-6
	// lowDemandBackoff is how long a generator sleeps when the current
	// daypart has no demand.
	lowDemandBackoff = 60.0
	secondsPerDay    = 86400.0
)

// generator produces Poisson passenger arrivals for one stop of one line.
// It is a self-rescheduling kernel callback: every fire creates at most
// one passenger and schedules its own next fire.
type generator struct {
	ln   *line
	stop *Stop
}

func (g *generator) start() {
	w := g.ln.w
	w.kernel.ScheduleAt(w.cfg.StartTime, g.fire)
}

func (g *generator) fire() {
	w := g.ln.w
	now := w.kernel.Now()
	if now >= w.cfg.EndTime {
		return
	}
	sec := math.Mod(now, secondsPerDay)
	if sec < w.cfg.ServiceOpenSecond {
		// No arrivals before the service window opens.
		w.kernel.Schedule(w.cfg.ServiceOpenSecond-sec, g.fire)
		return
	}
	lambda := w.predictor.Rate(g.ln.route.Direction, g.stop.ID, now)
	if lambda <= rateEpsilon {
		w.kernel.Schedule(lowDemandBackoff, g.fire)
		return
	}
	g.generate(now)
	delta := w.kernel.Rand().ExpFloat64() / lambda
	w.kernel.Schedule(delta, g.fire)
}

func (g *generator) generate(now float64) {
	w := g.ln.w
	dest, ok := g.drawDestination(now)
	if !ok {
		return
	}
	mob := Regular
	if w.kernel.Rand().Float64() < w.cfg.Passenger.WheelchairProbability {
		mob = Wheelchair
	}
	p := newPassenger(w.nextPassengerID(), g.stop.ID, dest, now, mob, w.cfg.Passenger)
	g.stop.Enqueue(p)
	w.passengerArrived(g.ln, g.stop, p)
}

// drawDestination samples a downstream stop from the weight vector for
// the current daypart, zeroing positions at or before the origin and
// renormalising. A zero-mass vector (terminal origin) generates nobody.
func (g *generator) drawDestination(now float64) (string, bool) {
	w := g.ln.w
	route := g.ln.route
	if route.IsTerminus(g.stop.Index) {
		return "", false
	}
	weights := w.weights.Weights(demand.WeightKey{
		Direction: route.Direction,
		Month:     w.predictor.Month(),
		Weekday:   w.predictor.Weekday(),
		Daypart:   w.predictor.Daypart(now),
	})
	if weights != nil && len(weights) != route.Len() {
		log.Warn().Str("route", route.RouteID).Str("direction", route.Direction).
			Int("weights", len(weights)).Int("stops", route.Len()).
			Msg("weight vector length mismatch, sampling uniformly")
		weights = nil
	}
	first := g.stop.Index + 1
	total := 0.0
	for i := first; i < route.Len(); i++ {
		total += weightAt(weights, i)
	}
	if total <= 0 {
		// No downstream mass: nobody travels from here right now.
		return "", false
	}
	r := w.kernel.Rand().Float64() * total
	for i := first; i < route.Len(); i++ {
		r -= weightAt(weights, i)
		if r < 0 {
			return route.StopID(i), true
		}
	}
	return route.StopID(route.Len() - 1), true
}

// weightAt reads the masked vector; a nil vector means uniform.
func weightAt(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}
