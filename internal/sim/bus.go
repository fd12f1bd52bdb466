package sim

import (
	"github.com/rs/zerolog/log"

	"headway-simulator/internal/traffic"
)

// BusState is the vehicle lifecycle state.
type BusState int

const (
	Idle BusState = iota
	EnRoute
	Dwelling
	Finished
)

func (s BusState) String() string {
	switch s {
	case Idle:
		return "idle"
	case EnRoute:
		return "en_route"
	case Dwelling:
		return "dwelling"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Bus is one trip's vehicle: a state machine driven by traffic-interface
// arrival callbacks and dwell computations from stops. The assigned
// headway is frozen at dispatch for the whole trip.
type Bus struct {
	ID     string
	TripID string
	Seq    int

	ln    *line
	route *Route
	state BusState
	next  int // index of the next stop to arrive at

	passengers  []*Passenger
	load        int
	wheelchairs int

	capacity      int
	maxWheelchair int

	hAssigned    float64
	dispatchTime float64
	schedArrival []float64
	curArrival   float64

	boardedTotal  int
	alightedTotal int
}

// State returns the current lifecycle state.
func (b *Bus) State() BusState { return b.state }

// Load returns the occupied capacity units.
func (b *Bus) Load() int { return b.load }

// WheelchairCount returns the onboard wheelchair users.
func (b *Bus) WheelchairCount() int { return b.wheelchairs }

// AssignedHeadway returns the headway frozen at dispatch; 0 disables
// holding for this trip.
func (b *Bus) AssignedHeadway() float64 { return b.hAssigned }

// Onboard returns the onboard passenger count (heads, not capacity units).
func (b *Bus) Onboard() int { return len(b.passengers) }

// BoardedTotal returns the cumulative boardings over the trip.
func (b *Bus) BoardedTotal() int { return b.boardedTotal }

// AlightedTotal returns the cumulative alightings over the trip.
func (b *Bus) AlightedTotal() int { return b.alightedTotal }

// dispatch initialises the trip and asks the traffic engine to create the
// vehicle at the first stop with the given target departure.
func (b *Bus) dispatch(now float64) {
	w := b.ln.w
	b.state = EnRoute
	b.dispatchTime = now
	b.schedArrival = b.nominalSchedule(now)

	legs := make([]traffic.Leg, b.route.Len())
	for i := range legs {
		legs[i].StopID = b.route.StopID(i)
		if i > 0 {
			legs[i].DistanceFromPrev = b.route.DistanceToNext(i - 1)
		}
	}
	if err := w.traffic.CreateVehicle(b.ID, legs, now); err != nil {
		log.Error().Err(err).Str("bus_id", b.ID).Msg("traffic refused vehicle, dropping bus")
		w.vehicleCreateFailed(b)
		return
	}
	w.busDispatched(b)
	if w.cfg.MeanTimeBetweenFailures > 0 {
		delay := w.kernel.Rand().ExpFloat64() * w.cfg.MeanTimeBetweenFailures
		w.kernel.Schedule(delay, b.fail)
	}
}

// nominalSchedule projects arrival times from the dispatch using the ramp
// travel profile and the fixed door time at every stop before the next one,
// the origin included.
func (b *Bus) nominalSchedule(depart float64) []float64 {
	sched := make([]float64, b.route.Len())
	t := depart
	for i := range sched {
		if i > 0 {
			t += b.ln.w.cfg.FixedDwellTime
			t += b.ln.w.traffic.TravelTime(b.route.DistanceToNext(i-1), t)
		}
		sched[i] = t
	}
	return sched
}

// onArrive handles a traffic arrival callback.
func (b *Bus) onArrive(stopID string, now float64) {
	w := b.ln.w
	if b.state == Finished {
		return
	}
	idx, ok := b.route.Index(stopID)
	if !ok || idx != b.next {
		log.Error().Str("bus_id", b.ID).Str("stop_id", stopID).Int("expected", b.next).
			Msg("out-of-order arrival from traffic interface, dropping bus")
		w.trafficFault(b)
		return
	}
	b.state = Dwelling
	b.curArrival = now
	stop := b.ln.stops[idx]
	terminal := b.route.IsTerminus(idx)

	w.busArrived(b, stop)

	// Alighting and boarding are served in parallel; dwell is the door
	// time plus the longer of the two.
	outA := stop.alight(b, terminal)
	var outB boardOutcome
	if !terminal {
		outB = stop.board(b)
	}
	b.boardedTotal += outB.boarded
	b.alightedTotal += outA.alighted

	dwell := w.cfg.FixedDwellTime + maxFloat(outA.serviceTime, outB.serviceTime)

	hold := 0.0
	if idx > 0 && !terminal {
		hold = b.ln.dispatcher.RequestHold(b, now)
		if hold > 0 {
			w.holdApplied(b, stop, hold)
		}
	}

	departAt := now + dwell + hold
	w.kernel.ScheduleAt(departAt, func() {
		b.depart(idx, stop, dwell, hold, outA, outB)
	})
}

// depart closes the stop visit: records the departure, emits the event and
// the persisted record, then either drives on or finishes at the terminus.
func (b *Bus) depart(idx int, stop *Stop, dwell, hold float64, outA alightOutcome, outB boardOutcome) {
	w := b.ln.w
	if b.state != Dwelling {
		return
	}
	now := w.kernel.Now()
	b.ln.registry.RecordDeparture(b.ID, idx, now)
	w.busDeparted(b, stop, dwell, hold, outA, outB)

	if b.route.IsTerminus(idx) {
		b.finish(false)
		return
	}
	b.next = idx + 1
	b.state = EnRoute
	if err := w.traffic.VehicleDeparted(b.ID, stop.ID, now); err != nil {
		log.Error().Err(err).Str("bus_id", b.ID).Str("stop_id", stop.ID).
			Msg("traffic fault on departure, dropping bus")
		w.trafficFault(b)
	}
}

// fail fires the stochastic vehicle-failure process.
func (b *Bus) fail() {
	w := b.ln.w
	if b.state == Finished {
		return
	}
	log.Warn().Str("bus_id", b.ID).Str("state", b.state.String()).Msg("bus failed in service")
	w.busFailed(b)
	b.finish(true)
}

func (b *Bus) finish(faulted bool) {
	w := b.ln.w
	if b.state == Finished {
		return
	}
	b.state = Finished
	w.traffic.DestroyVehicle(b.ID)
	w.busFinished(b, faulted)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
