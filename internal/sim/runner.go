package sim

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"headway-simulator/internal/demand"
	"headway-simulator/internal/metrics"
	"headway-simulator/internal/simkernel"
	"headway-simulator/internal/traffic"
)

// Params are the world-level knobs of one simulated day.
type Params struct {
	StartTime float64
	EndTime   float64
	Seed      int64

	OperatingDate     time.Time
	ServiceOpenSecond float64

	FixedDwellTime          float64
	Capacity                int
	MaxWheelchair           int
	MeanTimeBetweenFailures float64

	Passenger PassengerParams
	Dispatch  DispatchParams

	EnableKPI         bool
	KPIExportInterval float64
}

// DefaultParams mirror the operator defaults: a full-day window, 75
// capacity units, one wheelchair bay, 3 s of door time, failures off.
func DefaultParams() Params {
	return Params{
		StartTime:         0,
		EndTime:           86400,
		Seed:              1,
		OperatingDate:     time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		ServiceOpenSecond: 21000,
		FixedDwellTime:    3.0,
		Capacity:          75,
		MaxWheelchair:     1,
		Passenger:         DefaultPassengerParams(),
		Dispatch:          DefaultDispatchParams(),
		KPIExportInterval: 3600,
	}
}

// Options assemble a World. Traffic, Sink, Records and Metrics are
// optional; a nil Traffic gets the simulated timer engine.
type Options struct {
	Params    Params
	Routes    []*Route
	Rates     *demand.ArrivalRateTable
	Weights   *demand.WeightsTable
	Partition *demand.Partition
	Dynamics  traffic.Dynamics

	Traffic traffic.Interface
	Sink    Sink
	Records RecordWriter
	Metrics *metrics.Collector

	// SpecialEvents maps dates (2006-01-02) to demand multipliers.
	SpecialEvents map[string]float64
}

// Totals are the running conservation counters of one world.
type Totals struct {
	Dispatched    int
	Finished      int
	Failures      int
	TrafficFaults int

	Generated int
	Boarded   int
	Alighted  int
	Denied    int
	LeftQueue int
	Holds     int
}

// Summary is the end-of-run report.
type Summary struct {
	Totals
	StillOnboard int
	StillWaiting int
	EventsFired  uint64
}

// line is one route direction: its stops, generators, registry and
// dispatcher.
type line struct {
	w          *World
	route      *Route
	stops      []*Stop
	generators []*generator
	registry   *DispatchRegistry
	dispatcher Dispatcher
	busSeq     int
}

// launch creates and dispatches a bus with the given frozen headway.
func (ln *line) launch(hAssigned, now float64) *Bus {
	ln.busSeq++
	id := fmt.Sprintf("bus_%s_%s_%d", ln.route.RouteID, ln.route.Direction, ln.busSeq)
	b := &Bus{
		ID:            id,
		TripID:        fmt.Sprintf("%s_%s_trip_%d", ln.route.RouteID, ln.route.Direction, ln.busSeq),
		ln:            ln,
		route:         ln.route,
		state:         Idle,
		capacity:      ln.w.cfg.Capacity,
		maxWheelchair: ln.w.cfg.MaxWheelchair,
		hAssigned:     hAssigned,
	}
	b.Seq = ln.registry.Register(id, now)
	ln.w.busByID[id] = b
	ln.w.buses = append(ln.w.buses, b)
	b.dispatch(now)
	return b
}

// World owns one virtual day: the kernel, the lines, the demand model and
// the output boundaries. Everything runs as kernel callbacks; the world is
// single-threaded by construction.
type World struct {
	kernel    *simkernel.Kernel
	cfg       Params
	predictor *demand.Predictor
	weights   *demand.WeightsTable
	traffic   traffic.Interface
	sink      Sink
	records   RecordWriter
	metrics   *metrics.Collector

	lines        []*line
	buses        []*Bus
	busByID      map[string]*Bus
	passengerSeq int64
	totals       Totals
	activeBuses  int
}

// NewWorld validates the inputs and wires a world. Validation failures are
// data-integrity errors per the error policy: the caller turns them into a
// fatal one-line diagnostic.
func NewWorld(opts Options) (*World, error) {
	cfg := opts.Params
	if cfg.EndTime <= cfg.StartTime {
		return nil, fmt.Errorf("end_time %v must be after start_time %v", cfg.EndTime, cfg.StartTime)
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("bus capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.MaxWheelchair < 0 {
		return nil, fmt.Errorf("max wheelchair count must be non-negative, got %d", cfg.MaxWheelchair)
	}
	if cfg.FixedDwellTime < 0 {
		return nil, fmt.Errorf("fixed dwell time must be non-negative, got %v", cfg.FixedDwellTime)
	}
	dp := cfg.Dispatch
	if dp.HMin > dp.HMax {
		return nil, fmt.Errorf("h_min %v exceeds h_max %v", dp.HMin, dp.HMax)
	}
	if dp.MaxHold < 0 {
		return nil, fmt.Errorf("max_hold must be non-negative, got %v", dp.MaxHold)
	}
	if dp.HeadwayTolerance < 0 || dp.HeadwayTolerance >= 1 {
		return nil, fmt.Errorf("headway_tolerance must be in [0, 1), got %v", dp.HeadwayTolerance)
	}
	if len(opts.Routes) == 0 {
		return nil, fmt.Errorf("no routes configured")
	}

	partition := opts.Partition
	if partition == nil {
		partition = demand.DefaultPartition()
	}
	rates := opts.Rates
	if rates == nil {
		rates = demand.NewArrivalRateTable()
	}
	weights := opts.Weights
	if weights == nil {
		weights = demand.NewWeightsTable()
	}

	for _, r := range opts.Routes {
		if err := r.Validate(rates); err != nil {
			return nil, err
		}
		if dp.Type == "adaptive_headway" && len(r.Monitored) == 0 {
			return nil, fmt.Errorf("route %s %s: adaptive_headway requires monitored stops", r.RouteID, r.Direction)
		}
	}

	kernel := simkernel.New(cfg.Seed)
	eng := opts.Traffic
	if eng == nil {
		dyn := opts.Dynamics
		if dyn == (traffic.Dynamics{}) {
			dyn = traffic.DefaultDynamics()
		}
		if err := dyn.Validate(); err != nil {
			return nil, err
		}
		eng = traffic.NewSimulated(kernel, dyn)
	}
	sink := opts.Sink
	if sink == nil {
		sink = NopSink{}
	}

	pred := demand.NewPredictor(rates, partition, cfg.OperatingDate)
	for date, mult := range opts.SpecialEvents {
		pred.SetSpecialEvent(date, mult)
	}

	w := &World{
		kernel:    kernel,
		cfg:       cfg,
		predictor: pred,
		weights:   weights,
		traffic:   eng,
		sink:      sink,
		records:   opts.Records,
		metrics:   opts.Metrics,
		busByID:   make(map[string]*Bus),
	}
	eng.Subscribe(w.onVehicleArrival)

	for _, r := range opts.Routes {
		ln := &line{w: w, route: r, registry: NewDispatchRegistry()}
		for i := 0; i < r.Len(); i++ {
			ln.stops = append(ln.stops, newStop(r.StopID(i), i))
		}
		// The terminus never originates passengers; every other stop
		// gets its own generator.
		for i := 0; i < r.Len()-1; i++ {
			ln.generators = append(ln.generators, &generator{ln: ln, stop: ln.stops[i]})
		}
		ln.dispatcher = newDispatcher(ln, dp, cfg.Capacity)
		w.lines = append(w.lines, ln)
	}
	return w, nil
}

// Kernel exposes the clock, mainly for tests.
func (w *World) Kernel() *simkernel.Kernel { return w.kernel }

// Buses returns every bus created so far.
func (w *World) Buses() []*Bus { return w.buses }

// lineFor returns the line for a direction, or nil.
func (w *World) lineFor(direction string) *line {
	for _, ln := range w.lines {
		if ln.route.Direction == direction {
			return ln
		}
	}
	return nil
}

// Run plays the virtual day to its end and reports the summary.
func (w *World) Run() Summary {
	for _, ln := range w.lines {
		for _, g := range ln.generators {
			g.start()
		}
	}
	for _, ln := range w.lines {
		ln.dispatcher.Start()
	}
	if w.cfg.EnableKPI && w.cfg.KPIExportInterval > 0 {
		w.kernel.Schedule(w.cfg.KPIExportInterval, w.exportKPIs)
	}
	w.kernel.RunUntil(w.cfg.EndTime)
	return w.Summary()
}

// Summary snapshots the conservation counters.
func (w *World) Summary() Summary {
	s := Summary{Totals: w.totals, EventsFired: w.kernel.Fired()}
	for _, b := range w.buses {
		s.StillOnboard += len(b.passengers)
	}
	for _, ln := range w.lines {
		for _, st := range ln.stops {
			s.StillWaiting += st.QueueLen()
		}
	}
	return s
}

func (w *World) exportKPIs() {
	t := w.totals
	log.Info().
		Float64("sim_time", w.kernel.Now()).
		Int("dispatched", t.Dispatched).
		Int("generated", t.Generated).
		Int("boarded", t.Boarded).
		Int("alighted", t.Alighted).
		Int("denied", t.Denied).
		Int("holds", t.Holds).
		Int("active_buses", w.activeBuses).
		Msg("kpi snapshot")
	if w.kernel.Now()+w.cfg.KPIExportInterval <= w.cfg.EndTime {
		w.kernel.Schedule(w.cfg.KPIExportInterval, w.exportKPIs)
	}
}

func (w *World) nextPassengerID() int64 {
	w.passengerSeq++
	return w.passengerSeq
}

// onVehicleArrival routes traffic callbacks to the owning bus. Callbacks
// for unknown or finished vehicles are dropped.
func (w *World) onVehicleArrival(busID, stopID string, t float64) {
	b, ok := w.busByID[busID]
	if !ok {
		log.Warn().Str("bus_id", busID).Msg("arrival callback for unknown vehicle")
		return
	}
	b.onArrive(stopID, t)
}

func (w *World) emit(ev Event) { w.sink.Emit(ev) }

func (w *World) busDispatched(b *Bus) {
	w.totals.Dispatched++
	w.activeBuses++
	if m := w.metrics; m != nil {
		m.BusesDispatched.Inc()
		m.ActiveBuses.Set(float64(w.activeBuses))
		m.AssignedHeadway.Observe(b.hAssigned)
	}
	log.Info().Str("bus_id", b.ID).Str("route", b.route.RouteID).
		Str("direction", b.route.Direction).Float64("headway", b.hAssigned).
		Float64("time", w.kernel.Now()).Msg("bus dispatched")
	w.emit(Event{
		Type:      EventBusDispatch,
		Time:      w.kernel.Now(),
		RouteID:   b.route.RouteID,
		Direction: b.route.Direction,
		BusID:     b.ID,
		TripID:    b.TripID,
		Headway:   b.hAssigned,
	})
}

func (w *World) busArrived(b *Bus, stop *Stop) {
	w.emit(Event{
		Type:            EventBusArrival,
		Time:            w.kernel.Now(),
		RouteID:         b.route.RouteID,
		Direction:       b.route.Direction,
		BusID:           b.ID,
		TripID:          b.TripID,
		StopID:          stop.ID,
		Load:            b.load,
		WheelchairCount: b.wheelchairs,
	})
}

func (w *World) busDeparted(b *Bus, stop *Stop, dwell, hold float64, outA alightOutcome, outB boardOutcome) {
	now := w.kernel.Now()
	if m := w.metrics; m != nil {
		m.DwellTime.Observe(dwell + hold)
	}
	w.emit(Event{
		Type:            EventBusDeparture,
		Time:            now,
		RouteID:         b.route.RouteID,
		Direction:       b.route.Direction,
		BusID:           b.ID,
		TripID:          b.TripID,
		StopID:          stop.ID,
		Load:            b.load,
		WheelchairCount: b.wheelchairs,
		Boarded:         outB.boarded,
		Alighted:        outA.alighted,
	})
	if w.records == nil {
		return
	}
	idx := stop.Index
	rec := StopVisitRecord{
		OperatingDate:  w.cfg.OperatingDate.Format("2006-01-02"),
		Weekday:        w.predictor.Weekday(),
		Daypart:        w.predictor.Daypart(b.curArrival),
		RouteID:        b.route.RouteID,
		Direction:      b.route.Direction,
		TripID:         b.TripID,
		BusID:          b.ID,
		StopID:         stop.ID,
		StopSequence:   idx,
		SchedArrTime:   b.schedArrival[idx],
		ActArrTime:     b.curArrival,
		SchedDepTime:   b.schedArrival[idx] + w.cfg.FixedDwellTime,
		ActDepTime:     now,
		DwellTime:      dwell,
		HoldTime:       hold,
		Boarding:       outB.boarded,
		Alighting:      outA.alighted,
		Load:           b.load,
		Wheelchairs:    b.wheelchairs,
		DistanceToNext: b.route.DistanceToNext(idx),
		DistanceToTrip: b.route.DistanceRemaining(idx),
	}
	if err := w.records.Write(rec); err != nil {
		log.Error().Err(err).Str("bus_id", b.ID).Str("stop_id", stop.ID).Msg("record write failed")
		if w.metrics != nil {
			w.metrics.RecordWriteErrs.Inc()
		}
	}
}

func (w *World) passengerArrived(ln *line, stop *Stop, p *Passenger) {
	w.totals.Generated++
	if w.metrics != nil {
		w.metrics.PassengersGenerated.Inc()
	}
	w.emit(Event{
		Type:        EventPassengerArrival,
		Time:        w.kernel.Now(),
		RouteID:     ln.route.RouteID,
		Direction:   ln.route.Direction,
		StopID:      stop.ID,
		PassengerID: p.ID,
		Destination: p.Destination,
		Mobility:    p.Mobility.String(),
	})
}

func (w *World) passengerBoarded(b *Bus, stop *Stop, p *Passenger) {
	w.totals.Boarded++
	if w.metrics != nil {
		w.metrics.PassengersBoarded.Inc()
	}
	w.emit(Event{
		Type:        EventPassengerBoarded,
		Time:        w.kernel.Now(),
		RouteID:     b.route.RouteID,
		Direction:   b.route.Direction,
		BusID:       b.ID,
		StopID:      stop.ID,
		PassengerID: p.ID,
		Destination: p.Destination,
		Mobility:    p.Mobility.String(),
	})
}

func (w *World) passengerAlighted(b *Bus, stop *Stop, p *Passenger, terminal bool) {
	w.totals.Alighted++
	if w.metrics != nil {
		w.metrics.PassengersAlighted.Inc()
	}
	reason := "destination"
	if terminal && p.Destination != stop.ID {
		reason = "terminus"
	}
	w.emit(Event{
		Type:        EventPassengerAlighted,
		Time:        w.kernel.Now(),
		RouteID:     b.route.RouteID,
		Direction:   b.route.Direction,
		BusID:       b.ID,
		StopID:      stop.ID,
		PassengerID: p.ID,
		Reason:      reason,
	})
}

func (w *World) passengerDenied(b *Bus, stop *Stop, p *Passenger, requeue bool) {
	w.totals.Denied++
	reason := "left"
	if requeue {
		reason = "requeued"
	} else {
		w.totals.LeftQueue++
	}
	if w.metrics != nil {
		w.metrics.PassengersDenied.WithLabelValues(reason).Inc()
	}
	w.emit(Event{
		Type:        EventPassengerDenied,
		Time:        w.kernel.Now(),
		RouteID:     b.route.RouteID,
		Direction:   b.route.Direction,
		BusID:       b.ID,
		StopID:      stop.ID,
		PassengerID: p.ID,
		Mobility:    p.Mobility.String(),
		Reason:      reason,
	})
}

func (w *World) holdApplied(b *Bus, stop *Stop, hold float64) {
	w.totals.Holds++
	if m := w.metrics; m != nil {
		m.HoldsApplied.Inc()
		m.HoldTime.Observe(hold)
	}
	log.Debug().Str("bus_id", b.ID).Str("stop_id", stop.ID).
		Float64("hold", hold).Float64("headway", b.hAssigned).Msg("holding bus")
	w.emit(Event{
		Type:      EventHeadwayAdjust,
		Time:      w.kernel.Now(),
		RouteID:   b.route.RouteID,
		Direction: b.route.Direction,
		BusID:     b.ID,
		StopID:    stop.ID,
		Headway:   b.hAssigned,
		HoldTime:  hold,
	})
}

func (w *World) holdSkippedNoPredecessor(b *Bus) {
	if w.metrics != nil {
		w.metrics.HoldsSkippedNoPred.Inc()
	}
}

func (w *World) zeroDemandHeadway(r *Route) {
	if w.metrics != nil {
		w.metrics.ZeroDemandHeadways.Inc()
	}
}

// vehicleCreateFailed drops a bus whose vehicle was never created; it was
// not yet in service, so the active gauge is untouched.
func (w *World) vehicleCreateFailed(b *Bus) {
	w.totals.TrafficFaults++
	if w.metrics != nil {
		w.metrics.TrafficFaults.Inc()
	}
	b.state = Finished
}

func (w *World) trafficFault(b *Bus) {
	w.totals.TrafficFaults++
	if w.metrics != nil {
		w.metrics.TrafficFaults.Inc()
	}
	b.finish(true)
}

func (w *World) busFailed(b *Bus) {
	w.totals.Failures++
	if w.metrics != nil {
		w.metrics.BusFailures.Inc()
	}
	w.emit(Event{
		Type:      EventBusFailure,
		Time:      w.kernel.Now(),
		RouteID:   b.route.RouteID,
		Direction: b.route.Direction,
		BusID:     b.ID,
		TripID:    b.TripID,
		Load:      b.load,
	})
}

func (w *World) busFinished(b *Bus, faulted bool) {
	w.totals.Finished++
	w.activeBuses--
	if m := w.metrics; m != nil {
		m.BusesFinished.Inc()
		m.ActiveBuses.Set(float64(w.activeBuses))
	}
}

func (w *World) fatalBoardMismatch(b *Bus, stop *Stop, p *Passenger) {
	log.Fatal().
		Int64("passenger_id", p.ID).
		Str("origin", p.Origin).
		Str("destination", p.Destination).
		Str("bus_id", b.ID).
		Str("stop_id", stop.ID).
		Str("route", b.route.RouteID).
		Msg("passenger destination not on remaining route: generator/route mismatch")
}
