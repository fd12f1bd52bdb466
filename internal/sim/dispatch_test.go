package sim

import (
	"fmt"
	"testing"
	"time"

	"headway-simulator/internal/demand"
)

var testDate = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC) // a Monday

func testRoute(n int) *Route {
	stops := make([]StopDef, n)
	for i := range stops {
		stops[i] = StopDef{StopID: fmt.Sprintf("s%d", i), DistanceToNext: 1000}
	}
	stops[n-1].DistanceToNext = 0
	return &Route{RouteID: "601", Direction: "northbound", Stops: stops}
}

// fullDayRates tabulates one flat rate for every stop and daypart of the
// test date.
func fullDayRates(route *Route, rate float64) *demand.ArrivalRateTable {
	t := demand.NewArrivalRateTable()
	for _, s := range route.Stops {
		for _, dp := range demand.DefaultPartition().Parts() {
			t.Set(demand.RateKey{
				Direction: route.Direction,
				Stop:      s.StopID,
				Month:     3,
				Weekday:   1,
				Daypart:   dp.Name,
			}, rate)
		}
	}
	return t
}

func baseParams() Params {
	p := DefaultParams()
	p.StartTime = 0
	p.EndTime = 14400
	p.OperatingDate = testDate
	p.ServiceOpenSecond = 0
	return p
}

func mustWorld(t *testing.T, opts Options) *World {
	t.Helper()
	w, err := NewWorld(opts)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

// idleWorld builds a world whose dispatcher never fires, for driving
// pieces by hand.
func idleWorld(t *testing.T, route *Route, p Params) *World {
	t.Helper()
	p.Dispatch.Type = "timetable"
	p.Dispatch.Timetable = nil
	return mustWorld(t, Options{Params: p, Routes: []*Route{route}})
}

func TestTargetHeadwayUniformDemand(t *testing.T) {
	route := testRoute(6)
	route.Monitored = []string{"s1", "s2", "s3"}
	p := baseParams()
	p.Capacity = 75
	p.Dispatch.Type = "adaptive_headway"
	p.Dispatch.BetaTarget = 1.0

	w := mustWorld(t, Options{Params: p, Routes: []*Route{route}, Rates: fullDayRates(route, 0.1)})
	d := w.lineFor("northbound").dispatcher.(*AdaptiveDispatcher)

	// λ̂/n = 0.1 p/s, h* = 75/0.1 = 750, inside [600, 1800].
	if got := d.targetHeadway(1000); got != 750 {
		t.Fatalf("targetHeadway = %v, want 750", got)
	}
}

func TestTargetHeadwayZeroDemand(t *testing.T) {
	route := testRoute(6)
	route.Monitored = []string{"s1", "s2", "s3"}
	p := baseParams()
	p.Dispatch.Type = "adaptive_headway"

	// Tabulated rates sit below the 10⁻³ p/s demand floor.
	w := mustWorld(t, Options{Params: p, Routes: []*Route{route}, Rates: fullDayRates(route, 0.0005)})
	d := w.lineFor("northbound").dispatcher.(*AdaptiveDispatcher)

	if got := d.targetHeadway(1000); got != p.Dispatch.HMax {
		t.Fatalf("targetHeadway under demand floor = %v, want h_max %v", got, p.Dispatch.HMax)
	}
}

func TestTargetHeadwayClampsToHMin(t *testing.T) {
	route := testRoute(6)
	route.Monitored = []string{"s1"}
	p := baseParams()
	p.Dispatch.Type = "adaptive_headway"

	// λ̂ = 1 p/s: (1.0·75)/1 = 75 s < h_min.
	w := mustWorld(t, Options{Params: p, Routes: []*Route{route}, Rates: fullDayRates(route, 1.0)})
	d := w.lineFor("northbound").dispatcher.(*AdaptiveDispatcher)
	if got := d.targetHeadway(1000); got != p.Dispatch.HMin {
		t.Fatalf("targetHeadway = %v, want h_min %v", got, p.Dispatch.HMin)
	}
}

func TestRequestHoldEarlyBus(t *testing.T) {
	route := testRoute(8)
	p := baseParams()
	p.Dispatch.MaxHold = 30
	p.Dispatch.HeadwayTolerance = 0.05

	w := idleWorld(t, route, p)
	ln := w.lineFor("northbound")
	ln.registry.Register("b1", 0)
	b2 := &Bus{ID: "b2", ln: ln, route: route, hAssigned: 600, next: 5}
	b2.Seq = ln.registry.Register("b2", 600)

	// Bus 1 departed stop 5 at t=1000; bus 2 arrives at t=1540, 60 s
	// ahead of its 600 s headway.
	ln.registry.RecordDeparture("b1", 5, 1000)
	if got := ln.dispatcher.RequestHold(b2, 1540); got != 30 {
		t.Fatalf("RequestHold = %v, want max_hold 30", got)
	}
}

func TestRequestHoldSuppressedByTolerance(t *testing.T) {
	route := testRoute(8)
	p := baseParams()
	p.Dispatch.MaxHold = 30
	p.Dispatch.HeadwayTolerance = 0.20

	w := idleWorld(t, route, p)
	ln := w.lineFor("northbound")
	ln.registry.Register("b1", 0)
	b2 := &Bus{ID: "b2", ln: ln, route: route, hAssigned: 600, next: 5}
	b2.Seq = ln.registry.Register("b2", 600)

	// Same 60 s deficit, but the capped 30 s hold is below 20% of the
	// headway, so it is a trivial micro-hold.
	ln.registry.RecordDeparture("b1", 5, 1000)
	if got := ln.dispatcher.RequestHold(b2, 1540); got != 0 {
		t.Fatalf("RequestHold = %v, want suppressed 0", got)
	}
}

func TestRequestHoldOnScheduleBus(t *testing.T) {
	route := testRoute(8)
	p := baseParams()
	w := idleWorld(t, route, p)
	ln := w.lineFor("northbound")
	ln.registry.Register("b1", 0)
	b2 := &Bus{ID: "b2", ln: ln, route: route, hAssigned: 600, next: 5}
	b2.Seq = ln.registry.Register("b2", 600)

	ln.registry.RecordDeparture("b1", 5, 1000)
	// Exactly on the assigned spacing.
	if got := ln.dispatcher.RequestHold(b2, 1600); got != 0 {
		t.Fatalf("RequestHold at Δ=h = %v, want 0", got)
	}
	// Late bus: never advanced.
	if got := ln.dispatcher.RequestHold(b2, 1700); got != 0 {
		t.Fatalf("RequestHold for late bus = %v, want 0", got)
	}
}

func TestRequestHoldNoPredecessor(t *testing.T) {
	route := testRoute(8)
	p := baseParams()
	w := idleWorld(t, route, p)
	ln := w.lineFor("northbound")

	// First bus of the day: nothing to space against.
	b1 := &Bus{ID: "b1", ln: ln, route: route, hAssigned: 600, next: 5}
	b1.Seq = ln.registry.Register("b1", 0)
	if got := ln.dispatcher.RequestHold(b1, 1000); got != 0 {
		t.Fatalf("RequestHold without predecessor = %v, want 0", got)
	}

	// Predecessor exists but has not reached this stop yet.
	b2 := &Bus{ID: "b2", ln: ln, route: route, hAssigned: 600, next: 5}
	b2.Seq = ln.registry.Register("b2", 600)
	if got := ln.dispatcher.RequestHold(b2, 1000); got != 0 {
		t.Fatalf("RequestHold with predecessor short of stop = %v, want 0", got)
	}
}

func TestRequestHoldDisabledWithoutHeadway(t *testing.T) {
	route := testRoute(8)
	p := baseParams()
	w := idleWorld(t, route, p)
	ln := w.lineFor("northbound")
	ln.registry.Register("b1", 0)
	b2 := &Bus{ID: "b2", ln: ln, route: route, hAssigned: 0, next: 5}
	b2.Seq = ln.registry.Register("b2", 600)

	ln.registry.RecordDeparture("b1", 5, 1000)
	if got := ln.dispatcher.RequestHold(b2, 1001); got != 0 {
		t.Fatalf("RequestHold with no assigned headway = %v, want 0", got)
	}
}

func TestTimetableDispatcherAssignsGapHeadways(t *testing.T) {
	route := testRoute(3)
	p := baseParams()
	p.EndTime = 2000
	p.Dispatch.Type = "timetable"
	p.Dispatch.Timetable = map[string][]float64{"northbound": {100, 700, 1300}}

	sink := &MemorySink{}
	w := mustWorld(t, Options{Params: p, Routes: []*Route{route}, Sink: sink})
	w.Run()

	dispatches := sink.OfType(EventBusDispatch)
	if len(dispatches) != 3 {
		t.Fatalf("dispatches = %d, want 3", len(dispatches))
	}
	wantTimes := []float64{100, 700, 1300}
	wantHeadways := []float64{600, 600, 0}
	for i, ev := range dispatches {
		if ev.Time != wantTimes[i] {
			t.Errorf("dispatch %d at %v, want %v", i, ev.Time, wantTimes[i])
		}
		if ev.Headway != wantHeadways[i] {
			t.Errorf("dispatch %d headway %v, want %v", i, ev.Headway, wantHeadways[i])
		}
	}
}

func TestIntervalDispatcherPeakDayparts(t *testing.T) {
	route := testRoute(3)
	p := baseParams()
	p.Dispatch.Type = "interval"
	p.Dispatch.DefaultInterval = 1800
	p.Dispatch.PeakInterval = 600
	p.Dispatch.OffPeakInterval = 1200
	p.Dispatch.PeakDayparts = []string{"1", "3"}

	w := mustWorld(t, Options{Params: p, Routes: []*Route{route}})
	d := w.lineFor("northbound").dispatcher.(*IntervalDispatcher)

	if got := d.intervalAt(25000); got != 600 { // morning peak
		t.Fatalf("peak interval = %v, want 600", got)
	}
	if got := d.intervalAt(40000); got != 1200 { // midday
		t.Fatalf("off-peak interval = %v, want 1200", got)
	}
}
