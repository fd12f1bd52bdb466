package traffic

import (
	"math"
	"testing"

	"headway-simulator/internal/simkernel"
)

func TestRampTravelTimeCruise(t *testing.T) {
	d := DefaultDynamics() // accel 1, decel 1, vmax 15
	// 1000 m: 15 s to cruise (112.5 m), 15 s to brake (112.5 m),
	// 775 m at 15 m/s = 51.666.. s.
	got := RampTravelTime(1000, d)
	want := 15 + 15 + 775.0/15.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("RampTravelTime(1000) = %v, want %v", got, want)
	}
}

func TestRampTravelTimeShortHop(t *testing.T) {
	d := DefaultDynamics()
	// 100 m never reaches cruise: symmetric triangle, v_peak = sqrt(100),
	// total time 2*sqrt(100) = 20 s.
	got := RampTravelTime(100, d)
	if math.Abs(got-20) > 1e-9 {
		t.Fatalf("RampTravelTime(100) = %v, want 20", got)
	}
}

func TestRampTravelTimeZeroDistance(t *testing.T) {
	if got := RampTravelTime(0, DefaultDynamics()); got != 0 {
		t.Fatalf("RampTravelTime(0) = %v", got)
	}
}

func TestSimulatedDrivesLegsInOrder(t *testing.T) {
	k := simkernel.New(1)
	eng := NewSimulated(k, DefaultDynamics())
	eng.TravelTimeFunc = func(distance, _ float64) float64 { return distance / 10 }

	type arrival struct {
		stop string
		t    float64
	}
	var got []arrival
	eng.Subscribe(func(busID, stopID string, at float64) {
		got = append(got, arrival{stopID, at})
		// Depart immediately.
		if err := eng.VehicleDeparted(busID, stopID, at); err != nil {
			t.Fatalf("VehicleDeparted: %v", err)
		}
	})

	legs := []Leg{{StopID: "a"}, {StopID: "b", DistanceFromPrev: 100}, {StopID: "c", DistanceFromPrev: 50}}
	if err := eng.CreateVehicle("bus-1", legs, 5); err != nil {
		t.Fatal(err)
	}
	k.RunUntil(1000)

	want := []arrival{{"a", 5}, {"b", 15}, {"c", 20}}
	if len(got) != len(want) {
		t.Fatalf("arrivals = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arrival %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDestroyedVehicleEmitsNoCallbacks(t *testing.T) {
	k := simkernel.New(1)
	eng := NewSimulated(k, DefaultDynamics())
	var arrivals int
	eng.Subscribe(func(busID, stopID string, at float64) { arrivals++ })

	if err := eng.CreateVehicle("bus-1", []Leg{{StopID: "a"}}, 10); err != nil {
		t.Fatal(err)
	}
	eng.DestroyVehicle("bus-1")
	k.RunUntil(100)

	if arrivals != 0 {
		t.Fatalf("destroyed vehicle produced %d arrivals", arrivals)
	}
}

func TestNegativeTravelTimeSurfacesAsError(t *testing.T) {
	k := simkernel.New(1)
	eng := NewSimulated(k, DefaultDynamics())
	eng.TravelTimeFunc = func(_, _ float64) float64 { return -1 }
	eng.Subscribe(func(busID, stopID string, at float64) {})

	legs := []Leg{{StopID: "a"}, {StopID: "b", DistanceFromPrev: 100}}
	if err := eng.CreateVehicle("bus-1", legs, 0); err != nil {
		t.Fatal(err)
	}
	k.RunUntil(1)
	if err := eng.VehicleDeparted("bus-1", "a", 1); err == nil {
		t.Fatal("expected error for negative travel time")
	}
}

func TestDuplicateVehicleRejected(t *testing.T) {
	k := simkernel.New(1)
	eng := NewSimulated(k, DefaultDynamics())
	if err := eng.CreateVehicle("bus-1", []Leg{{StopID: "a"}}, 0); err != nil {
		t.Fatal(err)
	}
	if err := eng.CreateVehicle("bus-1", []Leg{{StopID: "a"}}, 0); err == nil {
		t.Fatal("expected duplicate-vehicle error")
	}
}
