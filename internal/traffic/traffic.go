package traffic

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"headway-simulator/internal/simkernel"
)

// Leg is one hop of a vehicle's itinerary: the stop reached and the
// distance in metres from the previous stop (0 for the first leg).
type Leg struct {
	StopID           string
	DistanceFromPrev float64
}

// ArrivalFunc is invoked as a kernel callback whenever a vehicle reaches a
// stop.
type ArrivalFunc func(busID, stopID string, t float64)

// Interface is the boundary to the road-traffic engine. Every created
// vehicle eventually produces one arrival callback per leg in order, up to
// end of simulation; destroyed vehicles emit no further callbacks.
type Interface interface {
	CreateVehicle(busID string, legs []Leg, start float64) error
	DestroyVehicle(busID string)
	// VehicleDeparted tells the engine a vehicle left a stop so it can
	// move it toward the next one.
	VehicleDeparted(busID, stopID string, depart float64) error
	TravelTime(distance, departTime float64) float64
	Subscribe(fn ArrivalFunc)
}

// Dynamics are the closed-form ramp-profile parameters used when no
// microscopic model is attached.
type Dynamics struct {
	Accel    float64 // m/s^2
	Decel    float64 // m/s^2
	MaxSpeed float64 // m/s
}

// DefaultDynamics match the fleet's vehicle type definition.
func DefaultDynamics() Dynamics {
	return Dynamics{Accel: 1.0, Decel: 1.0, MaxSpeed: 15.0}
}

func (d Dynamics) Validate() error {
	if d.Accel <= 0 {
		return fmt.Errorf("vehicle accel must be positive, got %v", d.Accel)
	}
	if d.Decel <= 0 {
		return fmt.Errorf("vehicle decel must be positive, got %v", d.Decel)
	}
	if d.MaxSpeed <= 0 {
		return fmt.Errorf("vehicle max_speed must be positive, got %v", d.MaxSpeed)
	}
	return nil
}

// RampTravelTime computes the time to cover distance with constant
// acceleration to cruise speed and constant deceleration to a stop. When
// the distance is too short to reach cruise speed the profile is a pure
// accelerate-then-brake triangle.
func RampTravelTime(distance float64, d Dynamics) float64 {
	if distance <= 0 {
		return 0
	}
	timeToCruise := d.MaxSpeed / d.Accel
	distAccel := 0.5 * d.Accel * timeToCruise * timeToCruise
	timeToStop := d.MaxSpeed / d.Decel
	distDecel := 0.5 * d.Decel * timeToStop * timeToStop

	if distAccel+distDecel >= distance {
		tAccel := math.Sqrt(2 * distance / (d.Accel + d.Accel*d.Accel/d.Decel))
		tDecel := (d.Accel / d.Decel) * tAccel
		return tAccel + tDecel
	}
	cruise := (distance - distAccel - distDecel) / d.MaxSpeed
	return timeToCruise + cruise + timeToStop
}

type vehicle struct {
	legs    []Leg
	nextLeg int
}

// Simulated is the pure-timer traffic engine: travel times come from the
// ramp profile and arrivals are kernel callbacks. TravelTimeFunc may be
// overridden to model congestion (or to inject faults in tests).
type Simulated struct {
	kernel         *simkernel.Kernel
	dynamics       Dynamics
	onArrival      ArrivalFunc
	vehicles       map[string]*vehicle
	TravelTimeFunc func(distance, departTime float64) float64
}

// NewSimulated builds the timer engine over the shared kernel.
func NewSimulated(k *simkernel.Kernel, d Dynamics) *Simulated {
	s := &Simulated{
		kernel:   k,
		dynamics: d,
		vehicles: make(map[string]*vehicle),
	}
	s.TravelTimeFunc = func(distance, _ float64) float64 {
		return RampTravelTime(distance, d)
	}
	return s
}

func (s *Simulated) Subscribe(fn ArrivalFunc) { s.onArrival = fn }

func (s *Simulated) TravelTime(distance, departTime float64) float64 {
	return s.TravelTimeFunc(distance, departTime)
}

// CreateVehicle registers a vehicle and schedules its arrival at the first
// leg at the target start time.
func (s *Simulated) CreateVehicle(busID string, legs []Leg, start float64) error {
	if len(legs) == 0 {
		return fmt.Errorf("vehicle %s created with empty itinerary", busID)
	}
	if _, exists := s.vehicles[busID]; exists {
		return fmt.Errorf("vehicle %s already exists", busID)
	}
	v := &vehicle{legs: legs}
	s.vehicles[busID] = v
	s.scheduleArrival(busID, v, start)
	return nil
}

// DestroyVehicle removes a vehicle; pending arrivals for it are dropped
// when they fire.
func (s *Simulated) DestroyVehicle(busID string) {
	delete(s.vehicles, busID)
}

// VehicleDeparted moves the vehicle toward its next leg.
func (s *Simulated) VehicleDeparted(busID, stopID string, depart float64) error {
	v, ok := s.vehicles[busID]
	if !ok {
		return fmt.Errorf("vehicle %s unknown", busID)
	}
	cur := v.nextLeg - 1
	if cur < 0 || v.legs[cur].StopID != stopID {
		return fmt.Errorf("vehicle %s departed %s out of order", busID, stopID)
	}
	if v.nextLeg >= len(v.legs) {
		// Terminus; nothing left to drive.
		return nil
	}
	tt := s.TravelTimeFunc(v.legs[v.nextLeg].DistanceFromPrev, depart)
	if tt < 0 {
		return fmt.Errorf("vehicle %s got negative travel time %v toward %s", busID, tt, v.legs[v.nextLeg].StopID)
	}
	s.scheduleArrival(busID, v, depart+tt)
	return nil
}

func (s *Simulated) scheduleArrival(busID string, v *vehicle, t float64) {
	leg := v.nextLeg
	s.kernel.ScheduleAt(t, func() {
		// The vehicle may have been destroyed while in flight.
		if cur, ok := s.vehicles[busID]; !ok || cur != v || v.nextLeg != leg {
			return
		}
		v.nextLeg++
		if s.onArrival == nil {
			log.Warn().Str("bus_id", busID).Msg("vehicle arrival with no subscriber")
			return
		}
		s.onArrival(busID, v.legs[leg].StopID, s.kernel.Now())
	})
}
