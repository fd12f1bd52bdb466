package simkernel

import (
	"reflect"
	"testing"
)

func TestRunUntilFiresInTimeOrder(t *testing.T) {
	k := New(1)
	var got []int
	k.Schedule(30, func() { got = append(got, 3) })
	k.Schedule(10, func() { got = append(got, 1) })
	k.Schedule(20, func() { got = append(got, 2) })
	k.RunUntil(100)

	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fire order = %v, want %v", got, want)
	}
	if k.Now() != 100 {
		t.Fatalf("Now() = %v after RunUntil(100)", k.Now())
	}
}

func TestEqualTimesFireInInsertionOrder(t *testing.T) {
	k := New(1)
	var got []string
	for _, name := range []string{"a", "b", "c", "d"} {
		name := name
		k.ScheduleAt(50, func() { got = append(got, name) })
	}
	k.RunUntil(50)

	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("equal-time order = %v, want %v", got, want)
	}
}

func TestCallbackMaySchedule(t *testing.T) {
	k := New(1)
	var times []float64
	var rearm func()
	rearm = func() {
		times = append(times, k.Now())
		if k.Now() < 40 {
			k.Schedule(10, rearm)
		}
	}
	k.Schedule(10, rearm)
	k.RunUntil(100)

	want := []float64{10, 20, 30, 40}
	if !reflect.DeepEqual(times, want) {
		t.Fatalf("self-rescheduling times = %v, want %v", times, want)
	}
}

func TestRunUntilStopsAtBoundary(t *testing.T) {
	k := New(1)
	fired := false
	k.Schedule(200, func() { fired = true })
	k.RunUntil(100)

	if fired {
		t.Fatal("event past tEnd fired")
	}
	if k.Now() != 100 {
		t.Fatalf("Now() = %v, want 100", k.Now())
	}
	k.RunUntil(250)
	if !fired {
		t.Fatal("event not fired after extending the horizon")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	k := New(1)
	fired := false
	h := k.Schedule(10, func() { fired = true })
	k.Cancel(h)
	k.Cancel(h)
	k.RunUntil(100)

	if fired {
		t.Fatal("cancelled callback fired")
	}
	if k.Fired() != 0 {
		t.Fatalf("Fired() = %d, want 0", k.Fired())
	}
}

func TestNegativeDelayClampsToNow(t *testing.T) {
	k := New(1)
	var at float64 = -1
	k.Schedule(5, func() {
		k.Schedule(-10, func() { at = k.Now() })
	})
	k.RunUntil(100)

	if at != 5 {
		t.Fatalf("clamped event fired at %v, want 5", at)
	}
}

func TestDeterministicRand(t *testing.T) {
	draw := func(seed int64) []float64 {
		k := New(seed)
		out := make([]float64, 5)
		for i := range out {
			out[i] = k.Rand().Float64()
		}
		return out
	}
	if !reflect.DeepEqual(draw(42), draw(42)) {
		t.Fatal("same seed produced different draws")
	}
	if reflect.DeepEqual(draw(42), draw(43)) {
		t.Fatal("different seeds produced identical draws")
	}
}
