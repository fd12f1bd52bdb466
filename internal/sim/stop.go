package sim

// Stop owns the FIFO queue of waiting passengers at one route position.
// The queue is pushed by the stop's generator and walked by arriving buses;
// both run as kernel callbacks so no locking exists.
type Stop struct {
	ID    string
	Index int

	queue []*Passenger
}

func newStop(id string, index int) *Stop {
	return &Stop{ID: id, Index: index}
}

// Enqueue appends a passenger in arrival order.
func (s *Stop) Enqueue(p *Passenger) { s.queue = append(s.queue, p) }

// QueueLen returns the number of waiting passengers.
func (s *Stop) QueueLen() int { return len(s.queue) }

type alightOutcome struct {
	alighted    int
	wheelchairs int
	serviceTime float64
}

// alight removes every onboard passenger whose destination is this stop;
// at the terminus everyone alights. Passengers leave one by one, so the
// service time is the sum of their individual alighting times.
func (s *Stop) alight(b *Bus, terminal bool) alightOutcome {
	var out alightOutcome
	staying := b.passengers[:0]
	for _, p := range b.passengers {
		if terminal || p.Destination == s.ID {
			b.load -= p.CapacityCost
			if p.Mobility == Wheelchair {
				b.wheelchairs--
				out.wheelchairs++
			}
			out.alighted++
			out.serviceTime += p.AlightingTime
			b.ln.w.passengerAlighted(b, s, p, terminal)
		} else {
			staying = append(staying, p)
		}
	}
	b.passengers = staying
	return out
}

type boardOutcome struct {
	boarded     int
	denied      int
	serviceTime float64
}

// board walks the queue snapshot head-to-tail. A passenger boards when it
// fits within both the capacity and the wheelchair cap; a passenger that
// does not fit is denied and draws its requeue propensity. A queued
// passenger whose destination is not on the remaining stops means the
// generator and the route disagree, which is fatal.
func (s *Stop) board(b *Bus) boardOutcome {
	var out boardOutcome
	if b.route.IsTerminus(s.Index) {
		return out
	}

	kept := s.queue[:0]
	for _, p := range s.queue {
		idx, ok := b.route.Index(p.Destination)
		if !ok || idx <= s.Index {
			b.ln.w.fatalBoardMismatch(b, s, p)
		}
		fits := b.load+p.CapacityCost <= b.capacity
		if p.Mobility == Wheelchair && b.wheelchairs >= b.maxWheelchair {
			fits = false
		}
		if !fits {
			out.denied++
			requeue := b.ln.w.kernel.Rand().Float64() < p.RequeueProb
			b.ln.w.passengerDenied(b, s, p, requeue)
			if requeue {
				kept = append(kept, p)
			}
			continue
		}
		b.passengers = append(b.passengers, p)
		b.load += p.CapacityCost
		if p.Mobility == Wheelchair {
			b.wheelchairs++
		}
		out.boarded++
		out.serviceTime += p.BoardingTime
		b.ln.w.passengerBoarded(b, s, p)
	}
	s.queue = kept
	return out
}
