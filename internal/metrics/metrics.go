package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Collector aggregates the simulation KPIs behind a private registry.
// Prometheus types do their own synchronisation, so the kernel may update
// them from callbacks while the HTTP server scrapes.
type Collector struct {
	reg *prometheus.Registry

	ActiveBuses prometheus.Gauge

	BusesDispatched prometheus.Counter
	BusesFinished   prometheus.Counter
	BusFailures     prometheus.Counter
	TrafficFaults   prometheus.Counter

	PassengersGenerated prometheus.Counter
	PassengersBoarded   prometheus.Counter
	PassengersAlighted  prometheus.Counter
	PassengersDenied    *prometheus.CounterVec // outcome label: requeued|left
	HoldsApplied        prometheus.Counter

	ZeroDemandHeadways prometheus.Counter
	HoldsSkippedNoPred prometheus.Counter
	RecordWriteErrs    prometheus.Counter

	AssignedHeadway prometheus.Histogram
	DwellTime       prometheus.Histogram
	HoldTime        prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_active_buses",
			Help: "Number of buses currently in service.",
		}),
		BusesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_buses_dispatched_total",
			Help: "Total buses dispatched.",
		}),
		BusesFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_buses_finished_total",
			Help: "Total buses that completed or aborted their trip.",
		}),
		BusFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_bus_failures_total",
			Help: "Total stochastic vehicle failures.",
		}),
		TrafficFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_traffic_faults_total",
			Help: "Total buses dropped due to traffic-interface faults.",
		}),
		PassengersGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_passengers_generated_total",
			Help: "Total passengers generated at stops.",
		}),
		PassengersBoarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_passengers_boarded_total",
			Help: "Total boardings.",
		}),
		PassengersAlighted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_passengers_alighted_total",
			Help: "Total alightings.",
		}),
		PassengersDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_passengers_denied_total",
			Help: "Total boarding denials.",
		}, []string{"outcome"}),
		HoldsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_holds_applied_total",
			Help: "Total headway holds applied.",
		}),
		ZeroDemandHeadways: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_zero_demand_headways_total",
			Help: "Dispatches that fell back to h_max on zero demand.",
		}),
		HoldsSkippedNoPred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_holds_skipped_no_predecessor_total",
			Help: "Hold requests skipped because the preceding bus had not reached the stop.",
		}),
		RecordWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_record_write_errors_total",
			Help: "Stop-visit record write failures.",
		}),
		AssignedHeadway: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_assigned_headway_seconds",
			Help:    "Headway frozen onto each dispatched bus.",
			Buckets: prometheus.LinearBuckets(300, 150, 12),
		}),
		DwellTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_dwell_seconds",
			Help:    "Dwell time per stop visit, including holds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		HoldTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_hold_seconds",
			Help:    "Hold time per applied hold.",
			Buckets: prometheus.LinearBuckets(5, 5, 10),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.ActiveBuses,
		c.BusesDispatched, c.BusesFinished, c.BusFailures, c.TrafficFaults,
		c.PassengersGenerated, c.PassengersBoarded, c.PassengersAlighted,
		c.PassengersDenied, c.HoldsApplied,
		c.ZeroDemandHeadways, c.HoldsSkippedNoPred, c.RecordWriteErrs,
		c.AssignedHeadway, c.DwellTime, c.HoldTime,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
