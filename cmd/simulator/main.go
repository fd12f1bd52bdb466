package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headway-simulator/internal/config"
	"headway-simulator/internal/db"
	"headway-simulator/internal/demand"
	"headway-simulator/internal/metrics"
	"headway-simulator/internal/publisher"
	"headway-simulator/internal/sim"
	"headway-simulator/internal/traffic"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Str("level", cfg.LogLevel).Msg("invalid LOG_LEVEL")
	}
	zerolog.SetGlobalLevel(level)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	routes, err := sim.LoadRoutesFile(cfg.RoutesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("route load error")
	}
	// Monitored stops from the environment override the route file.
	for _, r := range routes {
		if stops, ok := cfg.MonitoredStops[r.Direction]; ok {
			r.Monitored = stops
		}
	}

	var sqlDB *sql.DB
	var rates *demand.ArrivalRateTable
	var weights *demand.WeightsTable
	if cfg.DatabaseURL != "" {
		sqlDB, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db open error")
		}
		defer sqlDB.Close()
		if err := db.Ping(ctx, sqlDB); err != nil {
			log.Fatal().Err(err).Msg("db ping error")
		}
		if rates, err = db.LoadArrivalRates(ctx, sqlDB, cfg.RouteID); err != nil {
			log.Fatal().Err(err).Msg("arrival-rate load error")
		}
		if weights, err = db.LoadDestinationWeights(ctx, sqlDB, cfg.RouteID); err != nil {
			log.Fatal().Err(err).Msg("destination-weight load error")
		}
		log.Info().Int("rate_cells", rates.Len()).Int("weight_vectors", weights.Len()).
			Msg("loaded demand tables from database")
	} else {
		if rates, err = demand.LoadArrivalRatesFile(cfg.ArrivalRatesFile); err != nil {
			log.Fatal().Err(err).Msg("arrival-rate load error")
		}
		if weights, err = demand.LoadWeightsFile(cfg.WeightsFile); err != nil {
			log.Fatal().Err(err).Msg("destination-weight load error")
		}
		log.Info().Int("rate_cells", rates.Len()).Int("weight_vectors", weights.Len()).
			Msg("loaded demand tables from files")
	}

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var sink sim.Sink = sim.NopSink{}
	var recordWriters []sim.RecordWriter
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatal().Err(err).Msg("nats error")
		}
		defer pub.Close()
		sink = pub
		recordWriters = append(recordWriters, pub)
	}
	var dbWriter *db.RecordWriter
	if sqlDB != nil {
		runID := time.Now().Format("20060102_150405")
		dbWriter = db.NewRecordWriter(sqlDB, runID, 500)
		recordWriters = append(recordWriters, dbWriter)
	}

	params := buildParams(cfg)
	dynamics := traffic.Dynamics{Accel: cfg.Accel, Decel: cfg.Decel, MaxSpeed: cfg.MaxSpeed}

	for round := 0; round < cfg.NumRounds; round++ {
		p := params
		p.Seed = cfg.RandomSeed + int64(round)
		world, err := sim.NewWorld(sim.Options{
			Params:        p,
			Routes:        routes,
			Rates:         rates,
			Weights:       weights,
			Dynamics:      dynamics,
			Sink:          sink,
			Records:       multiRecordWriter(recordWriters),
			Metrics:       mcol,
			SpecialEvents: cfg.SpecialEvents,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("world setup error")
		}
		log.Info().Int("round", round+1).Int("rounds", cfg.NumRounds).
			Int64("seed", p.Seed).Str("scheduler", cfg.SchedulerType).
			Msg("starting simulation round")
		summary := world.Run()
		if dbWriter != nil {
			if err := dbWriter.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("record flush failed")
			}
		}
		log.Info().
			Int("round", round+1).
			Int("dispatched", summary.Dispatched).
			Int("finished", summary.Finished).
			Int("generated", summary.Generated).
			Int("boarded", summary.Boarded).
			Int("alighted", summary.Alighted).
			Int("denied", summary.Denied).
			Int("holds", summary.Holds).
			Int("still_onboard", summary.StillOnboard).
			Int("still_waiting", summary.StillWaiting).
			Uint64("events", summary.EventsFired).
			Msg("round complete")
	}
	_ = os.Stdout
}

func buildParams(cfg *config.Config) sim.Params {
	return sim.Params{
		StartTime:               cfg.StartTimeSeconds,
		EndTime:                 cfg.EndTimeSeconds,
		OperatingDate:           cfg.Date,
		ServiceOpenSecond:       cfg.ServiceOpenSecond,
		FixedDwellTime:          cfg.FixedDwellTime,
		Capacity:                cfg.BusCapacity,
		MaxWheelchair:           cfg.MaxWheelchair,
		MeanTimeBetweenFailures: cfg.MeanTimeBetweenFailures,
		Passenger: sim.PassengerParams{
			RegularBoardingTime:     cfg.RegularBoardingTime,
			RegularAlightingTime:    cfg.RegularAlightingTime,
			WheelchairBoardingTime:  cfg.DisabledBoardingTime,
			WheelchairAlightingTime: cfg.DisabledAlightingTime,
			WheelchairProbability:   cfg.DisabledProbability,
			RequeueProportion:       cfg.RequeueProportion,
		},
		Dispatch: sim.DispatchParams{
			Type:             cfg.SchedulerType,
			BetaTarget:       cfg.BetaTarget,
			HMin:             cfg.HMin,
			HMax:             cfg.HMax,
			MaxHold:          cfg.MaxHold,
			HeadwayTolerance: cfg.HeadwayTolerance,
			DefaultInterval:  cfg.DefaultInterval,
			PeakInterval:     cfg.PeakInterval,
			OffPeakInterval:  cfg.OffPeakInterval,
			PeakDayparts:     cfg.PeakDayparts,
			Timetable:        cfg.Timetable,
		},
		EnableKPI:         cfg.EnableKPI,
		KPIExportInterval: cfg.KPIExportInterval,
	}
}

// multiRecordWriter fans records out to every configured writer; nil when
// none are configured so the world skips record building entirely.
func multiRecordWriter(writers []sim.RecordWriter) sim.RecordWriter {
	switch len(writers) {
	case 0:
		return nil
	case 1:
		return writers[0]
	default:
		return fanoutWriter(writers)
	}
}

type fanoutWriter []sim.RecordWriter

func (f fanoutWriter) Write(rec sim.StopVisitRecord) error {
	var firstErr error
	for _, w := range f {
		if err := w.Write(rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("record write: %w", err)
		}
	}
	return firstErr
}

// wrapPublisherMetrics adapts the Collector to the publisher's interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
