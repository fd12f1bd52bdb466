package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"headway-simulator/internal/demand"
	"headway-simulator/internal/sim"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// LoadArrivalRates reads the historical arrival-rate table. Rates are
// stored in passengers per second.
func LoadArrivalRates(ctx context.Context, db *sql.DB, routeID string) (*demand.ArrivalRateTable, error) {
	q := `
SELECT direction, stop_id, month, weekday, daypart, rate_per_second
FROM arrival_rates
WHERE route_id = $1`
	rows, err := db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query arrival_rates: %w", err)
	}
	defer rows.Close()

	table := demand.NewArrivalRateTable()
	for rows.Next() {
		var k demand.RateKey
		var rate float64
		if err := rows.Scan(&k.Direction, &k.Stop, &k.Month, &k.Weekday, &k.Daypart, &rate); err != nil {
			return nil, err
		}
		table.Set(k, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

// LoadDestinationWeights reads the destination-weight vectors. Each row is
// one position of a vector; positions are dense from 0.
func LoadDestinationWeights(ctx context.Context, db *sql.DB, routeID string) (*demand.WeightsTable, error) {
	q := `
SELECT direction, month, weekday, daypart, position, weight
FROM destination_weights
WHERE route_id = $1
ORDER BY direction, month, weekday, daypart, position`
	rows, err := db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query destination_weights: %w", err)
	}
	defer rows.Close()

	table := demand.NewWeightsTable()
	vectors := make(map[demand.WeightKey][]float64)
	for rows.Next() {
		var k demand.WeightKey
		var position int
		var weight float64
		if err := rows.Scan(&k.Direction, &k.Month, &k.Weekday, &k.Daypart, &position, &weight); err != nil {
			return nil, err
		}
		vec := vectors[k]
		for len(vec) <= position {
			vec = append(vec, 0)
		}
		vec[position] = weight
		vectors[k] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for k, vec := range vectors {
		table.Set(k, vec)
	}
	return table, nil
}

// RecordWriter batches stop-visit records into the stop_visits table. It
// implements sim.RecordWriter; Flush must be called before the run ends.
type RecordWriter struct {
	db        *sql.DB
	runID     string
	batchSize int
	pending   []sim.StopVisitRecord
}

func NewRecordWriter(db *sql.DB, runID string, batchSize int) *RecordWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &RecordWriter{db: db, runID: runID, batchSize: batchSize}
}

func (w *RecordWriter) Write(rec sim.StopVisitRecord) error {
	w.pending = append(w.pending, rec)
	if len(w.pending) >= w.batchSize {
		return w.Flush(context.Background())
	}
	return nil
}

// Flush inserts all pending records in one multi-row statement.
func (w *RecordWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	const cols = 21
	var sb strings.Builder
	sb.WriteString(`
INSERT INTO stop_visits (
    run_id, opd_date, weekday, daypart, line_abbr, direction, trip_id_int,
    bus_id, stop_id, stop_sequence, sched_arr_time, act_arr_time,
    sched_dep_time, act_dep_time, dwell_time, hold_time, boarding,
    alighting, load, wheelchair_count, distance_to_next
) VALUES `)
	args := make([]any, 0, len(w.pending)*cols)
	for i, r := range w.pending {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < cols; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+j+1)
		}
		sb.WriteString(")")
		args = append(args,
			w.runID, r.OperatingDate, r.Weekday, r.Daypart, r.RouteID, r.Direction, r.TripID,
			r.BusID, r.StopID, r.StopSequence, r.SchedArrTime, r.ActArrTime,
			r.SchedDepTime, r.ActDepTime, r.DwellTime, r.HoldTime, r.Boarding,
			r.Alighting, r.Load, r.Wheelchairs, r.DistanceToNext,
		)
	}
	if _, err := w.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert stop_visits: %w", err)
	}
	w.pending = w.pending[:0]
	return nil
}
