// bench-fanout measures bus fan-out and replicator throughput with a
// synthetic fleet of publishers running flat out. Each publisher mirrors the
// sensor worker flush path: write the batch to the store, then publish it on
// the sensor's data topic for the replicator pool to pick up.
//
// Usage:
//
//	go run ./scripts/bench-fanout --sensors 200 --attributes 3 --duration 10s \
//	  --pool 8 --batch-size 100 --profile-dir /tmp/fanout
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/replicator"
	"github.com/Sumatoshi-tech/sensoria/pkg/store"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

const emitBatchSize = 10

func main() {
	sensors := flag.Int("sensors", 200, "Number of publishing sensors")
	attributes := flag.Int("attributes", 3, "Attributes per sensor")
	duration := flag.Duration("duration", 10*time.Second, "How long to publish")
	buffer := flag.Int("buffer", pubsub.DefaultBufferSize, "Per-subscription bus buffer")
	poolSize := flag.Int("pool", replicator.DefaultPoolSize, "Replicator pool size")
	batchSize := flag.Int("batch-size", replicator.DefaultBatchSize, "Replicator flush batch size")
	profileDir := flag.String("profile-dir", "", "Directory to write heap profiles (optional)")

	flag.Parse()

	if *sensors <= 0 || *attributes <= 0 {
		log.Fatal("--sensors and --attributes must be positive")
	}

	// Engine components log through slog; keep only warnings so the
	// benchmark output stays readable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	bus := pubsub.New(pubsub.Options{Logger: logger, BufferSize: *buffer})
	defer bus.Close()

	st := store.New(store.Options{Logger: logger})

	sink := &countingSink{}

	pool := replicator.New(replicator.Options{
		Logger:    logger,
		Bus:       bus,
		Sink:      sink,
		PoolSize:  *poolSize,
		BatchSize: *batchSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	sensorIDs := make([]string, *sensors)
	for i := range sensorIDs {
		sensorIDs[i] = fmt.Sprintf("bench-%04d", i)
	}

	attrIDs := make([]string, *attributes)
	for i := range attrIDs {
		attrIDs[i] = fmt.Sprintf("attr_%02d", i)
	}

	for _, id := range sensorIDs {
		pool.SensorUp(id)
	}

	// Give workers a beat to install their data topic subscriptions before
	// the flood starts.
	time.Sleep(100 * time.Millisecond)

	takeHeapSnapshot("before_run")

	var published atomic.Int64

	stop := make(chan struct{})

	var wg sync.WaitGroup

	baseTS := time.Now().UnixMilli()

	for _, id := range sensorIDs {
		wg.Add(1)

		go func() {
			defer wg.Done()
			publishLoop(bus, st, id, attrIDs, baseTS, stop, &published)
		}()
	}

	log.Printf("publishing with %d sensors x %d attributes for %s", *sensors, *attributes, *duration)

	progress := time.NewTicker(time.Second)
	defer progress.Stop()

	deadline := time.After(*duration)
	started := time.Now()

loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-progress.C:
			log.Printf("  [t+%2.0fs] published=%s replicated=%s",
				time.Since(started).Seconds(),
				humanize.Comma(published.Load()),
				humanize.Comma(sink.measurements.Load()))
		}
	}

	close(stop)
	wg.Wait()

	elapsed := time.Since(started)

	takeHeapSnapshot("after_run")

	// Stop flushes every pending batch, so totals are final afterwards.
	pool.Stop()

	takeHeapSnapshot("after_pool_stop")

	if *profileDir != "" {
		writeHeapProfile(*profileDir, "heap_after_run.prof")
	}

	printSummary(st, sink, sensorIDs, attrIDs, published.Load(), elapsed)
}

// publishLoop emits fixed-size batches for one sensor until stop closes,
// round-robining measurements across the sensor's attributes.
func publishLoop(bus *pubsub.Bus, st *store.TieredStore, sensorID string, attrIDs []string, baseTS int64, stop <-chan struct{}, published *atomic.Int64) {
	ctx := context.Background()
	seq := int64(0)

	for {
		select {
		case <-stop:
			return
		default:
		}

		batch := make([]telemetry.Measurement, 0, emitBatchSize)

		for range emitBatchSize {
			m := telemetry.Measurement{
				SensorID:    sensorID,
				AttributeID: attrIDs[seq%int64(len(attrIDs))],
				Timestamp:   baseTS + seq,
				Payload:     map[string]any{"value": float64(seq % 100)},
			}

			st.Put(m)
			batch = append(batch, m)
			seq++
		}

		bus.Publish(ctx, pubsub.DataTopic(sensorID), pubsub.MeasurementBatchMsg{
			SensorID:     sensorID,
			Measurements: batch,
		})

		published.Add(int64(len(batch)))
	}
}

func printSummary(st *store.TieredStore, sink *countingSink, sensorIDs, attrIDs []string, published int64, elapsed time.Duration) {
	replicated := sink.measurements.Load()
	batches := sink.batches.Load()
	lost := published - replicated

	var hot, warm int

	for _, sensorID := range sensorIDs {
		for _, attrID := range attrIDs {
			h, w := st.TierLens(sensorID, attrID)
			hot += h
			warm += w
		}
	}

	rate := float64(published) / elapsed.Seconds()

	avgBatch := 0.0
	if batches > 0 {
		avgBatch = float64(replicated) / float64(batches)
	}

	fmt.Println()
	fmt.Println("=== Fan-out Throughput ===")
	fmt.Printf("%-14s %15s\n", "elapsed", elapsed.Round(time.Millisecond))
	fmt.Printf("%-14s %15s   (%s/s)\n", "published", humanize.Comma(published), humanize.Comma(int64(rate)))
	fmt.Printf("%-14s %15s   (%.1f%% of published)\n", "replicated", humanize.Comma(replicated), percent(replicated, published))
	fmt.Printf("%-14s %15s   (avg %.1f measurements)\n", "batches", humanize.Comma(batches), avgBatch)
	fmt.Printf("%-14s %15s   (%.1f%%)\n", "lost", humanize.Comma(lost), percent(lost, published))
	fmt.Printf("%-14s %15s\n", "store hot", humanize.Comma(int64(hot)))
	fmt.Printf("%-14s %15s\n", "store warm", humanize.Comma(int64(warm)))
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}

	return float64(part) / float64(total) * 100
}

func takeHeapSnapshot(label string) {
	runtime.GC()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	log.Printf("  [heap] %-16s inuse=%6.1f MB  sys=%6.1f MB",
		label, float64(m.HeapInuse)/1e6, float64(m.HeapSys)/1e6)
}

func writeHeapProfile(dir, name string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("warning: mkdir profile-dir: %v", err)

		return
	}

	runtime.GC()

	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		log.Printf("warning: create heap profile %s: %v", path, err)

		return
	}
	defer f.Close()

	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Printf("warning: write heap profile %s: %v", path, err)
	}
}

// countingSink counts flushed batches and measurements and drops the data.
type countingSink struct {
	batches      atomic.Int64
	measurements atomic.Int64
}

func (s *countingSink) Flush(_ context.Context, _ string, batch []telemetry.Measurement) error {
	s.batches.Add(1)
	s.measurements.Add(int64(len(batch)))

	return nil
}
