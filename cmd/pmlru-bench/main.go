// Command pmlru-bench loads a store and times a single transaction of accesses
// and peeks on it.
//
//	pmlru-bench -preset llcf -ops 1000 -value-size 64 -write-percent 20 -mechanism 0
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/holmberd/go-pmlru"
	"github.com/holmberd/go-pmlru/internal/workload"
)

type options struct {
	preset       string
	ops          int
	valueSize    int
	writePercent float64
	mechanism    string
	seed         int64
	path         string
	verbose      bool
}

func main() {
	var o options
	flag.StringVar(&o.preset, "preset", string(workload.LLCFit), "working set size: l1f, l2f, llcf or llcnf")
	flag.IntVar(&o.ops, "ops", 1000, "operations in the transaction")
	flag.IntVar(&o.valueSize, "value-size", 64, "value size in bytes")
	flag.Float64Var(&o.writePercent, "write-percent", 20, "percentage of operations that are accesses")
	flag.StringVar(&o.mechanism, "mechanism", "0", "flush mechanism: 0 none, 1 clflush, 2 clflushopt, 3 clwb")
	flag.Int64Var(&o.seed, "seed", 0, "workload seed")
	flag.StringVar(&o.path, "path", "", "back the store with this file")
	flag.BoolVar(&o.verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, logger); err != nil {
		logger.Error("benchmark failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, logger *slog.Logger) error {
	preset, err := workload.ParsePreset(o.preset)
	if err != nil {
		return err
	}
	mech, err := pmlru.ParseMechanism(o.mechanism)
	if err != nil {
		return err
	}
	elements := preset.Elements(pmlru.ElementBytes(o.valueSize), o.valueSize)

	w, err := workload.Generate(ctx, workload.Config{
		Elements:     elements,
		Ops:          o.ops,
		WritePercent: o.writePercent,
		Seed:         o.seed,
	})
	if err != nil {
		return fmt.Errorf("generate workload: %w", err)
	}

	c := pmlru.DefaultConfig()
	c.Capacity = elements
	c.ValueSize = o.valueSize
	c.LogRecords = max(1, w.Writes) * pmlru.IntentsPerAccess
	c.Mechanism = mech
	c.Path = o.path
	c.Logger = logger
	s, err := pmlru.New(c)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()
	if s.Len() > 0 {
		return fmt.Errorf("store at %s is not empty", o.path)
	}

	value := bytes.Repeat([]byte{'x'}, o.valueSize)
	for _, k := range w.Keys {
		if err := s.Insert(k, value); err != nil {
			return fmt.Errorf("load key %d: %w", k, err)
		}
	}
	if err := s.Sync(); err != nil {
		return err
	}
	logger.Info("store loaded",
		"preset", preset, "elements", elements, "valueSize", o.valueSize, "mechanism", mech)

	var total time.Duration
	for i, op := range w.Ops {
		if i%1024 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		start := time.Now()
		if op.Write {
			err = s.Access(op.Key)
		} else {
			_, err = s.Peek(op.Key)
		}
		total += time.Since(start)
		if err != nil {
			return fmt.Errorf("op %d on key %d: %w", i, op.Key, err)
		}
	}
	start := time.Now()
	if err := s.CommitAndApply(); err != nil {
		return fmt.Errorf("end transaction: %w", err)
	}
	total += time.Since(start)

	st := s.Stats()
	logger.Debug("transaction ended",
		"commits", st.Tx.Commits, "flushes", st.Barrier.Flushes, "lines", st.Barrier.Lines)
	fmt.Printf("Total Time: %d ns (%d ops, %d writes)\n", total.Nanoseconds(), len(w.Ops), w.Writes)
	return nil
}
