package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwhitehead/reddwarf/pkg/coordinator"
	"github.com/wwhitehead/reddwarf/pkg/dataservice"
	"github.com/wwhitehead/reddwarf/pkg/events"
	"github.com/wwhitehead/reddwarf/pkg/scheduler"
	"github.com/wwhitehead/reddwarf/pkg/serial"
	"github.com/wwhitehead/reddwarf/pkg/store"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Hammer a scratch store with concurrent increments and report throughput",
	Long: `Bench spins up a throwaway store under a temp directory, runs the
given number of worker goroutines each incrementing a shared counter
binding through the transaction coordinator, and reports the observed
throughput and retry rate. It exists to exercise the retry envelope and
lock manager under real contention, not as a durability benchmark.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("workers", 8, "Concurrent goroutines")
	benchCmd.Flags().Int("increments", 200, "Increments per worker")
	benchCmd.Flags().String("data-dir", "", "Data directory (defaults to a temp directory)")
}

type benchCounter struct {
	Value int
}

func (c *benchCounter) ClassDescriptor() (string, int) { return "bench.counter", 1 }

func runBench(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("workers")
	increments, _ := cmd.Flags().GetInt("increments")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	if dataDir == "" {
		tmp, err := os.MkdirTemp("", "darkstar-bench-")
		if err != nil {
			return fmt.Errorf("create temp data dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dataDir = tmp
	}

	sched := scheduler.New()
	st, err := store.NewBoltStore(dataDir, sched, 2*time.Second)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	var retries int64
	unsub := broker.Subscribe()
	go func() {
		for ev := range unsub {
			if ev.Type == events.EventTransactionRetried {
				atomic.AddInt64(&retries, 1)
			}
		}
	}()

	registry := serial.NewRegistry()
	registry.Register("bench.counter@1", func() any { return &benchCounter{} })

	coord := coordinator.New(st, sched, registry, broker, coordinator.Options{RetryBudget: 30 * time.Second})
	if err := coord.Start(); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	ctx := context.Background()
	if err := coord.RunTask(ctx, func(svc *dataservice.Service) error {
		return svc.SetBinding("bench-counter", &benchCounter{Value: 0})
	}); err != nil {
		return fmt.Errorf("seed counter: %w", err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workers)
	var failures int64
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				err := coord.RunTask(ctx, func(svc *dataservice.Service) error {
					got, err := dataservice.GetBindingForUpdate[*benchCounter](svc, "bench-counter")
					if err != nil {
						return err
					}
					got.Value++
					return svc.MarkForUpdate(got)
				})
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	var final int
	if err := coord.RunTask(ctx, func(svc *dataservice.Service) error {
		got, err := dataservice.GetBinding[*benchCounter](svc, "bench-counter")
		if err != nil {
			return err
		}
		final = got.Value
		return nil
	}); err != nil {
		return fmt.Errorf("read final counter: %w", err)
	}

	total := workers * increments
	fmt.Printf("workers=%d increments/worker=%d total=%d\n", workers, increments, total)
	fmt.Printf("elapsed=%s throughput=%.1f txn/s\n", elapsed, float64(total)/elapsed.Seconds())
	fmt.Printf("final counter value=%d (want %d) retried-attempts=%d failures=%d\n", final, total, atomic.LoadInt64(&retries), atomic.LoadInt64(&failures))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	coord.Shutdown(shutdownCtx)
	broker.Unsubscribe(unsub)
	broker.Stop()
	return nil
}
