package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // profiling endpoints on the debug mux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwhitehead/reddwarf/pkg/config"
	"github.com/wwhitehead/reddwarf/pkg/coordinator"
	"github.com/wwhitehead/reddwarf/pkg/events"
	"github.com/wwhitehead/reddwarf/pkg/health"
	"github.com/wwhitehead/reddwarf/pkg/log"
	"github.com/wwhitehead/reddwarf/pkg/metrics"
	"github.com/wwhitehead/reddwarf/pkg/scheduler"
	"github.com/wwhitehead/reddwarf/pkg/serial"
	"github.com/wwhitehead/reddwarf/pkg/store"
)

const headerMajor = 1
const headerMinor = 0

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the data service",
	Long: `Run starts the store, the background scheduler and event broker, and
the transaction coordinator, then blocks serving ops endpoints until an
interrupt or SIGTERM is received.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("debug-addr", "127.0.0.1:9090", "Address for /metrics and /healthz")
	serveCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the debug address")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	debugAddr, _ := cmd.Flags().GetString("debug-addr")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sched := scheduler.New()
	st, err := store.NewBoltStore(cfg.DataDir, sched, cfg.LockWaitTimeout)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	if err := ensureHeader(st, cfg.AppName); err != nil {
		st.Shutdown(context.Background())
		sched.Shutdown()
		return fmt.Errorf("check on-disk header: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	registry := serial.NewRegistry()

	coordOpts := coordinator.Options{
		DetectModifications: cfg.DetectModifications,
		DebugCheckInterval:  cfg.DebugCheckInterval,
	}
	coord := coordinator.New(st, sched, registry, broker, coordOpts)
	if err := coord.Start(); err != nil {
		broker.Stop()
		st.Shutdown(context.Background())
		sched.Shutdown()
		return fmt.Errorf("start coordinator: %w", err)
	}

	checks := health.NewRegistry()
	checks.Register("coordinator", health.NewLifecycleChecker(coord.State))
	checks.Register("store", health.NewOpenChecker(st.IsOpen))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", checks.Handler())
	if pprofEnabled {
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}

	srv := &http.Server{Addr: debugAddr, Handler: mux}
	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	log.Info(fmt.Sprintf("darkstar serving: data dir %s, debug endpoint http://%s/healthz", cfg.DataDir, debugAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-serverErrCh:
		log.Errorf("debug server error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DisconnectDelay+10*time.Second)
	defer cancel()
	if _, err := coord.Shutdown(shutdownCtx); err != nil {
		log.Errorf("coordinator shutdown failed", err)
	}

	srv.Close()
	return nil
}

// ensureHeader runs EnsureHeader in its own short transaction, separate
// from the coordinator's retry envelope: it must run exactly once before
// the coordinator starts accepting application tasks, not be retried
// under contention from other transactions.
func ensureHeader(st store.Store, appName string) error {
	txn, err := st.Begin(time.Now().Add(10 * time.Second))
	if err != nil {
		return err
	}
	if err := store.EnsureHeader(txn, appName, headerMajor, headerMinor); err != nil {
		txn.Abort()
		return err
	}
	if _, err := txn.Prepare(); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}
