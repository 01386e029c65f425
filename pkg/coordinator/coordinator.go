// Package coordinator implements the transaction coordinator (spec
// §4.6): it owns the service lifecycle state machine, joins context-
// bound operations to a per-transaction Context, drives two-phase
// commit across registered participants in registration order, and
// retries application tasks that abort with a retryable cause.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/wwhitehead/reddwarf/pkg/dataservice"
	"github.com/wwhitehead/reddwarf/pkg/events"
	"github.com/wwhitehead/reddwarf/pkg/health"
	"github.com/wwhitehead/reddwarf/pkg/log"
	"github.com/wwhitehead/reddwarf/pkg/metrics"
	"github.com/wwhitehead/reddwarf/pkg/scheduler"
	"github.com/wwhitehead/reddwarf/pkg/serial"
	"github.com/wwhitehead/reddwarf/pkg/store"
	"github.com/wwhitehead/reddwarf/pkg/txctx"
	"github.com/wwhitehead/reddwarf/pkg/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Outcome mirrors store.PrepareOutcome at the participant abstraction
// level (spec §9 "model each [participant] as a small capability set").
type Outcome int

const (
	Prepared Outcome = iota
	ReadOnly
)

// Participant is the abstract 2PC member spec §9 describes: prepare,
// commit, abort, and a stable name for logging. The data service's own
// Context is always the first participant registered for a
// transaction; RegisterParticipant adds any others (a session, channel,
// or task service joining the same transaction).
type Participant interface {
	Name() string
	Prepare() (Outcome, error)
	Commit() error
	Abort() error
}

type contextParticipant struct {
	ctx *txctx.Context
}

func (p *contextParticipant) Name() string { return "store" }

func (p *contextParticipant) Prepare() (Outcome, error) {
	outcome, err := p.ctx.Prepare()
	if err != nil {
		return 0, err
	}
	if outcome == store.PrepareReadOnly {
		// twoPhaseCommit skips Commit for read-only participants, so the
		// store transaction is finished here to release its locks.
		if err := p.ctx.Commit(); err != nil {
			return 0, err
		}
		return ReadOnly, nil
	}
	return Prepared, nil
}

func (p *contextParticipant) Commit() error { return p.ctx.Commit() }
func (p *contextParticipant) Abort() error  { return p.ctx.Abort() }

type transaction struct {
	ctx          *txctx.Context
	participants []Participant
}

// Options configures a Coordinator. Zero values select the documented
// defaults.
type Options struct {
	// DetectModifications and DebugCheckInterval mirror the
	// detect.modifications and debug.check.interval config options
	// (pkg/config), threaded straight into every Context this
	// coordinator creates.
	DetectModifications bool
	DebugCheckInterval  int
	// TxnTimeout bounds a single attempt's transaction deadline. Zero
	// selects 30s.
	TxnTimeout time.Duration
	// RetryBudget bounds the wall-clock time RunTask spends retrying a
	// task after retryable aborts. Zero means no wall-clock cap (still
	// bounded by MaxAttempts).
	RetryBudget time.Duration
	// MaxAttempts bounds the attempt count regardless of RetryBudget.
	// Zero selects 1000.
	MaxAttempts int
	// MaxConcurrentTasks bounds how many RunTask calls execute at once
	// (spec §5 "fully parallel threads", bounded by resources). Zero
	// selects 256.
	MaxConcurrentTasks int64
}

func (o Options) withDefaults() Options {
	if o.TxnTimeout <= 0 {
		o.TxnTimeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1000
	}
	if o.MaxConcurrentTasks <= 0 {
		o.MaxConcurrentTasks = 256
	}
	return o
}

// Coordinator is the process-wide singleton spec §9 calls for ("model
// as explicit singletons with initialize/shutdown methods; never access
// them before initialize returns"): Start is initialize, Shutdown is
// shutdown.
type Coordinator struct {
	store    store.Store
	sched    *scheduler.Scheduler
	registry *serial.Registry
	broker   *events.Broker
	logger   zerolog.Logger
	opts     Options
	sem      *semaphore.Weighted

	mu     sync.Mutex
	state  health.State
	active int
	txns   map[string]*transaction
}

// New builds a Coordinator in the Uninitialized state. sched and broker
// may be nil. Call Start before RunTask will accept any work.
func New(st store.Store, sched *scheduler.Scheduler, registry *serial.Registry, broker *events.Broker, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		store:    st,
		sched:    sched,
		registry: registry,
		broker:   broker,
		logger:   log.WithComponent("coordinator"),
		opts:     opts,
		sem:      semaphore.NewWeighted(opts.MaxConcurrentTasks),
		state:    health.StateUninitialized,
		txns:     make(map[string]*transaction),
	}
}

// State reports the coordinator's current lifecycle state. Intended for
// health.NewLifecycleChecker.
func (c *Coordinator) State() health.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) publish(t events.EventType, msg string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{Type: t, Message: msg})
}

// Start transitions Uninitialized -> Running. Calling it a second time
// fails; this coordinator is not restartable once started.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.state != health.StateUninitialized {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("coordinator: start called from state %s", state)
	}
	c.state = health.StateRunning
	c.mu.Unlock()

	c.logger.Info().Msg("coordinator started")
	c.publish(events.EventServiceStateChanged, string(health.StateRunning))
	return nil
}

// checkAcceptingNewLocked applies the §4.6 per-state acceptance table
// to a brand new task (one with no transaction joined yet). Caller
// holds c.mu.
func (c *Coordinator) checkAcceptingNewLocked() error {
	switch c.state {
	case health.StateUninitialized:
		return types.ErrServiceNotReady
	case health.StateRunning:
		return nil
	case health.StateShuttingDown:
		return types.ErrServiceShuttingDown
	case health.StateShutdown:
		return types.ErrServiceShutDown
	default:
		return types.ErrServiceNotReady
	}
}

// Shutdown transitions Running -> ShuttingDown, waits for every joined
// transaction to finish (or ctx to expire, whichever comes first), then
// closes the store and drains the scheduler concurrently. It returns
// false without altering durable state if ctx expires before draining
// completes (spec §5 "thread interruption... returns false"), reverting
// to Running per §4.6's "failed shutdown returns to Running".
func (c *Coordinator) Shutdown(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state == health.StateShutdown {
		c.mu.Unlock()
		return false, types.ErrAlreadyShutDown
	}
	if c.state != health.StateRunning {
		state := c.state
		c.mu.Unlock()
		return false, fmt.Errorf("coordinator: shutdown called from state %s", state)
	}
	c.state = health.StateShuttingDown
	c.mu.Unlock()
	c.publish(events.EventServiceStateChanged, string(health.StateShuttingDown))

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		remaining := c.active
		c.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.state = health.StateRunning
			c.mu.Unlock()
			c.publish(events.EventServiceStateChanged, string(health.StateRunning))
			return false, nil
		case <-ticker.C:
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if !c.store.Shutdown(gctx) {
			return errors.New("store did not shut down cleanly")
		}
		return nil
	})
	if c.sched != nil {
		g.Go(func() error {
			c.sched.Shutdown()
			return nil
		})
	}
	shutdownErr := g.Wait()

	c.mu.Lock()
	if shutdownErr != nil {
		c.state = health.StateRunning
	} else {
		c.state = health.StateShutdown
	}
	final := c.state
	c.mu.Unlock()
	c.publish(events.EventServiceStateChanged, string(final))

	if shutdownErr != nil {
		c.logger.Warn().Err(shutdownErr).Msg("shutdown interrupted, reverted to running")
		return false, nil
	}
	c.logger.Info().Msg("coordinator shut down")
	return true, nil
}

// join creates (or returns, if already joined) the transaction entry
// keyed by txn.ID(), registering the store's Context as its first
// participant (spec §3 "at-most-one context per transaction: joining
// twice returns the same context").
func (c *Coordinator) join(txn store.Txn) *transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.txns[txn.ID()]; ok {
		return t
	}
	ctx := txctx.New(txn, c.registry, c.opts.DetectModifications, c.opts.DebugCheckInterval, c.broker)
	t := &transaction{ctx: ctx, participants: []Participant{&contextParticipant{ctx: ctx}}}
	c.txns[txn.ID()] = t
	return t
}

func (c *Coordinator) forget(txnID string) {
	c.mu.Lock()
	delete(c.txns, txnID)
	c.mu.Unlock()
}

// RegisterParticipant adds an external participant (spec §9 "cross-
// service participants") to the transaction already joined under
// txnID. It fails transaction-not-active if no context has joined that
// ID yet.
func (c *Coordinator) RegisterParticipant(txnID string, p Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.txns[txnID]
	if !ok {
		return types.ErrTransactionNotActive
	}
	t.participants = append(t.participants, p)
	return nil
}

// Task is application code run under one attempt's transaction. It
// receives the application-namespace Service for that attempt; it must
// be idempotent under retry (spec §9 "Retry envelope").
type Task func(svc *dataservice.Service) error

// RunTask is the full retry envelope (spec §9): acquire a concurrency
// slot, then loop (begin a transaction, join it, run task, prepare and
// commit every participant in registration order), retrying on
// retryable aborts until RetryBudget or MaxAttempts is exhausted.
func (c *Coordinator) RunTask(ctx context.Context, task Task) error {
	c.mu.Lock()
	if err := c.checkAcceptingNewLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.active++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TaskDuration)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.opts.RetryBudget
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		err := c.attempt(ctx, task)
		if err == nil {
			return nil
		}
		if !types.Retryable(err) {
			return err
		}
		lastErr = err

		metrics.TransactionRetries.Inc()
		c.publish(events.EventTransactionRetried, fmt.Sprintf("attempt %d: %v", attempt, err))

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%w: %v", types.ErrTransactionAborted, lastErr)
}

// attempt runs exactly one transaction: begin, join, run the task, then
// drive 2PC over every registered participant in order.
func (c *Coordinator) attempt(ctx context.Context, task Task) error {
	deadline := time.Now().Add(c.opts.TxnTimeout)
	txn, err := c.store.Begin(deadline)
	if err != nil {
		return err
	}
	defer c.forget(txn.ID())

	t := c.join(txn)
	metrics.TransactionsStarted.Inc()
	c.publish(events.EventTransactionStarted, txn.ID())

	svc := dataservice.Application(t.ctx, nil)
	if err := task(svc); err != nil {
		abortAll(t.participants)
		c.publish(events.EventTransactionAborted, err.Error())
		return err
	}

	if err := c.twoPhaseCommit(t.participants); err != nil {
		c.publish(events.EventTransactionAborted, err.Error())
		return err
	}
	c.publish(events.EventTransactionCommitted, txn.ID())
	return nil
}

// twoPhaseCommit prepares every participant in registration order (spec
// §4.6), aborting all of them the moment any prepare fails, then
// commits every non-read-only one. Participant.Abort must tolerate
// being called on a participant whose own Prepare never ran or already
// failed.
func (c *Coordinator) twoPhaseCommit(participants []Participant) error {
	toCommit := make([]Participant, 0, len(participants))
	for _, p := range participants {
		outcome, err := p.Prepare()
		if err != nil {
			abortAll(participants)
			return err
		}
		if outcome != ReadOnly {
			toCommit = append(toCommit, p)
		}
	}

	for _, p := range toCommit {
		if err := p.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func abortAll(participants []Participant) {
	for _, p := range participants {
		_ = p.Abort()
	}
}
