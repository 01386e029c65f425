package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwhitehead/reddwarf/pkg/dataservice"
	"github.com/wwhitehead/reddwarf/pkg/events"
	"github.com/wwhitehead/reddwarf/pkg/scheduler"
	"github.com/wwhitehead/reddwarf/pkg/serial"
	"github.com/wwhitehead/reddwarf/pkg/store"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

type counter struct {
	Value int
}

func (c *counter) ClassDescriptor() (string, int) { return "counter", 1 }

func newTestRegistry() *serial.Registry {
	reg := serial.NewRegistry()
	reg.Register("counter@1", func() any { return &counter{} })
	return reg
}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, store.Store, *scheduler.Scheduler) {
	t.Helper()
	sched := scheduler.New()
	st, err := store.NewBoltStore(t.TempDir(), sched, 30*time.Millisecond)
	require.NoError(t, err)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	c := New(st, sched, newTestRegistry(), broker, opts)
	return c, st, sched
}

func TestRunTaskBeforeStartFailsServiceNotReady(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	err := c.RunTask(context.Background(), func(svc *dataservice.Service) error { return nil })
	assert.ErrorIs(t, err, types.ErrServiceNotReady)
}

func TestRunTaskCommitsSuccessfulTask(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())

	err := c.RunTask(context.Background(), func(svc *dataservice.Service) error {
		return svc.SetBinding("hero", &counter{Value: 1})
	})
	require.NoError(t, err)

	err = c.RunTask(context.Background(), func(svc *dataservice.Service) error {
		got, err := dataservice.GetBinding[*counter](svc, "hero")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Value)
		return nil
	})
	require.NoError(t, err)
}

func TestRunTaskPropagatesNonRetryableError(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())

	sentinel := errors.New("boom")
	err := c.RunTask(context.Background(), func(svc *dataservice.Service) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestRunTaskRetriesUnderConflictAndEventuallyCommits(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{RetryBudget: 5 * time.Second})
	require.NoError(t, c.Start())

	require.NoError(t, c.RunTask(context.Background(), func(svc *dataservice.Service) error {
		return svc.SetBinding("shared", &counter{Value: 0})
	}))

	const increments = 5
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				err := c.RunTask(context.Background(), func(svc *dataservice.Service) error {
					got, err := dataservice.GetBindingForUpdate[*counter](svc, "shared")
					if err != nil {
						return err
					}
					time.Sleep(time.Millisecond)
					got.Value++
					return svc.MarkForUpdate(got)
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	err := c.RunTask(context.Background(), func(svc *dataservice.Service) error {
		got, err := dataservice.GetBinding[*counter](svc, "shared")
		require.NoError(t, err)
		assert.Equal(t, 2*increments, got.Value)
		return nil
	})
	require.NoError(t, err)
}

func TestRunTaskAfterShutdownFailsServiceShutDown(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())

	ok, err := c.Shutdown(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	err = c.RunTask(context.Background(), func(svc *dataservice.Service) error { return nil })
	assert.ErrorIs(t, err, types.ErrServiceShutDown)
}

func TestShutdownWaitsForActiveTasksThenSucceeds(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.RunTask(context.Background(), func(svc *dataservice.Service) error {
			close(started)
			<-release
			return svc.SetBinding("during-shutdown", &counter{Value: 1})
		})
	}()
	<-started

	shutdownDone := make(chan bool, 1)
	go func() {
		ok, err := c.Shutdown(context.Background())
		require.NoError(t, err)
		shutdownDone <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	select {
	case ok := <-shutdownDone:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestShutdownRevertsToRunningOnContextCancel(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.RunTask(context.Background(), func(svc *dataservice.Service) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := c.Shutdown(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "running", string(c.State()))

	close(release)
}

type fakeParticipant struct {
	name       string
	prepareErr error
	outcome    Outcome
	prepared   bool
	committed  bool
	aborted    bool
}

func (p *fakeParticipant) Name() string { return p.name }
func (p *fakeParticipant) Prepare() (Outcome, error) {
	if p.prepareErr != nil {
		return 0, p.prepareErr
	}
	p.prepared = true
	return p.outcome, nil
}
func (p *fakeParticipant) Commit() error { p.committed = true; return nil }
func (p *fakeParticipant) Abort() error  { p.aborted = true; return nil }

func TestRegisterParticipantUnknownTxnFailsTransactionNotActive(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())

	extra := &fakeParticipant{name: "extra"}
	err := c.RunTask(context.Background(), func(svc *dataservice.Service) error {
		// There is no ambient txn ID surface on Service; exercise
		// RegisterParticipant's transaction-not-active path instead,
		// since this repository has no sibling service to join for
		// real. The happy path is covered by attempt()'s own ordering
		// over the built-in store participant.
		err := c.RegisterParticipant("not-a-real-txn", extra)
		assert.ErrorIs(t, err, types.ErrTransactionNotActive)
		return svc.SetBinding("x", &counter{Value: 1})
	})
	require.NoError(t, err)
	assert.False(t, extra.prepared)
}

func TestTwoPhaseCommitAbortsAllOnPrepareFailure(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())

	ok := &fakeParticipant{name: "ok"}
	failing := &fakeParticipant{name: "failing", prepareErr: errors.New("downstream refused")}

	err := c.twoPhaseCommit([]Participant{ok, failing})
	require.Error(t, err)
	assert.True(t, ok.aborted)
	assert.False(t, ok.committed)
}

func TestTwoPhaseCommitSkipsCommitForReadOnlyParticipant(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	require.NoError(t, c.Start())

	readOnly := &fakeParticipant{name: "ro"}
	readOnly.outcome = ReadOnly
	written := &fakeParticipant{name: "rw"}

	require.NoError(t, c.twoPhaseCommit([]Participant{readOnly, written}))
	assert.False(t, readOnly.committed)
	assert.True(t, written.committed)
}
