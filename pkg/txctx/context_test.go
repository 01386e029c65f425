package txctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwhitehead/reddwarf/pkg/events"
	"github.com/wwhitehead/reddwarf/pkg/ref"
	"github.com/wwhitehead/reddwarf/pkg/scheduler"
	"github.com/wwhitehead/reddwarf/pkg/serial"
	"github.com/wwhitehead/reddwarf/pkg/store"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

type player struct {
	Name  string
	Score int
	Owner *ref.Reference
}

func (p *player) ClassDescriptor() (string, int) { return "player", 1 }

func newTestRegistry() *serial.Registry {
	reg := serial.NewRegistry()
	reg.Register("player@1", func() any { return &player{} })
	return reg
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	sched := scheduler.New()
	s, err := store.NewBoltStore(t.TempDir(), sched, 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
		sched.Shutdown()
	})
	return s
}

func farDeadline() time.Time { return time.Now().Add(time.Minute) }

func TestCreateReferenceThenResolveForRead(t *testing.T) {
	s := newTestStore(t)
	reg := newTestRegistry()

	txn, err := s.Begin(farDeadline())
	require.NoError(t, err)
	ctx := New(txn, reg, true, 0, nil)

	p := &player{Name: "Ridley", Score: 10}
	r, err := ctx.CreateReference(p)
	require.NoError(t, err)
	assert.True(t, r.ID().Valid())

	_, err = ctx.Prepare()
	require.NoError(t, err)
	require.NoError(t, ctx.Commit())

	txn2, err := s.Begin(farDeadline())
	require.NoError(t, err)
	ctx2 := New(txn2, reg, true, 0, nil)

	got, err := ctx2.ResolveForRead(r.ID())
	require.NoError(t, err)
	gotPlayer, ok := got.(*player)
	require.True(t, ok)
	assert.Equal(t, "Ridley", gotPlayer.Name)
	assert.Equal(t, 10, gotPlayer.Score)

	_, err = ctx2.Prepare()
	require.NoError(t, err)
	require.NoError(t, ctx2.Commit())
}

func TestCreateReferenceTwiceForSameObjectReturnsSameID(t *testing.T) {
	s := newTestStore(t)
	reg := newTestRegistry()

	txn, err := s.Begin(farDeadline())
	require.NoError(t, err)
	defer txn.Abort()
	ctx := New(txn, reg, true, 0, nil)

	p := &player{Name: "Dup"}
	first, err := ctx.CreateReference(p)
	require.NoError(t, err)
	second, err := ctx.CreateReference(p)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}

func TestResolveForReadReturnsSameInstanceWithinTransaction(t *testing.T) {
	s := newTestStore(t)
	reg := newTestRegistry()

	txn, err := s.Begin(farDeadline())
	require.NoError(t, err)
	ctx := New(txn, reg, true, 0, nil)
	p := &player{Name: "Singleton"}
	r, err := ctx.CreateReference(p)
	require.NoError(t, err)
	_, err = ctx.Prepare()
	require.NoError(t, err)
	require.NoError(t, ctx.Commit())

	txn2, err := s.Begin(farDeadline())
	require.NoError(t, err)
	defer txn2.Abort()
	ctx2 := New(txn2, reg, true, 0, nil)

	a, err := ctx2.ResolveForRead(r.ID())
	require.NoError(t, err)
	b, err := ctx2.ResolveForRead(r.ID())
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRemoveThenResolveFailsObjectNotFound(t *testing.T) {
	s := newTestStore(t)
	reg := newTestRegistry()

	txn, err := s.Begin(farDeadline())
	require.NoError(t, err)
	ctx := New(txn, reg, true, 0, nil)
	p := &player{Name: "Gone"}
	r, err := ctx.CreateReference(p)
	require.NoError(t, err)
	require.NoError(t, ctx.Remove(p))

	_, err = ctx.ResolveForRead(r.ID())
	assert.ErrorIs(t, err, types.ErrObjectNotFound)

	_, err = ctx.Prepare()
	require.NoError(t, err)
	require.NoError(t, ctx.Commit())

	txn2, err := s.Begin(farDeadline())
	require.NoError(t, err)
	defer txn2.Abort()
	ctx2 := New(txn2, reg, true, 0, nil)
	_, err = ctx2.ResolveForRead(r.ID())
	assert.ErrorIs(t, err, types.ErrObjectNotFound)
}

func TestMarkForUpdateOnTransientObjectFailsObjectNotManaged(t *testing.T) {
	s := newTestStore(t)
	reg := newTestRegistry()

	txn, err := s.Begin(farDeadline())
	require.NoError(t, err)
	defer txn.Abort()
	ctx := New(txn, reg, true, 0, nil)

	p := &player{Name: "Stranger"}
	err = ctx.MarkForUpdate(p)
	assert.ErrorIs(t, err, types.ErrObjectNotManaged)
}

func TestSilentMutationDetectedAndPersisted(t *testing.T) {
	s := newTestStore(t)
	reg := newTestRegistry()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	txn, err := s.Begin(farDeadline())
	require.NoError(t, err)
	ctx := New(txn, reg, true, 0, nil)
	p := &player{Name: "Original", Score: 1}
	r, err := ctx.CreateReference(p)
	require.NoError(t, err)
	_, err = ctx.Prepare()
	require.NoError(t, err)
	require.NoError(t, ctx.Commit())

	txn2, err := s.Begin(farDeadline())
	require.NoError(t, err)
	ctx2 := New(txn2, reg, true, 0, broker)

	got, err := ctx2.ResolveForRead(r.ID())
	require.NoError(t, err)
	gotPlayer := got.(*player)
	gotPlayer.Score = 99 // mutated without MarkForUpdate

	_, err = ctx2.Prepare()
	require.NoError(t, err)
	require.NoError(t, ctx2.Commit())

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventSilentMutation, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a silent mutation event")
	}

	txn3, err := s.Begin(farDeadline())
	require.NoError(t, err)
	defer txn3.Abort()
	ctx3 := New(txn3, reg, true, 0, nil)
	persisted, err := ctx3.ResolveForRead(r.ID())
	require.NoError(t, err)
	assert.Equal(t, 99, persisted.(*player).Score)
}

func TestReferenceFieldRebindsAfterDecode(t *testing.T) {
	s := newTestStore(t)
	reg := newTestRegistry()

	txn, err := s.Begin(farDeadline())
	require.NoError(t, err)
	ctx := New(txn, reg, true, 0, nil)

	owner := &player{Name: "Owner"}
	ownerRef, err := ctx.CreateReference(owner)
	require.NoError(t, err)

	pet := &player{Name: "Pet", Owner: ownerRef}
	petRef, err := ctx.CreateReference(pet)
	require.NoError(t, err)

	_, err = ctx.Prepare()
	require.NoError(t, err)
	require.NoError(t, ctx.Commit())

	txn2, err := s.Begin(farDeadline())
	require.NoError(t, err)
	defer txn2.Abort()
	ctx2 := New(txn2, reg, true, 0, nil)

	got, err := ctx2.ResolveForRead(petRef.ID())
	require.NoError(t, err)
	gotPet := got.(*player)
	require.NotNil(t, gotPet.Owner)

	resolvedOwner, err := gotPet.Owner.Get()
	require.NoError(t, err)
	assert.Equal(t, "Owner", resolvedOwner.(*player).Name)
}
