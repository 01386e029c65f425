package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwhitehead/reddwarf/pkg/scheduler"
	"github.com/wwhitehead/reddwarf/pkg/store"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

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

func TestClassIDAssignsOnFirstEncounter(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	defer txn.Abort()

	id, err := ClassID(txn, Descriptor{Name: "Player", Version: 1})
	require.NoError(t, err)
	assert.NotZero(t, id)

	again, err := ClassID(txn, Descriptor{Name: "Player", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := ClassID(txn, Descriptor{Name: "Player", Version: 2})
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestLookupRoundTrip(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)

	id, err := ClassID(txn, Descriptor{Name: "Inventory", Version: 3})
	require.NoError(t, err)

	_, err = txn.Prepare()
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	txn2, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	defer txn2.Abort()

	d, err := Lookup(txn2, id)
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Name: "Inventory", Version: 3}, d)
}

func TestLookupUnknownIDIsSerializationFormatError(t *testing.T) {
	s := newTestStore(t)
	txn, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	defer txn.Abort()

	_, err = Lookup(txn, 999999)
	assert.ErrorIs(t, err, types.ErrSerializationFormat)
}

func TestDescriptorStringRoundTrip(t *testing.T) {
	d := Descriptor{Name: "Widget", Version: 7}
	assert.Equal(t, "Widget@7", d.String())

	parsed, err := parseDescriptor(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseDescriptorMalformed(t *testing.T) {
	_, err := parseDescriptor("no-at-sign")
	assert.Error(t, err)

	_, err = parseDescriptor("Name@notanumber")
	assert.Error(t, err)
}
