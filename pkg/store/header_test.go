package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwhitehead/reddwarf/pkg/scheduler"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

func newHeaderTestStore(t *testing.T) Store {
	t.Helper()
	sched := scheduler.New()
	s, err := NewBoltStore(t.TempDir(), sched, 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
		sched.Shutdown()
	})
	return s
}

func TestEnsureHeaderWritesOnFreshDatabase(t *testing.T) {
	s := newHeaderTestStore(t)
	txn, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, EnsureHeader(txn, "myapp", 1, 0))
	_, err = txn.Prepare()
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
}

func TestEnsureHeaderAcceptsMatchingMajor(t *testing.T) {
	s := newHeaderTestStore(t)

	txn1, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, EnsureHeader(txn1, "myapp", 1, 0))
	_, err = txn1.Prepare()
	require.NoError(t, err)
	require.NoError(t, txn1.Commit())

	txn2, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, EnsureHeader(txn2, "myapp", 1, 0))
	_, err = txn2.Prepare()
	require.NoError(t, err)
	require.NoError(t, txn2.Commit())
}

func TestEnsureHeaderRejectsMajorMismatch(t *testing.T) {
	s := newHeaderTestStore(t)

	txn1, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, EnsureHeader(txn1, "myapp", 1, 0))
	_, err = txn1.Prepare()
	require.NoError(t, err)
	require.NoError(t, txn1.Commit())

	txn2, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	defer txn2.Abort()
	err = EnsureHeader(txn2, "myapp", 2, 0)
	assert.ErrorIs(t, err, types.ErrVersionIncompatible)
}

func TestEnsureHeaderAdvancesMinorForward(t *testing.T) {
	s := newHeaderTestStore(t)

	txn1, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, EnsureHeader(txn1, "myapp", 1, 0))
	_, err = txn1.Prepare()
	require.NoError(t, err)
	require.NoError(t, txn1.Commit())

	txn2, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, EnsureHeader(txn2, "myapp", 1, 3))
	_, err = txn2.Prepare()
	require.NoError(t, err)
	require.NoError(t, txn2.Commit())

	txn3, err := s.Begin(time.Now().Add(time.Minute))
	require.NoError(t, err)
	defer txn3.Abort()
	id, err := txn3.GetBinding(headerBindingName("myapp"))
	require.NoError(t, err)
	payload, err := txn3.GetObject(id, false)
	require.NoError(t, err)
	major, minor, err := decodeHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, 1, major)
	assert.Equal(t, 3, minor)
}
