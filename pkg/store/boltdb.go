package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wwhitehead/reddwarf/pkg/log"
	"github.com/wwhitehead/reddwarf/pkg/metrics"
	"github.com/wwhitehead/reddwarf/pkg/scheduler"
	"github.com/wwhitehead/reddwarf/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketObjects  = []byte("objects")
	bucketBindings = []byte("bindings")
	bucketMeta     = []byte("meta")
	bucketClasses  = []byte("classes")
)

var keyNextID = []byte("next_object_id")

// BoltStore is the bbolt-backed Store implementation: a single-writer
// B+tree database holding object payloads and name bindings, guarded by
// an in-memory pessimistic lock manager for cross-transaction isolation
// beyond bbolt's own single-writer serialization.
type BoltStore struct {
	db     *bolt.DB
	locks  *lockManager
	logger zerolog.Logger
	sched  *scheduler.Scheduler

	mu           sync.Mutex
	open         bool
	shuttingDown bool
	active       map[string]*BoltTxn

	// classes catalog: shared, process-wide cache of already-committed
	// descriptor<->ID mappings (spec §5 "classes catalog cache is
	// shared across transactions; updates to it are themselves
	// transactional").
	catalogMu   sync.Mutex
	classCache  map[string]uint32
	classRev    map[uint32]string
	nextClassID uint32
}

// defaultLockWaitTimeout bounds how long a transaction blocks on a single
// contended lock before giving up with ErrTransactionConflict, used when
// NewBoltStore is called with a zero lockWaitTimeout.
const defaultLockWaitTimeout = 2 * time.Second

// NewBoltStore opens (creating if absent) a bbolt database under dataDir
// and registers its background lock-wait sweep with sched. lockWaitTimeout
// bounds how long a transaction blocks on a single contended lock before
// aborting with ErrTransactionConflict; zero selects defaultLockWaitTimeout.
func NewBoltStore(dataDir string, sched *scheduler.Scheduler, lockWaitTimeout time.Duration) (*BoltStore, error) {
	if lockWaitTimeout <= 0 {
		lockWaitTimeout = defaultLockWaitTimeout
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	dbPath := filepath.Join(dataDir, "darkstar.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketObjects, bucketBindings, bucketMeta, bucketClasses} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{
		db:         db,
		locks:      newLockManager(lockWaitTimeout),
		logger:     log.WithComponent("store"),
		sched:      sched,
		open:       true,
		active:     make(map[string]*BoltTxn),
		classCache: make(map[string]uint32),
		classRev:   make(map[uint32]string),
		nextClassID: 1,
	}

	if err := s.loadClasses(); err != nil {
		db.Close()
		return nil, err
	}

	sched.ScheduleRecurring("lock-wait-sweep", func() {
		s.locks.sweepExpired(time.Now())
	}, 50*time.Millisecond)

	return s, nil
}

// loadClasses populates the in-memory catalog cache from bbolt and
// derives the next unused class ID from the highest one persisted.
func (s *BoltStore) loadClasses() error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketClasses).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			id := binary.BigEndian.Uint32(v)
			descriptor := string(k)
			s.classCache[descriptor] = id
			s.classRev[id] = descriptor
			if id >= s.nextClassID {
				s.nextClassID = id + 1
			}
		}
		return nil
	})
}

// IsOpen reports whether the store accepts new transactions.
func (s *BoltStore) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && !s.shuttingDown
}

// Begin registers a new transaction with the given deadline.
func (s *BoltStore) Begin(deadline time.Time) (Txn, error) {
	s.mu.Lock()
	if !s.open || s.shuttingDown {
		s.mu.Unlock()
		return nil, types.ErrServiceShuttingDown
	}
	id := uuid.NewString()
	txn := &BoltTxn{
		store:       s,
		id:          id,
		deadline:    deadline,
		objPuts:     make(map[types.ObjectID][]byte),
		objRemoves:  make(map[types.ObjectID]bool),
		bindPuts:    make(map[string]types.ObjectID),
		bindRemoves: make(map[string]bool),
		classPuts:   make(map[string]uint32),
		logger:      s.logger.With().Str("txn_id", id).Logger(),
	}
	s.active[id] = txn
	s.mu.Unlock()

	s.locks.register(id, deadline)
	metrics.ActiveTransactions.Inc()
	txn.logger.Trace().Msg("transaction begun")
	return txn, nil
}

func (s *BoltStore) untrack(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	metrics.ActiveTransactions.Dec()
}

// Shutdown blocks new Begins and waits for in-flight transactions to
// settle. It returns false without closing the database if ctx is done
// first (spec §6 "thread interruption ... returns false without
// altering state").
func (s *BoltStore) Shutdown(ctx context.Context) bool {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return false
	}
	s.shuttingDown = true
	s.mu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		remaining := len(s.active)
		s.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.shuttingDown = false
			s.mu.Unlock()
			return false
		case <-ticker.C:
		}
	}

	s.mu.Lock()
	s.open = false
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		s.logger.Error().Err(err).Msg("error closing database during shutdown")
		return false
	}
	return true
}

func encodeID(id types.ObjectID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeID(b []byte) types.ObjectID {
	return types.ObjectID(binary.BigEndian.Uint64(b))
}

// BoltTxn is the Txn implementation backing BoltStore. Writes are
// buffered in memory and flushed to bbolt in a single Update
// transaction at Prepare; Commit only releases locks, since bbolt's
// Update already gives us atomic, durable writes by the time Prepare
// returns.
type BoltTxn struct {
	store    *BoltStore
	id       string
	deadline time.Time
	logger   zerolog.Logger

	mu          sync.Mutex
	objPuts     map[types.ObjectID][]byte
	objRemoves  map[types.ObjectID]bool
	bindPuts    map[string]types.ObjectID
	bindRemoves map[string]bool
	classPuts   map[string]uint32
	prepared    bool
	readOnly    bool
	done        bool
}

func (t *BoltTxn) ID() string { return t.id }

// AllocateID durably increments the store-wide counter immediately, so
// the ID is never reused even if this transaction later aborts.
func (t *BoltTxn) AllocateID() (types.ObjectID, error) {
	if err := t.store.locks.checkActive(t.id); err != nil {
		return types.InvalidObjectID, err
	}

	var id types.ObjectID
	err := t.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		next := uint64(1)
		if cur := b.Get(keyNextID); cur != nil {
			next = binary.BigEndian.Uint64(cur)
		}
		id = types.ObjectID(next)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next+1)
		return b.Put(keyNextID, buf)
	})
	if err != nil {
		return types.InvalidObjectID, fmt.Errorf("%w: %v", types.ErrStorageCorrupt, err)
	}
	return id, nil
}

func (t *BoltTxn) GetObject(id types.ObjectID, forUpdate bool) ([]byte, error) {
	if err := t.store.locks.acquire(t.id, objectKey(id), forUpdate); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.objRemoves[id] {
		return nil, types.ErrObjectNotFound
	}
	if payload, ok := t.objPuts[id]; ok {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}

	var payload []byte
	err := t.store.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketObjects).Get(encodeID(id))
		if data == nil {
			return types.ErrObjectNotFound
		}
		payload = make([]byte, len(data))
		copy(payload, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (t *BoltTxn) PutObject(id types.ObjectID, payload []byte) error {
	if err := t.store.locks.acquire(t.id, objectKey(id), true); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	t.objPuts[id] = buf
	delete(t.objRemoves, id)
	return nil
}

func (t *BoltTxn) RemoveObject(id types.ObjectID) error {
	if err := t.store.locks.acquire(t.id, objectKey(id), true); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objRemoves[id] = true
	delete(t.objPuts, id)
	return nil
}

func (t *BoltTxn) SetBinding(name string, id types.ObjectID) error {
	if err := t.store.locks.acquire(t.id, bindingKey(name), true); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindPuts[name] = id
	delete(t.bindRemoves, name)
	return nil
}

func (t *BoltTxn) GetBinding(name string) (types.ObjectID, error) {
	if err := t.store.locks.acquire(t.id, bindingKey(name), false); err != nil {
		return types.InvalidObjectID, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bindRemoves[name] {
		return types.InvalidObjectID, types.ErrNameNotBound
	}
	if id, ok := t.bindPuts[name]; ok {
		return id, nil
	}

	var id types.ObjectID
	var found bool
	err := t.store.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBindings).Get([]byte(name))
		if data == nil {
			return nil
		}
		id = decodeID(data)
		found = true
		return nil
	})
	if err != nil {
		return types.InvalidObjectID, err
	}
	if !found {
		return types.InvalidObjectID, types.ErrNameNotBound
	}
	return id, nil
}

func (t *BoltTxn) RemoveBinding(name string) error {
	if _, err := t.GetBinding(name); err != nil {
		return err
	}
	if err := t.store.locks.acquire(t.id, bindingKey(name), true); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindRemoves[name] = true
	delete(t.bindPuts, name)
	return nil
}

// NextBoundName merges this transaction's buffered binding changes with
// bbolt's committed state to find the least bound name strictly greater
// than name.
func (t *BoltTxn) NextBoundName(name string) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var next string
	var found bool
	err := t.store.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBindings).Cursor()
		for k, _ := c.Seek([]byte(name)); k != nil; k, _ = c.Next() {
			key := string(k)
			if key == name || t.bindRemoves[key] {
				continue
			}
			next = key
			found = true
			break
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}

	for k := range t.bindPuts {
		if k <= name {
			continue
		}
		if !found || k < next {
			next = k
			found = true
		}
	}

	return next, found, nil
}

// RegisterClass returns the small integer ID for descriptor, assigning
// a new one on first encounter. The assignment is buffered like any
// other write: it only becomes visible to other transactions if this
// one commits (spec §4.2 "new class IDs survive rollback iff the
// enclosing transaction commits").
func (t *BoltTxn) RegisterClass(descriptor string) (uint32, error) {
	if err := t.store.locks.checkActive(t.id); err != nil {
		return 0, err
	}

	t.store.catalogMu.Lock()
	if id, ok := t.store.classCache[descriptor]; ok {
		t.store.catalogMu.Unlock()
		return id, nil
	}

	t.mu.Lock()
	if id, ok := t.classPuts[descriptor]; ok {
		t.mu.Unlock()
		t.store.catalogMu.Unlock()
		return id, nil
	}
	id := t.store.nextClassID
	t.store.nextClassID++
	t.classPuts[descriptor] = id
	t.mu.Unlock()
	t.store.catalogMu.Unlock()

	t.logger.Trace().Str("descriptor", descriptor).Uint32("class_id", id).Msg("class registered")
	return id, nil
}

// ClassDescriptor is the reverse lookup. It is strict: an ID that is
// neither in the committed catalog (loaded at open or committed since)
// nor pending in this same transaction is a fatal serialization-format
// error, never a retry.
func (t *BoltTxn) ClassDescriptor(id uint32) (string, error) {
	t.store.catalogMu.Lock()
	if descriptor, ok := t.store.classRev[id]; ok {
		t.store.catalogMu.Unlock()
		return descriptor, nil
	}
	t.store.catalogMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	for descriptor, cid := range t.classPuts {
		if cid == id {
			return descriptor, nil
		}
	}
	return "", types.ErrSerializationFormat
}

// Prepare flushes buffered object and binding writes in a single bbolt
// transaction. bbolt's Update already commits durably, so Commit for
// this store is purely a lock-release operation.
func (t *BoltTxn) Prepare() (PrepareOutcome, error) {
	if err := t.store.locks.checkActive(t.id); err != nil {
		return 0, err
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PrepareDuration)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.prepared {
		return 0, errors.New("store: prepare called twice")
	}

	if len(t.objPuts) == 0 && len(t.objRemoves) == 0 && len(t.bindPuts) == 0 && len(t.bindRemoves) == 0 && len(t.classPuts) == 0 {
		t.readOnly = true
		t.prepared = true
		metrics.TransactionReadOnly.Inc()
		t.logger.Trace().Msg("prepare: read_only")
		return PrepareReadOnly, nil
	}

	err := t.store.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		for id, payload := range t.objPuts {
			if err := objects.Put(encodeID(id), payload); err != nil {
				return err
			}
		}
		for id := range t.objRemoves {
			if err := objects.Delete(encodeID(id)); err != nil {
				return err
			}
		}

		bindings := tx.Bucket(bucketBindings)
		for name, id := range t.bindPuts {
			if err := bindings.Put([]byte(name), encodeID(id)); err != nil {
				return err
			}
		}
		for name := range t.bindRemoves {
			if err := bindings.Delete([]byte(name)); err != nil {
				return err
			}
		}

		classes := tx.Bucket(bucketClasses)
		for descriptor, id := range t.classPuts {
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, id)
			if err := classes.Put([]byte(descriptor), buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("prepare: flush failed")
		return 0, fmt.Errorf("%w: %v", types.ErrStorageCorrupt, err)
	}

	t.prepared = true
	t.logger.Trace().Msg("prepare: prepared")
	return PreparePrepared, nil
}

// Commit releases this transaction's locks. Prepare must have run
// first; calling Commit on a read_only transaction is a no-op beyond
// releasing locks, matching invariant 5 (commit is idempotent on a
// read-only transaction is satisfied trivially since nothing durable
// remains to apply).
func (t *BoltTxn) Commit() error {
	t.mu.Lock()
	if t.done {
		readOnly := t.readOnly
		t.mu.Unlock()
		if readOnly {
			return nil
		}
		return types.ErrTransactionNotActive
	}
	if !t.prepared {
		t.mu.Unlock()
		return errors.New("store: commit called before prepare")
	}
	t.done = true
	classPuts := t.classPuts
	t.mu.Unlock()

	if len(classPuts) > 0 {
		t.store.catalogMu.Lock()
		for descriptor, id := range classPuts {
			t.store.classCache[descriptor] = id
			t.store.classRev[id] = descriptor
		}
		t.store.catalogMu.Unlock()
		metrics.ClassesRegistered.Add(float64(len(classPuts)))
	}

	timer := metrics.NewTimer()
	t.store.locks.release(t.id)
	t.store.locks.forget(t.id)
	t.store.untrack(t.id)
	timer.ObserveDuration(metrics.CommitDuration)
	metrics.TransactionsCommitted.Inc()
	t.logger.Trace().Msg("commit")
	return nil
}

// Abort discards buffered writes and releases locks. Safe whether or
// not Prepare ran.
func (t *BoltTxn) Abort() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.mu.Unlock()

	t.store.locks.release(t.id)
	t.store.locks.forget(t.id)
	t.store.untrack(t.id)
	t.logger.Trace().Msg("abort")
	return nil
}
