package store

import (
	"sync"
	"time"

	"github.com/wwhitehead/reddwarf/pkg/metrics"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

// resourceKey identifies a lockable unit: either an object ID or a
// binding name. Both share one lock manager so writes to objects and
// bindings within the same transaction serialize against each other
// the same way.
type resourceKey struct {
	object types.ObjectID
	name   string
	isName bool
}

func objectKey(id types.ObjectID) resourceKey { return resourceKey{object: id} }
func bindingKey(name string) resourceKey      { return resourceKey{name: name, isName: true} }

type lockState struct {
	readers map[string]bool
	writer  string
}

type txnLockInfo struct {
	id       string
	seq      uint64
	deadline time.Time
	aborted  bool
	abortErr error
}

// lockManager implements pessimistic per-resource locking with deadlock
// detection by cycle analysis of a wait-for graph, per spec §4.1/§5:
// on a cycle, the youngest transaction (highest seq) is aborted with
// ErrDeadlockVictim.
type lockManager struct {
	mu   sync.Mutex
	cond *sync.Cond

	locks           map[resourceKey]*lockState
	waiting         map[string]map[string]bool // txnID -> set of txnIDs it waits on
	txns            map[string]*txnLockInfo
	nextSeq         uint64
	lockWaitTimeout time.Duration
}

// newLockManager builds a lock manager. lockWaitTimeout bounds how long a
// transaction will block on a single lock request before giving up with
// ErrTransactionConflict (spec §4.1: plain contention between two
// transactions need not form a wait-for cycle to be a conflict). It is
// distinct from a transaction's overall deadline, which aborts with
// ErrTransactionTimeout instead, and from cycle detection, which aborts
// the youngest cycle member with ErrDeadlockVictim immediately.
func newLockManager(lockWaitTimeout time.Duration) *lockManager {
	lm := &lockManager{
		locks:           make(map[resourceKey]*lockState),
		waiting:         make(map[string]map[string]bool),
		txns:            make(map[string]*txnLockInfo),
		lockWaitTimeout: lockWaitTimeout,
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

func (lm *lockManager) register(txnID string, deadline time.Time) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.nextSeq++
	lm.txns[txnID] = &txnLockInfo{id: txnID, seq: lm.nextSeq, deadline: deadline}
}

// forget removes all bookkeeping for txnID. Call after releasing its
// locks at commit/abort.
func (lm *lockManager) forget(txnID string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.txns, txnID)
	delete(lm.waiting, txnID)
}

// checkActive returns nil if txnID is registered, not aborted, and not
// past its deadline; otherwise it aborts the transaction (if it had not
// already been) and returns the reason.
func (lm *lockManager) checkActive(txnID string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	info := lm.txns[txnID]
	if info == nil {
		return types.ErrTransactionNotActive
	}
	if info.aborted {
		return info.abortErr
	}
	if !info.deadline.IsZero() && time.Now().After(info.deadline) {
		lm.abortLocked(txnID, types.ErrTransactionTimeout)
		return types.ErrTransactionTimeout
	}
	return nil
}

// acquire blocks until txnID holds the requested lock on key, or
// returns an error if the transaction times out or is chosen as a
// deadlock victim while waiting.
func (lm *lockManager) acquire(txnID string, key resourceKey, forWrite bool) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var waitSince time.Time

	for {
		info := lm.txns[txnID]
		if info == nil {
			return types.ErrTransactionNotActive
		}
		if info.aborted {
			return info.abortErr
		}
		if !info.deadline.IsZero() && time.Now().After(info.deadline) {
			lm.abortLocked(txnID, types.ErrTransactionTimeout)
			return types.ErrTransactionTimeout
		}

		state := lm.locks[key]
		if state == nil {
			state = &lockState{readers: make(map[string]bool)}
			lm.locks[key] = state
		}

		if lm.grant(state, txnID, forWrite) {
			delete(lm.waiting, txnID)
			return nil
		}

		blockers := lm.blockersFor(state, txnID)
		lm.waiting[txnID] = blockers

		if victim, ok := lm.findCycle(txnID); ok {
			metrics.DeadlocksDetected.Inc()
			lm.abortLocked(victim, types.ErrDeadlockVictim)
			if victim == txnID {
				return types.ErrDeadlockVictim
			}
			continue
		}

		if waitSince.IsZero() {
			waitSince = time.Now()
		} else if lm.lockWaitTimeout > 0 && time.Since(waitSince) >= lm.lockWaitTimeout {
			lm.abortLocked(txnID, types.ErrTransactionConflict)
			return types.ErrTransactionConflict
		}

		metrics.LockWaits.Inc()
		lm.cond.Wait()
	}
}

// grant attempts to grant the lock immediately, mutating state on
// success.
func (lm *lockManager) grant(state *lockState, txnID string, forWrite bool) bool {
	if forWrite {
		if state.writer == txnID {
			return true
		}
		if state.writer != "" {
			return false
		}
		for reader := range state.readers {
			if reader != txnID {
				return false
			}
		}
		state.writer = txnID
		delete(state.readers, txnID)
		return true
	}

	if state.writer == "" || state.writer == txnID {
		state.readers[txnID] = true
		return true
	}
	return false
}

// blockersFor returns the set of transactions currently holding a lock
// that conflicts with txnID's request.
func (lm *lockManager) blockersFor(state *lockState, txnID string) map[string]bool {
	blockers := make(map[string]bool)
	if state.writer != "" && state.writer != txnID {
		blockers[state.writer] = true
	}
	for reader := range state.readers {
		if reader != txnID {
			blockers[reader] = true
		}
	}
	return blockers
}

// findCycle runs a DFS from start over the wait-for graph. If a cycle
// is found, it returns the transaction with the highest seq (the
// youngest) among the cycle's members.
func (lm *lockManager) findCycle(start string) (string, bool) {
	var path []string
	onPath := make(map[string]int)

	var visit func(node string) (string, bool)
	visit = func(node string) (string, bool) {
		if idx, seen := onPath[node]; seen {
			cycle := path[idx:]
			youngest := cycle[0]
			for _, member := range cycle[1:] {
				if info := lm.txns[member]; info != nil {
					if yi := lm.txns[youngest]; yi == nil || info.seq > yi.seq {
						youngest = member
					}
				}
			}
			return youngest, true
		}

		onPath[node] = len(path)
		path = append(path, node)
		defer func() {
			delete(onPath, node)
			path = path[:len(path)-1]
		}()

		for next := range lm.waiting[node] {
			if victim, found := visit(next); found {
				return victim, true
			}
		}
		return "", false
	}

	return visit(start)
}

// abortLocked marks txnID aborted, releases every lock it holds, and
// wakes waiters. Caller must hold lm.mu.
func (lm *lockManager) abortLocked(txnID string, cause error) {
	info := lm.txns[txnID]
	if info == nil || info.aborted {
		return
	}
	info.aborted = true
	info.abortErr = cause
	lm.releaseLocked(txnID)
	delete(lm.waiting, txnID)
	lm.cond.Broadcast()
	metrics.TransactionsAborted.WithLabelValues(types.ErrorKind(cause).String()).Inc()
}

// release drops every lock txnID holds and wakes waiters. Call at
// commit or abort.
func (lm *lockManager) release(txnID string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.releaseLocked(txnID)
	lm.cond.Broadcast()
}

// sweepExpired aborts any transaction whose deadline has passed, even
// if it is not currently blocked waiting on a lock. Intended to be
// called periodically by the store's scheduler.
func (lm *lockManager) sweepExpired(now time.Time) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for id, info := range lm.txns {
		if !info.aborted && !info.deadline.IsZero() && now.After(info.deadline) {
			lm.abortLocked(id, types.ErrTransactionTimeout)
		}
	}
	// Nudge every blocked acquire() to re-check its own lock-wait budget
	// even when no lock state actually changed.
	lm.cond.Broadcast()
}

func (lm *lockManager) releaseLocked(txnID string) {
	for key, state := range lm.locks {
		if state.writer == txnID {
			state.writer = ""
		}
		delete(state.readers, txnID)
		if state.writer == "" && len(state.readers) == 0 {
			delete(lm.locks, key)
		}
	}
}
