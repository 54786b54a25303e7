/*
locks.go - Per-key advisory locks for the commit path

PURPOSE:
  Serializes admission check + write + recalculation for one balance key.
  Two concurrent consignations on the same (client, site) must not both
  read the same balance and both pass; operations on different keys must
  not block each other.

SEE ALSO:
  - service.go: Acquires the key lock around every write sequence
*/
package consigne

import "sync"

// keyLocks hands out one mutex per balance key. Mutexes are created on
// first use and kept for the process lifetime; the key space (clients ×
// sites) is small enough that no eviction is needed.
type keyLocks struct {
	locks sync.Map // BalanceKey → *sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{}
}

// acquire locks the mutex for key and returns its unlock function.
func (k *keyLocks) acquire(key BalanceKey) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
