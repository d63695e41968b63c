package sync

import (
	"hash/fnv"
	"sync"
)

// stripedLocks serializes merge-and-apply per record id. The push
// subscription, the pollers, and local writes can all touch the same record
// concurrently; striping keeps the lock table fixed-size instead of growing
// with the id space.
type stripedLocks struct {
	stripes []sync.Mutex
}

func newStripedLocks(n int) *stripedLocks {
	return &stripedLocks{stripes: make([]sync.Mutex, n)}
}

func (l *stripedLocks) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
