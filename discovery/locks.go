package discovery

import (
	"hash/fnv"
	"slices"
	"sync"
)

const lockStripes = 64

// keyLocks serializes writes to the same resource key across regions and jobs.
// Keys are hashed onto a fixed set of mutexes.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func stripe(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return int(h.Sum32() % lockStripes)
}

// lock acquires the stripes covering keys in ascending order and returns the
// function that releases them.
func (l *keyLocks) lock(keys []string) func() {
	idx := make([]int, 0, len(keys))

	for _, k := range keys {
		idx = append(idx, stripe(k))
	}

	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		l.stripes[i].Lock()
	}

	return func() {
		for _, i := range slices.Backward(idx) {
			l.stripes[i].Unlock()
		}
	}
}
