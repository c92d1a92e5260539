package queue

import "sync"

// keyedMutex serializes work per queue id while leaving different queues
// free to run concurrently. Mutexes are never dropped, not even for deleted
// queues: goroutines may still be waiting on them and sqlite can hand the id
// out again.
type keyedMutex struct {
	locks sync.Map // queueID -> *sync.Mutex
}

func (k *keyedMutex) lock(queueID uint) func() {
	v, _ := k.locks.LoadOrStore(queueID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
