//go:build !unix

package session

import "sync"

// Without flock only same-process callers are serialized.
var locks sync.Map

func lockPath(path string, _ bool) (func(), error) {
	v, _ := locks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}
