//go:build !unix

package filetx

import "sync"

// Without flock only writers inside this process are serialised.
var processLock sync.Mutex

func lock(string) (func(), error) {
	processLock.Lock()
	return processLock.Unlock, nil
}
