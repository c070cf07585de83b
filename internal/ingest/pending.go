package ingest

import "sync"

// pendingSet holds paths waiting on the readiness gate, so repeated events
// for a file still being written start only one gate.
type pendingSet struct {
	paths map[string]struct{}
	mutex sync.Mutex
}

func newPendingSet() *pendingSet {
	return &pendingSet{paths: make(map[string]struct{})}
}

func (p *pendingSet) add(path string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if _, exists := p.paths[path]; exists {
		return false
	}
	p.paths[path] = struct{}{}
	return true
}

func (p *pendingSet) remove(path string) {
	p.mutex.Lock()
	delete(p.paths, path)
	p.mutex.Unlock()
}

func (p *pendingSet) len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.paths)
}
