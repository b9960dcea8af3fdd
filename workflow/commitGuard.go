package workflow

import "sync"

// commitGuard serializes commits per invoice id within this process. The
// redis lock covers other replicas; this covers goroutines sharing one
// engine without a round trip.
type commitGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newCommitGuard() *commitGuard {
	return &commitGuard{inFlight: make(map[string]struct{})}
}

// acquire reports whether the caller now owns the in-flight slot for the
// invoice. A false return means another commit is already running.
func (g *commitGuard) acquire(invoiceId string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[invoiceId]; busy {
		return false
	}
	g.inFlight[invoiceId] = struct{}{}
	return true
}

func (g *commitGuard) release(invoiceId string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, invoiceId)
}
