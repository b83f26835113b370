package evaluator

import (
	"sync"

	"github.com/wemcdonald/accessctl/pkg/docmodel"
)

// SessionCache is the per-document memo mapping session -> Evaluator
// instance. The spec describes this association as weak: it must not
// prolong session lifetime, and it is evicted wholesale on Rule Store
// rebuild. Go has no tracing-GC weak references, so this is rendered as
// an explicit side-table with an Evict hook for session close (reached
// through Engine.CloseSession), plus Clear for rule reload. There is no
// periodic sweep: an entry stays until Evict or Clear removes it.
type SessionCache struct {
	mu         sync.Mutex
	evaluators map[docmodel.SessionHandle]*Evaluator
}

// NewSessionCache returns an empty SessionCache.
func NewSessionCache() *SessionCache {
	return &SessionCache{evaluators: make(map[docmodel.SessionHandle]*Evaluator)}
}

// Get returns the cached Evaluator for session, if any.
func (c *SessionCache) Get(session docmodel.SessionHandle) (*Evaluator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.evaluators[session]
	return ev, ok
}

// Put installs ev as the cached Evaluator for session.
func (c *SessionCache) Put(session docmodel.SessionHandle, ev *Evaluator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluators[session] = ev
}

// Evict removes session's cached Evaluator. The session layer calls
// this on session close; the cache must never be the reason a session
// handle outlives its session.
func (c *SessionCache) Evict(session docmodel.SessionHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.evaluators, session)
}

// Clear evicts every cached Evaluator. Called after a Rule Store
// rebuild: every cached Evaluator holds memo entries keyed by the old
// index's *docmodel.RuleSet pointers, which the new index will never
// produce again, so keeping them around would only waste memory.
func (c *SessionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluators = make(map[docmodel.SessionHandle]*Evaluator)
}

// Len reports the number of cached evaluators, for tests.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evaluators)
}
