package htlc

import "sync"

// CreationGate restricts which callers may invoke escrow creation. A nil gate
// leaves creation open. The gate carries no domain logic; every transition
// rule lives in the engine.
type CreationGate struct {
	mu      sync.RWMutex
	allowed map[[20]byte]struct{}
}

// NewCreationGate builds a gate admitting exactly the supplied factory
// addresses.
func NewCreationGate(factories ...[20]byte) *CreationGate {
	gate := &CreationGate{allowed: make(map[[20]byte]struct{}, len(factories))}
	for _, addr := range factories {
		gate.allowed[addr] = struct{}{}
	}
	return gate
}

// Allow admits an additional factory address.
func (g *CreationGate) Allow(addr [20]byte) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed[addr] = struct{}{}
}

// Revoke removes a factory address from the gate.
func (g *CreationGate) Revoke(addr [20]byte) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.allowed, addr)
}

// Allows reports whether the caller may create escrows. A nil gate admits
// every caller.
func (g *CreationGate) Allows(caller [20]byte) bool {
	if g == nil {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.allowed[caller]
	return ok
}
