package licensing

import (
	"context"
	"sync"

	"github.com/ibero-data/modgate/internal/modules"
)

type OutcomeKind string

const (
	OutcomeLoading     OutcomeKind = "loading"
	OutcomeAllowed     OutcomeKind = "allowed"
	OutcomeUnavailable OutcomeKind = "unavailable"
)

// Outcome is what a protected view should render.
type Outcome struct {
	Kind       OutcomeKind    `json:"kind"`
	ModuleID   string         `json:"moduleId"`
	ModuleName string         `json:"moduleName,omitempty"`
	Reason     modules.Reason `json:"reason,omitempty"`
}

type guardKey struct {
	moduleID string
	version  uint64
	valid    bool
}

// Guard is the per-module access check behind protected routes. The last
// decision is reused until the module list or effective validity changes.
// A denial caused by a failing store read is never reused.
type Guard struct {
	manager  *Manager
	moduleID string

	mu     sync.Mutex
	key    guardKey
	cached *Outcome
}

func NewGuard(manager *Manager, moduleID string) *Guard {
	return &Guard{manager: manager, moduleID: moduleID}
}

func (g *Guard) ModuleID() string {
	return g.moduleID
}

// Evaluate reports loading while the module list is in flight, and otherwise
// the combined module and license decision.
func (g *Guard) Evaluate(ctx context.Context) Outcome {
	key, loading := g.manager.guardKey(g.moduleID)
	if loading {
		return Outcome{Kind: OutcomeLoading, ModuleID: g.moduleID}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached != nil && g.key == key {
		return *g.cached
	}

	d, transient := g.manager.access(ctx, g.moduleID)
	out := Outcome{Kind: OutcomeAllowed, ModuleID: g.moduleID}
	if !d.Access {
		out.Kind = OutcomeUnavailable
		out.Reason = d.Reason
		out.ModuleName = g.displayName()
	}
	if transient {
		g.cached = nil
		return out
	}
	g.key = key
	g.cached = &out
	return out
}

func (g *Guard) displayName() string {
	if mod, known, _ := g.manager.cachedModule(g.moduleID); known && mod.Name != "" {
		return mod.Name
	}
	return g.moduleID
}
