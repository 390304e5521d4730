package resilience

import (
	"context"

	"github.com/MrWong99/ocepa/internal/insight"
)

// Backend names an [insight.Completer] for logging and breaker state.
type Backend struct {
	Name      string
	Completer insight.Completer
}

// Completer is an [insight.Completer] that fails over between backends.
type Completer struct {
	group *Group[insight.Completer]
}

var _ insight.Completer = (*Completer)(nil)

// NewCompleter returns a Completer trying backends in order. Passing a single
// backend still puts it behind a breaker, so a provider outage costs one
// fast error per transcript line instead of one timeout.
func NewCompleter(cfg BreakerConfig, backends ...Backend) *Completer {
	g := NewGroup[insight.Completer](cfg)
	for _, b := range backends {
		g.Add(b.Name, b.Completer)
	}
	return &Completer{group: g}
}

// Complete implements [insight.Completer].
func (c *Completer) Complete(ctx context.Context, system, user string) (string, error) {
	return Try(ctx, c.group, func(ctx context.Context, llm insight.Completer) (string, error) {
		return llm.Complete(ctx, system, user)
	})
}

// States reports each backend's breaker state.
func (c *Completer) States() map[string]State { return c.group.States() }
