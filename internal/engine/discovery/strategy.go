// Package discovery locates a usable Docker daemon by trying a closed set of
// strategies in priority order.
package discovery

import (
	"context"

	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/thediveo/go-plugger/v3"
)

// Strategy is one self-contained method of locating a daemon endpoint.
type Strategy interface {
	// Name identifies the strategy in the registry and in persisted config.
	Name() string
	// Description embeds the paths or hosts the strategy looks at.
	Description() string
	// Priority orders strategies, higher first.
	Priority() int
	// Applicable is a cheap check without daemon I/O.
	Applicable(env *Environment) bool
	// Persistable reports whether a success may be remembered across runs.
	Persistable(env *Environment) bool
	// Test produces an endpoint and proves it answers a ping.
	Test(ctx context.Context, env *Environment) (daemon.Endpoint, error)
}

// Directive marks a strategy that expresses an explicit operator choice. An
// applicable directive is tried before everything else and is never
// reordered by priority or overridden by a persisted strategy.
type Directive interface {
	Strategy
	Directive()
}

// EnvDescriber is implemented by strategies whose target comes from the
// environment rather than from the strategy itself.
type EnvDescriber interface {
	DescribeFor(env *Environment) string
}

// Describe returns the description of s as seen from env.
func Describe(s Strategy, env *Environment) string {
	if d, ok := s.(EnvDescriber); ok && env != nil {
		return d.DescribeFor(env)
	}
	return s.Description()
}

// Register adds s to the strategy registry under its name.
func Register(s Strategy) {
	plugger.Group[Strategy]().Register(s, plugger.WithPlugin(s.Name()))
}

// Registered returns every registered strategy.
func Registered() []Strategy {
	return plugger.Group[Strategy]().Symbols()
}

// RegisteredNames returns the plugin names of the registered strategies.
func RegisteredNames() []string {
	return plugger.Group[Strategy]().Plugins()
}

// Lookup returns the strategy with the given name from strategies.
func Lookup(strategies []Strategy, name string) (Strategy, bool) {
	for _, s := range strategies {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}
