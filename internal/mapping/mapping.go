// Package mapping resolves a logical model name to its ordered fallback
// list of (provider, upstream_model) targets.
package mapping

import (
	"github.com/ccrouter/ccrouter/internal/config"
	"github.com/ccrouter/ccrouter/internal/rerr"
)

// Table is an immutable, priority-sorted view over config.Models ready for
// the dispatcher to walk. config.Load (internal/config) already sorts each
// ModelMapping's Mappings ascending by Priority, so Resolve just looks up
// and returns — no sorting happens here.
type Table struct {
	models map[string]config.ModelMapping
}

// New builds a Table from the models section of a loaded Config.
func New(models map[string]config.ModelMapping) *Table {
	return &Table{models: models}
}

// Resolve returns the ordered fallback targets for a logical model name.
// Returns rerr.Unknown if the name has no entry at all, rerr.NoProviders if
// the entry exists but lists zero targets.
func (t *Table) Resolve(logical string) ([]config.ModelTarget, error) {
	mm, ok := t.models[logical]
	if !ok {
		return nil, rerr.Unknown("no model mapping configured for " + logical)
	}
	if len(mm.Mappings) == 0 {
		return nil, rerr.NoProviders("model mapping " + logical + " has no provider targets")
	}
	return mm.Mappings, nil
}
