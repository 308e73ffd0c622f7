package app

import (
	"github.com/nfrund/relay/internal/module"
	"github.com/nfrund/relay/internal/modules/history"
	"github.com/nfrund/relay/internal/modules/relay"
)

// NewModules creates and returns the list of all active modules for the application.
// This is the single source of truth for which features are enabled.
func NewModules() []module.Module {
	return []module.Module{
		// Add new application modules here.
		relay.New(),
		history.New(),
	}
}
