// Package manager holds the built-in managers a session drives
package manager

import (
	"github.com/Mmx233/QFarm/config"
	"github.com/Mmx233/QFarm/session"
)

// Build returns a fresh manager set for one session
func Build(pollers []config.Poller) ([]session.Manager, error) {
	managers := []session.Manager{NewStateReporter()}
	for _, cfg := range pollers {
		p, err := NewPoller(cfg)
		if err != nil {
			return nil, err
		}
		managers = append(managers, p)
	}
	return managers, nil
}
