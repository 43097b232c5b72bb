package manager

import (
	"sync"

	"github.com/Mmx233/QFarm/client"
	"github.com/Mmx233/QFarm/metrics"
	"github.com/Mmx233/QFarm/session"
	"github.com/dustin/go-humanize"
)

// StateReporter mirrors the player summary into logs and gauges
type StateReporter struct {
	mu       sync.Mutex
	last     client.UserState
	levelUps int
}

func NewStateReporter() *StateReporter {
	return &StateReporter{}
}

func (r *StateReporter) Name() string {
	return "state"
}

func (r *StateReporter) Start(env session.Env) error {
	logger := env.Logger.With().Str("manager", r.Name()).Logger()
	r.publish(env.Account, func(u *client.UserState) { *u = env.Conn.UserState() })

	env.On(client.EventLogin, func(ev client.Event) {
		r.publish(env.Account, func(u *client.UserState) { *u = ev.(client.LoginEvent).User })
	})
	env.On(client.EventStateChanged, func(ev client.Event) {
		r.publish(env.Account, func(u *client.UserState) { *u = ev.(client.StateChangedEvent).User })
	})
	env.On(client.EventGoldChanged, func(ev client.Event) {
		gold := ev.(client.GoldChangedEvent).Gold
		u := r.publish(env.Account, func(u *client.UserState) { u.Gold = gold })
		logger.Debug().Str("gold", humanize.Comma(u.Gold)).Msg("gold changed")
	})
	env.On(client.EventExpChanged, func(ev client.Event) {
		exp := ev.(client.ExpChangedEvent).Exp
		r.publish(env.Account, func(u *client.UserState) { u.Exp = exp })
	})
	env.On(client.EventLevelUp, func(ev client.Event) {
		e := ev.(client.LevelUpEvent)
		u := r.publish(env.Account, func(u *client.UserState) { u.Level = e.NewLevel })
		r.mu.Lock()
		r.levelUps++
		r.mu.Unlock()
		logger.Info().
			Int64("from", e.OldLevel).
			Int64("to", e.NewLevel).
			Str("gold", humanize.Comma(u.Gold)).
			Str("exp", humanize.Comma(u.Exp)).
			Msg("level up")
	})
	return nil
}

func (r *StateReporter) Stop() {}

func (r *StateReporter) publish(account string, update func(u *client.UserState)) client.UserState {
	r.mu.Lock()
	update(&r.last)
	u := r.last
	r.mu.Unlock()

	metrics.SetUser(account, u.Level, u.Gold, u.Exp)
	return u
}

// Last returns the most recent summary seen
func (r *StateReporter) Last() client.UserState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// LevelUps counts level-ups observed since creation
func (r *StateReporter) LevelUps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levelUps
}
