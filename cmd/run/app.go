package run

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Mmx233/QFarm/client"
	"github.com/Mmx233/QFarm/config"
	"github.com/Mmx233/QFarm/credential"
	"github.com/Mmx233/QFarm/manager"
	"github.com/Mmx233/QFarm/session"
	"github.com/Mmx233/QFarm/tools"
	"github.com/Mmx233/QFarm/transport"
	"github.com/rs/zerolog"
)

var errNoCode = errors.New("no login code configured or cached")

// clientApp wires the config to one session per account
type clientApp struct {
	cfg      *config.Client
	dialer   transport.Dialer
	store    *credential.Store // nil without credential_file
	registry *session.Registry
	logger   zerolog.Logger

	// empty is closed once the last session gave up reconnecting
	empty     chan struct{}
	emptyOnce sync.Once
}

func newClientApp(cfg *config.Client, dialer transport.Dialer, logger zerolog.Logger) (*clientApp, error) {
	// Fail on bad pollers before any account connects.
	if _, err := manager.Build(cfg.Pollers); err != nil {
		return nil, err
	}
	a := &clientApp{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With().Str("com", "client-app").Logger(),
		empty:  make(chan struct{}),
	}
	if cfg.CredentialFile != "" {
		a.store = credential.NewStore(cfg.CredentialFile)
	}
	a.registry = session.NewRegistry(a.newSession, logger)
	a.registry.OnEvict = func(s *session.Session) {
		if a.registry.Len() == 0 {
			a.logger.Warn().Msg("no accounts left running")
			a.emptyOnce.Do(func() { close(a.empty) })
		}
	}
	return a, nil
}

func newDialer(cfg *config.Client) transport.Dialer {
	return transport.NewDialer(
		&transport.WebSocketDialer{},
		&transport.QUICDialer{
			TLSConfig:  cfg.TLS.Config(),
			QUICConfig: cfg.Quic.GetConfig(),
			Sessions:   transport.NewSessionCacheManager(),
		},
	)
}

func (a *clientApp) newSession(id string, spec session.AccountSpec, onFailed func(string)) *session.Session {
	acc, _ := a.cfg.Account(spec.Name)
	conn := client.New(client.Options{
		Name:              spec.Name,
		URL:               a.cfg.Server.URL,
		Platform:          acc.Platform,
		OS:                a.cfg.Server.OS,
		ClientVersion:     a.cfg.Server.ClientVersion,
		DeviceInfo:        a.cfg.DeviceInfo,
		HeartbeatInterval: a.cfg.HeartbeatInterval,
		LivenessTimeout:   a.cfg.LivenessTimeout,
		RequestTimeout:    a.cfg.RequestTimeout,
		Dialer:            a.dialer,
	}, a.logger)
	// Validated in newClientApp.
	managers, _ := manager.Build(a.cfg.Pollers)

	return session.New(id, conn, managers, session.Options{
		Name:              spec.Name,
		Account:           spec.Config,
		ReconnectAttempts: a.cfg.Reconnect.Attempts,
		ReconnectDelay:    a.cfg.Reconnect.Delay,
		OnReconnectFailed: onFailed,
	}, a.logger)
}

// credentialFor picks the code from the environment or the config,
// falling back to the cache. cached reports the fallback.
func (a *clientApp) credentialFor(acc config.Account) (cred client.Credential, cached bool, err error) {
	if code := tools.Getenv(tools.AccountCodeKey(acc.Name), acc.Code); code != "" {
		return client.Credential{Code: code}, false, nil
	}
	if a.store == nil {
		return client.Credential{}, false, errNoCode
	}
	rec, err := a.store.Load(acc.Platform)
	if errors.Is(err, credential.ErrNotFound) {
		return client.Credential{}, false, errNoCode
	}
	if err != nil {
		return client.Credential{}, false, err
	}
	return client.Credential{Code: rec.Code}, true, nil
}

// startAccounts starts every configured account and returns how many run.
// A failing account is logged and skipped.
func (a *clientApp) startAccounts(ctx context.Context) int {
	started := 0
	for _, acc := range a.cfg.Accounts {
		logger := a.logger.With().Str("account", acc.Name).Logger()

		cred, cached, err := a.credentialFor(acc)
		if err != nil {
			logger.Error().Err(err).Msg("account skipped")
			continue
		}

		_, err = a.registry.AddAccount(ctx, session.AccountSpec{Name: acc.Name, Credential: cred, Config: acc.Config})
		if err != nil {
			logger.Error().Err(err).Msg("account failed to start")
			if cached {
				if err := a.store.Clear(acc.Platform); err != nil {
					logger.Warn().Err(err).Msg("clear cached code failed")
				} else {
					logger.Info().Msg("cached code cleared")
				}
			}
			continue
		}
		started++

		if a.store != nil && !cached {
			if err := a.store.Save(acc.Platform, cred.Code); err != nil {
				logger.Warn().Err(err).Msg("cache code failed")
			}
		}
	}
	return started
}

// applyPatch forwards a reloaded account config to its running session
func (a *clientApp) applyPatch(name string, patch config.AccountPatch) {
	s, ok := a.registry.FindByName(name)
	if !ok {
		a.logger.Debug().Str("account", name).Msg("config changed for an account that is not running")
		return
	}
	if _, err := s.UpdateAccountConfig(patch); err != nil {
		a.logger.Error().Err(err).Str("account", name).Msg("apply account config failed")
	}
}

func (a *clientApp) stop() {
	a.registry.StopAll()
}

func (a *clientApp) String() string {
	return fmt.Sprintf("%d/%d accounts", a.registry.Len(), len(a.cfg.Accounts))
}
