package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mmx233/QFarm/client"
	"github.com/Mmx233/QFarm/config"
	"github.com/Mmx233/QFarm/metrics"
	"github.com/Mmx233/QFarm/scheduler"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

var (
	ErrStopped        = errors.New("session stopped")
	ErrAlreadyStarted = errors.New("session already started")
)

// Options configures a Session
type Options struct {
	// Name is the account label used in logs and metrics
	Name    string
	Account config.AccountConfig

	ReconnectAttempts int           // default 3
	ReconnectDelay    time.Duration // default 3s, waited before every attempt

	// OnReconnectFailed is invoked once when the reconnect budget is exhausted
	OnReconnectFailed func(id string)

	// Scheduler options; Name and Settings are filled in by the session
	Scheduler scheduler.Options
}

func (o *Options) applyDefaults() {
	if o.ReconnectAttempts == 0 {
		o.ReconnectAttempts = config.DefaultReconnectAttempts
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = config.DefaultReconnectDelay
	}
}

// Session owns one account: its connection, scheduler and managers, and
// recovers from socket loss with a bounded number of reconnects.
type Session struct {
	id       string
	opts     Options
	conn     Conn
	managers []Manager
	sched    *scheduler.Scheduler
	logger   zerolog.Logger

	ctx    context.Context // cancelled by Stop
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	account config.AccountConfig
	cred    client.Credential

	// lifecycle serializes activate and deactivate
	lifecycle sync.Mutex
	active    bool
	listeners *listeners

	supervisor sync.WaitGroup
	stopOnce   sync.Once
	failOnce   sync.Once
}

// New creates a disconnected session
func New(id string, conn Conn, managers []Manager, opts Options, logger zerolog.Logger) *Session {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:        id,
		opts:      opts,
		conn:      conn,
		managers:  managers,
		logger:    logger.With().Str("com", "session").Str("account", opts.Name).Str("id", id).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		account:   opts.Account,
		listeners: &listeners{conn: conn},
	}

	schedOpts := opts.Scheduler
	schedOpts.Name = opts.Name
	schedOpts.Settings = s.schedulerSettings
	s.sched = scheduler.New(schedOpts, logger)

	metrics.SetSessionState(opts.Name, Disconnected.String())
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Name() string {
	return s.opts.Name
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.state = st
	metrics.SetSessionState(s.opts.Name, st.String())
}

// Account returns the current account-scoped config
func (s *Session) Account() config.AccountConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// UserState returns the player summary tracked by the connection
func (s *Session) UserState() client.UserState {
	return s.conn.UserState()
}

// Scheduler returns the session's scheduler
func (s *Session) Scheduler() *scheduler.Scheduler {
	return s.sched
}

// SchedulerStatus returns a scheduler snapshot
func (s *Session) SchedulerStatus() scheduler.Status {
	return s.sched.Status()
}

func (s *Session) schedulerSettings() scheduler.Settings {
	acc := s.Account()
	return scheduler.Settings{HumanMode: acc.HumanMode(), Intensity: scheduler.Intensity(acc.Intensity())}
}

// UpdateAccountConfig merges patch into the account config. The scheduler
// picks the change up on its next decision.
func (s *Session) UpdateAccountConfig(patch config.AccountPatch) (config.AccountConfig, error) {
	s.mu.Lock()
	next, err := s.account.Apply(patch)
	if err == nil {
		s.account = next
	}
	s.mu.Unlock()

	if err != nil {
		return next, fmt.Errorf("update account config: %w", err)
	}
	s.logger.Info().
		Bool("human_mode", next.HumanMode()).
		Str("intensity", next.Intensity()).
		Msg("account config updated")
	return next, nil
}

// Start connects and logs in, then starts managers and the scheduler.
// A failed start leaves the session Disconnected and may be retried.
func (s *Session) Start(ctx context.Context, cred client.Credential) error {
	s.mu.Lock()
	switch s.state {
	case Stopped:
		s.mu.Unlock()
		return ErrStopped
	case Disconnected:
	default:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.setState(Connecting)
	s.mu.Unlock()

	err := s.conn.Connect(ctx, cred)

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		_ = s.conn.Close()
		return ErrStopped
	}
	if err != nil {
		s.setState(Disconnected)
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("start failed")
		return err
	}
	s.cred = cred
	s.setState(Connected)
	// Counted before unlocking so a concurrent Stop waits for activation.
	s.supervisor.Add(1)
	s.mu.Unlock()

	s.activate()
	s.logger.Info().Msg("session started")

	go func() {
		exhausted := s.supervise()
		s.supervisor.Done()
		if exhausted {
			s.failOnce.Do(func() {
				if s.opts.OnReconnectFailed != nil {
					s.opts.OnReconnectFailed(s.id)
				}
			})
		}
	}()
	return nil
}

// supervise waits for socket loss and runs the reconnect loop. It reports
// whether the session gave up.
func (s *Session) supervise() bool {
	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-s.conn.Done():
		}

		s.mu.Lock()
		if s.state != Connected {
			s.mu.Unlock()
			return false
		}
		s.setState(Reconnecting)
		s.mu.Unlock()

		s.logger.Warn().Msg("connection lost, reconnecting")
		s.deactivate()
		s.conn.Cleanup()

		if err := s.reconnect(); err != nil {
			s.mu.Lock()
			stopped := s.state == Stopped
			if !stopped {
				s.setState(Disconnected)
			}
			s.mu.Unlock()
			if stopped {
				return false
			}
			metrics.RecordReconnectExhausted()
			s.logger.Warn().Err(err).Int("attempts", s.opts.ReconnectAttempts).Msg("reconnect budget exhausted, giving up")
			return true
		}

		s.mu.Lock()
		if s.state == Stopped {
			s.mu.Unlock()
			return false
		}
		s.setState(Connected)
		s.mu.Unlock()

		s.activate()
		s.logger.Info().Msg("reconnected")
	}
}

// reconnect makes up to ReconnectAttempts connect attempts, each preceded
// by ReconnectDelay.
func (s *Session) reconnect() error {
	if s.opts.ReconnectAttempts < 0 {
		return errors.New("reconnect disabled")
	}
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-time.After(s.opts.ReconnectDelay):
	}

	attempt := 0
	_, err := backoff.Retry(s.ctx, func() (struct{}, error) {
		attempt++
		err := s.conn.Connect(s.ctx, cred)
		metrics.RecordReconnectAttempt(err == nil)
		if err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt).Int("of", s.opts.ReconnectAttempts).Msg("reconnect attempt failed")
			if s.ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(&backoff.ConstantBackOff{Interval: s.opts.ReconnectDelay}),
		backoff.WithMaxTries(uint(s.opts.ReconnectAttempts)),
	)
	return err
}

// activate registers the session's own listeners, starts managers and the scheduler.
func (s *Session) activate() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.active {
		return
	}
	s.active = true

	s.listeners.on(client.EventKickout, func(ev client.Event) {
		s.logger.Warn().Str("reason", ev.(client.KickoutEvent).Reason).Msg("kicked out by gate")
	})
	s.listeners.on(client.EventLogin, func(ev client.Event) {
		u := ev.(client.LoginEvent).User
		s.logger.Info().Int64("gid", u.GID).Str("name", u.Name).Int64("level", u.Level).Msg("logged in")
	})

	env := Env{
		Conn:      s.conn,
		Scheduler: s.sched,
		Account:   s.opts.Name,
		Logger:    s.logger,
		listeners: s.listeners,
	}
	for _, m := range s.managers {
		if err := m.Start(env); err != nil {
			s.logger.Error().Err(err).Str("manager", m.Name()).Msg("manager failed to start")
		}
	}
	s.sched.Start()
}

// deactivate stops the scheduler and managers and removes every listener.
// Manager state in memory is left alone.
func (s *Session) deactivate() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.active {
		return
	}
	s.active = false

	s.sched.Stop()
	for _, m := range s.managers {
		m.Stop()
	}
	n := s.listeners.clear()
	s.logger.Debug().Int("listeners", n).Msg("session deactivated")
}

// Stop tears everything down. It is valid in any state and idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.setState(Stopped)
		s.mu.Unlock()

		s.cancel()
		_ = s.conn.Close()
		// The supervisor may be mid-activation; tear down once it has exited.
		s.supervisor.Wait()
		s.deactivate()
		s.logger.Info().Str("from", prev.String()).Msg("session stopped")
	})
}

// Snapshot is a read-only summary for status reporting
type Snapshot struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	State     string           `json:"state"`
	User      client.UserState `json:"user"`
	Scheduler scheduler.Status `json:"scheduler"`
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:        s.id,
		Name:      s.opts.Name,
		State:     s.State().String(),
		User:      s.UserState(),
		Scheduler: s.SchedulerStatus(),
	}
}
