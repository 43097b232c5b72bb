package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mmx233/QFarm/client"
	"github.com/Mmx233/QFarm/config"
	"github.com/Mmx233/QFarm/scheduler"
	"github.com/Mmx233/QFarm/session"
	"github.com/rs/zerolog"
)

// PollerStats survives reconnects
type PollerStats struct {
	Runs      int
	Failures  int
	LastReply []byte
	LastRunAt time.Time
	LastError error
}

// Poller issues one configured request periodically and whenever one of
// its trigger events arrives.
type Poller struct {
	cfg      config.Poller
	body     []byte
	triggers []client.EventType

	mu    sync.Mutex
	stats PollerStats
}

func NewPoller(cfg config.Poller) (*Poller, error) {
	body, err := cfg.DecodeBody()
	if err != nil {
		return nil, fmt.Errorf("poller %s: body: %w", cfg.ID, err)
	}
	p := &Poller{cfg: cfg, body: body}
	for _, name := range cfg.TriggerOn {
		t, err := client.ParseEventType(name)
		if err != nil {
			return nil, fmt.Errorf("poller %s: %w", cfg.ID, err)
		}
		p.triggers = append(p.triggers, t)
	}
	return p, nil
}

func (p *Poller) Name() string {
	return "poller:" + p.cfg.ID
}

func (p *Poller) Start(env session.Env) error {
	logger := env.Logger.With().Str("poller", p.cfg.ID).Logger()

	err := env.Scheduler.Every(p.cfg.ID, func(ctx context.Context) error {
		return p.poll(ctx, env.Conn, logger)
	}, scheduler.EveryOptions{
		Interval:   p.cfg.Interval,
		StartDelay: p.cfg.StartDelay,
		Name:       p.cfg.Name,
	})
	if err != nil {
		return fmt.Errorf("register poller %s: %w", p.cfg.ID, err)
	}

	for _, t := range p.triggers {
		env.On(t, func(client.Event) {
			env.Scheduler.Trigger(p.cfg.ID, p.cfg.Debounce)
		})
	}
	return nil
}

// Stop is a no-op: the session clears tasks and listeners itself
func (p *Poller) Stop() {}

func (p *Poller) poll(ctx context.Context, conn session.Requester, logger zerolog.Logger) error {
	reply, err := conn.SendRequestTimeout(ctx, p.cfg.Service, p.cfg.Method, p.body, p.cfg.Timeout)

	p.mu.Lock()
	p.stats.Runs++
	p.stats.LastRunAt = time.Now()
	p.stats.LastError = err
	if err != nil {
		p.stats.Failures++
	} else {
		p.stats.LastReply = reply.Body
	}
	p.mu.Unlock()

	if err != nil {
		logger.Warn().Err(err).Msg("poll failed")
		return err
	}
	logger.Debug().Int("bytes", len(reply.Body)).Msg("polled")
	return nil
}

// Stats returns a copy of the poller's counters
func (p *Poller) Stats() PollerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
