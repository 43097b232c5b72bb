package session

import (
	"context"
	"sync"
	"time"

	"github.com/Mmx233/QFarm/client"
	"github.com/Mmx233/QFarm/scheduler"
	"github.com/rs/zerolog"
)

//go:generate mockgen -destination=mock_manager_test.go -package=session github.com/Mmx233/QFarm/session Manager

// Requester is the request side of a connection handed to managers
type Requester interface {
	SendRequest(ctx context.Context, service, method string, body []byte) (*client.Reply, error)
	SendRequestTimeout(ctx context.Context, service, method string, body []byte, timeout time.Duration) (*client.Reply, error)
	UserState() client.UserState
}

// Conn is what a Session drives. *client.Connection implements it.
type Conn interface {
	Requester
	Connect(ctx context.Context, cred client.Credential) error
	Cleanup()
	Close() error
	Done() <-chan struct{}
	On(t client.EventType, fn client.Handler) client.HandlerID
	Off(id client.HandlerID) bool
}

// Manager is a unit of domain behavior attached to a session. Start is
// called after every successful (re)connect, Stop before every reconnect
// and on session stop. Managers keep their in-memory state across restarts.
type Manager interface {
	Name() string
	Start(env Env) error
	Stop()
}

// Env is what a manager may use while started
type Env struct {
	Conn      Requester
	Scheduler *scheduler.Scheduler
	Account   string
	Logger    zerolog.Logger

	listeners *listeners
}

// On subscribes to connection events. Subscriptions are removed
// automatically when the session tears the managers down.
func (e Env) On(t client.EventType, fn client.Handler) {
	e.listeners.on(t, fn)
}

// listeners tracks subscriptions made on behalf of a session
type listeners struct {
	conn Conn

	mu  sync.Mutex
	ids []client.HandlerID
}

func (l *listeners) on(t client.EventType, fn client.Handler) {
	id := l.conn.On(t, fn)
	l.mu.Lock()
	l.ids = append(l.ids, id)
	l.mu.Unlock()
}

func (l *listeners) clear() int {
	l.mu.Lock()
	ids := l.ids
	l.ids = nil
	l.mu.Unlock()

	for _, id := range ids {
		l.conn.Off(id)
	}
	return len(ids)
}
