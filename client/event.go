package client

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Mmx233/QFarm/protocol"
	"github.com/eapache/queue"
	"github.com/rs/zerolog"
)

// EventType selects a class of events for On
type EventType int

const (
	EventLogin EventType = iota + 1
	EventKickout
	EventLandsChanged
	EventGoldChanged
	EventExpChanged
	EventLevelUp
	EventStateChanged
	EventFriendApplication
	EventFriendAdded
	EventGoodsUnlock
	EventTaskInfo
)

var eventTypeNames = map[EventType]string{
	EventLogin:             "login",
	EventKickout:           "kickout",
	EventLandsChanged:      "lands_changed",
	EventGoldChanged:       "gold_changed",
	EventExpChanged:        "exp_changed",
	EventLevelUp:           "level_up",
	EventStateChanged:      "state_changed",
	EventFriendApplication: "friend_application",
	EventFriendAdded:       "friend_added",
	EventGoodsUnlock:       "goods_unlock",
	EventTaskInfo:          "task_info",
}

// String returns a string representation of the event type
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, error) {
	for t, name := range eventTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// Event is one of the typed events below
type Event interface {
	Type() EventType
}

type (
	// LoginEvent follows every successful handshake, including reconnects
	LoginEvent struct{ User UserState }
	// KickoutEvent means the gate logged this client out
	KickoutEvent struct{ Reason string }
	// LandsChangedEvent carries changed lands of the own farm
	LandsChangedEvent struct {
		HostGID int64
		Lands   [][]byte
	}
	GoldChangedEvent struct{ Gold int64 }
	ExpChangedEvent  struct{ Exp int64 }
	LevelUpEvent     struct{ OldLevel, NewLevel int64 }
	// StateChangedEvent follows a BasicNotify
	StateChangedEvent      struct{ User UserState }
	FriendApplicationEvent struct{ Applications [][]byte }
	FriendAddedEvent       struct{ Friends []protocol.Friend }
	GoodsUnlockEvent       struct{ Goods [][]byte }
	TaskInfoEvent          struct{ TaskInfo []byte }
)

func (LoginEvent) Type() EventType             { return EventLogin }
func (KickoutEvent) Type() EventType           { return EventKickout }
func (LandsChangedEvent) Type() EventType      { return EventLandsChanged }
func (GoldChangedEvent) Type() EventType       { return EventGoldChanged }
func (ExpChangedEvent) Type() EventType        { return EventExpChanged }
func (LevelUpEvent) Type() EventType           { return EventLevelUp }
func (StateChangedEvent) Type() EventType      { return EventStateChanged }
func (FriendApplicationEvent) Type() EventType { return EventFriendApplication }
func (FriendAddedEvent) Type() EventType       { return EventFriendAdded }
func (GoodsUnlockEvent) Type() EventType       { return EventGoodsUnlock }
func (TaskInfoEvent) Type() EventType          { return EventTaskInfo }

// Handler receives events of the type it was registered for
type Handler func(Event)

// HandlerID identifies a subscription for Off
type HandlerID uint64

type subscription struct {
	id      HandlerID
	handler Handler
}

// handlers is the subscription table. It outlives links.
type handlers struct {
	mu     sync.RWMutex
	nextID HandlerID
	byType map[EventType][]subscription
}

func newHandlers() *handlers {
	return &handlers{byType: make(map[EventType][]subscription)}
}

func (h *handlers) add(t EventType, fn Handler) HandlerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.byType[t] = append(h.byType[t], subscription{id: h.nextID, handler: fn})
	return h.nextID
}

func (h *handlers) remove(id HandlerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t, subs := range h.byType {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			h.byType[t] = append(subs[:i:i], subs[i+1:]...)
			if len(h.byType[t]) == 0 {
				delete(h.byType, t)
			}
			return true
		}
	}
	return false
}

// snapshot returns the handlers for t in subscription order.
func (h *handlers) snapshot(t EventType) []subscription {
	h.mu.RLock()
	subs := append([]subscription(nil), h.byType[t]...)
	h.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

func (h *handlers) dispatch(ev Event, logger zerolog.Logger) {
	for _, s := range h.snapshot(ev.Type()) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Str("event", ev.Type().String()).Msg("event handler panicked")
				}
			}()
			s.handler(ev)
		}()
	}
}

// eventQueue is an unbounded FIFO between the read loop and the dispatcher,
// so slow handlers never stall response routing.
type eventQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	signal chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{q: queue.New(), signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.q.Add(ev)
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// run delivers queued events in order until the queue is closed and drained.
func (q *eventQueue) run(deliver func(Event)) {
	for {
		q.mu.Lock()
		for q.q.Length() > 0 {
			ev := q.q.Remove().(Event)
			q.mu.Unlock()
			deliver(ev)
			q.mu.Lock()
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		<-q.signal
	}
}
