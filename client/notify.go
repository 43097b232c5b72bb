package client

import (
	"strconv"

	"github.com/Mmx233/QFarm/metrics"
	"github.com/Mmx233/QFarm/protocol"
)

// payload is implemented by every typed notification in protocol.
type payload interface {
	Unmarshal([]byte) error
}

// handleNotify decodes one push notification exactly once, applies it to
// the user state and queues the resulting events. Anything unparseable or
// unknown is logged and dropped.
func (c *Connection) handleNotify(l *link, body []byte) {
	if len(body) == 0 {
		return
	}
	ev, err := protocol.DecodeEvent(body)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed notification")
		metrics.RecordDecodeError("event")
		return
	}

	kind := protocol.ClassifyEvent(ev.Type)
	metrics.RecordNotification(kind.String())
	logger := c.logger.With().Str("notify", ev.Type).Logger()

	decode := func(p payload) bool {
		if err := p.Unmarshal(ev.Body); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed notification")
			metrics.RecordDecodeError(kind.String())
			return false
		}
		return true
	}

	switch kind {
	case protocol.NotifyKickout:
		var n protocol.KickoutNotify
		if !decode(&n) {
			return
		}
		logger.Warn().Str("reason", n.ReasonMessage).Msg("kicked out by gate")
		l.events.push(KickoutEvent{Reason: n.ReasonMessage})

	case protocol.NotifyLands:
		var n protocol.LandsNotify
		if !decode(&n) || len(n.Lands) == 0 {
			return
		}
		if gid := c.UserState().GID; n.HostGID != gid && n.HostGID != 0 {
			return
		}
		l.events.push(LandsChangedEvent{HostGID: n.HostGID, Lands: n.Lands})

	case protocol.NotifyItem:
		var n protocol.ItemNotify
		if !decode(&n) {
			return
		}
		for _, item := range n.Items {
			switch item.ID {
			case itemExp, itemExpAlt:
				c.mu.Lock()
				c.user.Exp = item.Count
				c.mu.Unlock()
				l.events.push(ExpChangedEvent{Exp: item.Count})
			case itemGold, itemGoldAlt:
				c.mu.Lock()
				c.user.Gold = item.Count
				c.mu.Unlock()
				l.events.push(GoldChangedEvent{Gold: item.Count})
			}
		}

	case protocol.NotifyBasic:
		var n protocol.BasicNotify
		if !decode(&n) || n.Basic == nil {
			return
		}
		c.mu.Lock()
		oldLevel := c.user.Level
		if n.Basic.Level != 0 {
			c.user.Level = n.Basic.Level
		}
		if n.Basic.Gold != 0 {
			c.user.Gold = n.Basic.Gold
		}
		if n.Basic.Exp > 0 {
			c.user.Exp = n.Basic.Exp
		}
		user := c.user
		c.mu.Unlock()

		if user.Level != oldLevel {
			logger.Info().Int64("from", oldLevel).Int64("to", user.Level).Msg("level up")
			l.events.push(LevelUpEvent{OldLevel: oldLevel, NewLevel: user.Level})
		}
		l.events.push(StateChangedEvent{User: user})

	case protocol.NotifyFriendApplication:
		var n protocol.FriendApplicationReceivedNotify
		if decode(&n) && len(n.Applications) > 0 {
			l.events.push(FriendApplicationEvent{Applications: n.Applications})
		}

	case protocol.NotifyFriendAdded:
		var n protocol.FriendAddedNotify
		if !decode(&n) || len(n.Friends) == 0 {
			return
		}
		names := make([]string, 0, len(n.Friends))
		for _, f := range n.Friends {
			names = append(names, friendLabel(f))
		}
		logger.Info().Strs("friends", names).Msg("new friends")
		l.events.push(FriendAddedEvent{Friends: n.Friends})

	case protocol.NotifyGoodsUnlock:
		var n protocol.GoodsUnlockNotify
		if !decode(&n) || len(n.Goods) == 0 {
			return
		}
		logger.Info().Int("count", len(n.Goods)).Msg("shop goods unlocked")
		l.events.push(GoodsUnlockEvent{Goods: n.Goods})

	case protocol.NotifyTaskInfo:
		var n protocol.TaskInfoNotify
		if decode(&n) && len(n.TaskInfo) > 0 {
			l.events.push(TaskInfoEvent{TaskInfo: n.TaskInfo})
		}

	default:
		logger.Debug().Msg("unhandled notification")
	}
}

func friendLabel(f protocol.Friend) string {
	switch {
	case f.Name != "":
		return f.Name
	case f.Remark != "":
		return f.Remark
	default:
		return "gid:" + strconv.FormatInt(f.GID, 10)
	}
}
