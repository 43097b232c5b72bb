package client

import (
	"context"
	"time"

	"github.com/Mmx233/QFarm/metrics"
	"github.com/Mmx233/QFarm/protocol"
)

// Liveness is the heartbeat view of the peer
type Liveness int32

const (
	Healthy Liveness = iota
	// Suspect means no heartbeat reply arrived within the liveness timeout.
	Suspect
	// Dead means two consecutive windows were missed and pending requests were flushed.
	Dead
)

// String returns a string representation of the liveness state
func (s Liveness) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

func (c *Connection) Liveness() Liveness {
	return Liveness(c.liveness.Load())
}

func (c *Connection) setLiveness(s Liveness) Liveness {
	old := Liveness(c.liveness.Swap(int32(s)))
	if old != s {
		metrics.SetHeartbeatState(c.opts.Name, s.String())
	}
	return old
}

func (c *Connection) heartbeatLoop(l *link) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopHB:
			return
		case <-l.done:
			return
		case now := <-ticker.C:
			c.heartbeatTick(l, now)
		}
	}
}

// heartbeatTick evaluates liveness, then sends the next heartbeat.
// Heartbeats are not sent before a login assigned a gid.
func (c *Connection) heartbeatTick(l *link, now time.Time) {
	gid := c.UserState().GID
	if gid == 0 {
		return
	}

	silence := now.Sub(time.Unix(0, l.lastReply.Load()))
	if silence > c.opts.LivenessTimeout {
		misses := l.misses.Add(1)
		if misses >= deadAfterMisses {
			if c.setLiveness(Dead) != Dead {
				c.logger.Warn().Dur("silence", silence).Msg("heartbeat lost, flushing pending requests")
			}
			if n := c.pending.rejectAll(ErrHeartbeatLost); n > 0 {
				c.logger.Debug().Int("pending", n).Msg("pending requests flushed")
			}
			metrics.SetPending(c.opts.Name, 0)
		} else {
			c.setLiveness(Suspect)
			c.logger.Warn().Dur("silence", silence).Int32("misses", misses).Msg("heartbeat reply overdue")
		}
	}

	go c.sendHeartbeat(l, gid)
}

func (c *Connection) sendHeartbeat(l *link, gid int64) {
	req := &protocol.HeartbeatRequest{GID: gid, ClientVersion: c.opts.ClientVersion}
	reply, err := c.request(context.Background(), l, protocol.UserService, protocol.MethodHeartbeat, req.Marshal(), c.opts.LivenessTimeout)
	if err != nil {
		c.logger.Trace().Err(err).Msg("heartbeat failed")
		return
	}

	l.lastReply.Store(time.Now().UnixNano())
	l.misses.Store(0)
	if c.setLiveness(Healthy) != Healthy {
		c.logger.Info().Msg("heartbeat recovered")
	}

	var hr protocol.HeartbeatReply
	if err := hr.Unmarshal(reply.Body); err != nil {
		metrics.RecordDecodeError("HeartbeatReply")
		return
	}
	if hr.ServerTime != 0 {
		c.syncServerTime(hr.ServerTime)
	}
}
