package client

import (
	"context"
	"testing"
	"time"

	"github.com/Mmx233/QFarm/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	ch chan Event
}

func record(c *Connection, types ...EventType) *recorder {
	r := &recorder{ch: make(chan Event, 64)}
	for _, t := range types {
		c.On(t, func(ev Event) { r.ch <- ev })
	}
	return r
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
		return nil
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotify_ItemsUpdateGoldAndExp(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()
	r := record(c, EventGoldChanged, EventExpChanged)

	p.push(protocol.TypeItemNotify, (&protocol.ItemNotify{Items: []protocol.Item{
		{ID: 1101, Count: 450},
		{ID: 20003, Count: 7},
		{ID: 1, Count: 2048},
	}}).Marshal())

	assert.Equal(t, ExpChangedEvent{Exp: 450}, r.next(t))
	assert.Equal(t, GoldChangedEvent{Gold: 2048}, r.next(t))
	r.none(t)

	user := c.UserState()
	assert.EqualValues(t, 450, user.Exp)
	assert.EqualValues(t, 2048, user.Gold)
}

func TestNotify_BasicLevelUp(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()
	r := record(c, EventLevelUp, EventStateChanged)

	p.push(protocol.TypeBasicNotify, (&protocol.BasicNotify{Basic: &protocol.UserBasic{Level: 6, Gold: 0, Exp: 10}}).Marshal())

	assert.Equal(t, LevelUpEvent{OldLevel: 5, NewLevel: 6}, r.next(t))
	ev := r.next(t).(StateChangedEvent)
	assert.EqualValues(t, 6, ev.User.Level)
	assert.EqualValues(t, 1000, ev.User.Gold, "zero gold keeps the previous value")
	assert.EqualValues(t, 10, ev.User.Exp)

	p.push(protocol.TypeBasicNotify, (&protocol.BasicNotify{Basic: &protocol.UserBasic{Level: 6, Gold: 1200}}).Marshal())
	ev = r.next(t).(StateChangedEvent)
	assert.EqualValues(t, 1200, ev.User.Gold)
	r.none(t)
}

func TestNotify_LandsFilteredByHost(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()
	r := record(c, EventLandsChanged)

	p.push(protocol.TypeLandsNotify, (&protocol.LandsNotify{HostGID: 4242, Lands: [][]byte{{1}}}).Marshal())
	p.push(protocol.TypeLandsNotify, (&protocol.LandsNotify{HostGID: 10086}).Marshal())
	p.push(protocol.TypeLandsNotify, (&protocol.LandsNotify{HostGID: 10086, Lands: [][]byte{{2}}}).Marshal())
	p.push(protocol.TypeLandsNotify, (&protocol.LandsNotify{Lands: [][]byte{{3}}}).Marshal())

	assert.Equal(t, LandsChangedEvent{HostGID: 10086, Lands: [][]byte{{2}}}, r.next(t))
	assert.Equal(t, LandsChangedEvent{HostGID: 0, Lands: [][]byte{{3}}}, r.next(t))
	r.none(t)
}

func TestNotify_MalformedAndUnknownDropped(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()
	r := record(c, EventKickout, EventTaskInfo)

	// Garbage envelope, garbage event wrapper, garbage payload, unknown type.
	_ = p.current().WriteMessage(context.Background(), []byte{0xff, 0xff})
	p.send(&protocol.Envelope{Meta: protocol.Meta{MessageType: protocol.MessageTypeNotify}, Body: []byte{0x0a, 0x09}})
	p.push(protocol.TypeKickoutNotify, []byte{0x0a, 0x20, 'x'})
	p.push("gamepb.mallpb.MysteryNotify", []byte("whatever"))
	p.push(protocol.TypeTaskInfoNotify, (&protocol.TaskInfoNotify{TaskInfo: []byte("board")}).Marshal())

	assert.Equal(t, TaskInfoEvent{TaskInfo: []byte("board")}, r.next(t))
	r.none(t)
	assert.True(t, c.IsConnected())
}

func TestNotify_FriendsGoodsKickout(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()
	r := record(c, EventFriendApplication, EventFriendAdded, EventGoodsUnlock, EventKickout)

	p.push(protocol.TypeFriendApplicationNotify, (&protocol.FriendApplicationReceivedNotify{Applications: [][]byte{[]byte("a")}}).Marshal())
	p.push(protocol.TypeFriendAddedNotify, (&protocol.FriendAddedNotify{Friends: []protocol.Friend{{GID: 7, Name: "neighbour"}}}).Marshal())
	p.push(protocol.TypeGoodsUnlockNotify, (&protocol.GoodsUnlockNotify{Goods: [][]byte{[]byte("seed")}}).Marshal())
	p.push(protocol.TypeKickoutNotify, (&protocol.KickoutNotify{ReasonMessage: "logged in elsewhere"}).Marshal())

	assert.Equal(t, FriendApplicationEvent{Applications: [][]byte{[]byte("a")}}, r.next(t))
	assert.Equal(t, FriendAddedEvent{Friends: []protocol.Friend{{GID: 7, Name: "neighbour"}}}, r.next(t))
	assert.Equal(t, GoodsUnlockEvent{Goods: [][]byte{[]byte("seed")}}, r.next(t))
	assert.Equal(t, KickoutEvent{Reason: "logged in elsewhere"}, r.next(t))
}

func TestOnOff(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	first := make(chan Event, 4)
	second := make(chan Event, 4)
	id := c.On(EventGoldChanged, func(ev Event) { first <- ev })
	c.On(EventGoldChanged, func(ev Event) { second <- ev })
	c.On(EventGoldChanged, func(Event) { panic("handler bug") })

	push := func(gold int64) {
		p.push(protocol.TypeItemNotify, (&protocol.ItemNotify{Items: []protocol.Item{{ID: 1001, Count: gold}}}).Marshal())
	}

	push(1)
	require.Equal(t, GoldChangedEvent{Gold: 1}, <-first)
	require.Equal(t, GoldChangedEvent{Gold: 1}, <-second)

	assert.True(t, c.Off(id))
	assert.False(t, c.Off(id))
	push(2)
	require.Equal(t, GoldChangedEvent{Gold: 2}, <-second)
	select {
	case <-first:
		t.Fatal("handler called after Off")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerMayIssueRequests(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	replies := make(chan []byte, 1)
	c.On(EventTaskInfo, func(Event) {
		r, err := c.SendRequest(context.Background(), "gamepb.taskpb.TaskService", "ClaimTaskReward", nil)
		if err == nil {
			replies <- r.Body
		}
	})

	p.push(protocol.TypeTaskInfoNotify, (&protocol.TaskInfoNotify{TaskInfo: []byte("done")}).Marshal())
	req := p.next(t)
	assert.Equal(t, "ClaimTaskReward", req.Meta.MethodName)
	p.reply(req.Meta, []byte("claimed"))

	select {
	case body := <-replies:
		assert.Equal(t, []byte("claimed"), body)
	case <-time.After(time.Second):
		t.Fatal("handler request did not complete")
	}
}

func TestParseEventType(t *testing.T) {
	for typ, name := range eventTypeNames {
		got, err := ParseEventType(name)
		require.NoError(t, err)
		assert.Equal(t, typ, got)
		assert.Equal(t, name, typ.String())
	}
	_, err := ParseEventType("harvest_ready")
	assert.Error(t, err)
}
