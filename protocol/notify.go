package protocol

import (
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Fully qualified notification types as sent by the gate
const (
	TypeKickoutNotify           = "gatepb.KickoutNotify"
	TypeLandsNotify             = "gamepb.plantpb.LandsNotify"
	TypeItemNotify              = "gamepb.itempb.ItemNotify"
	TypeBasicNotify             = "gamepb.userpb.BasicNotify"
	TypeFriendApplicationNotify = "gamepb.friendpb.FriendApplicationReceivedNotify"
	TypeFriendAddedNotify       = "gamepb.friendpb.FriendAddedNotify"
	TypeGoodsUnlockNotify       = "gamepb.shoppb.GoodsUnlockNotify"
	TypeTaskInfoNotify          = "gamepb.taskpb.TaskInfoNotify"
)

// NotifyKind is the closed set of notification payloads the core understands
type NotifyKind int

const (
	NotifyUnknown NotifyKind = iota
	NotifyKickout
	NotifyLands
	NotifyItem
	NotifyBasic
	NotifyFriendApplication
	NotifyFriendAdded
	NotifyGoodsUnlock
	NotifyTaskInfo
)

// String returns a string representation of the notification kind
func (k NotifyKind) String() string {
	switch k {
	case NotifyKickout:
		return "kickout"
	case NotifyLands:
		return "lands"
	case NotifyItem:
		return "item"
	case NotifyBasic:
		return "basic"
	case NotifyFriendApplication:
		return "friend_application"
	case NotifyFriendAdded:
		return "friend_added"
	case NotifyGoodsUnlock:
		return "goods_unlock"
	case NotifyTaskInfo:
		return "task_info"
	default:
		return "unknown"
	}
}

// ClassifyEvent maps a wrapper type tag to a notification kind.
// Matching is by substring so package renames on the gate side do not break it.
func ClassifyEvent(eventType string) NotifyKind {
	switch {
	case strings.Contains(eventType, "Kickout"):
		return NotifyKickout
	case strings.Contains(eventType, "LandsNotify"):
		return NotifyLands
	case strings.Contains(eventType, "ItemNotify"):
		return NotifyItem
	case strings.Contains(eventType, "BasicNotify"):
		return NotifyBasic
	case strings.Contains(eventType, "FriendApplicationReceivedNotify"):
		return NotifyFriendApplication
	case strings.Contains(eventType, "FriendAddedNotify"):
		return NotifyFriendAdded
	case strings.Contains(eventType, "GoodsUnlockNotify"):
		return NotifyGoodsUnlock
	case strings.Contains(eventType, "TaskInfoNotify"):
		return NotifyTaskInfo
	default:
		return NotifyUnknown
	}
}

// KickoutNotify tells the client it has been logged out by the server
type KickoutNotify struct {
	ReasonMessage string
}

func (n *KickoutNotify) Marshal() []byte {
	return appendString(nil, 1, n.ReasonMessage)
}

func (n *KickoutNotify) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(typ, b, &n.ReasonMessage)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return decodeErr("KickoutNotify", err)
	}
	return nil
}

// LandsNotify carries changed lands of a farm; land bodies stay opaque
type LandsNotify struct {
	HostGID int64
	Lands   [][]byte
}

func (n *LandsNotify) Marshal() []byte {
	b := appendVarint(nil, 1, uint64(n.HostGID))
	for _, land := range n.Lands {
		b = appendMessage(b, 2, land)
	}
	return b
}

func (n *LandsNotify) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(typ, b, &n.HostGID)
		case 2:
			return consumeRepeatedBytes(typ, b, &n.Lands)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return decodeErr("LandsNotify", err)
	}
	return nil
}

// Item is a bag entry
type Item struct {
	ID    int64
	Count int64
}

// ItemNotify carries bag changes, including currency and experience pseudo-items
type ItemNotify struct {
	Items []Item
}

func (n *ItemNotify) Marshal() []byte {
	var b []byte
	for _, it := range n.Items {
		var item []byte
		item = appendVarint(item, 1, uint64(it.ID))
		item = appendVarint(item, 2, uint64(it.Count))
		b = appendMessage(b, 1, appendMessage(nil, 1, item))
	}
	return b
}

func (n *ItemNotify) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skip(num, typ, b)
		}
		change, m, err := consumeBytes(typ, b)
		if err != nil {
			return m, err
		}
		var it Item
		found := false
		err = walk(change, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num != 1 {
				return skip(num, typ, b)
			}
			raw, k, err := consumeBytes(typ, b)
			if err != nil {
				return k, err
			}
			found = true
			return k, walk(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					return consumeInt64(typ, b, &it.ID)
				case 2:
					return consumeInt64(typ, b, &it.Count)
				}
				return skip(num, typ, b)
			})
		})
		if err != nil {
			return m, err
		}
		if found {
			n.Items = append(n.Items, it)
		}
		return m, nil
	})
	if err != nil {
		return decodeErr("ItemNotify", err)
	}
	return nil
}

// BasicNotify pushes a new player summary
type BasicNotify struct {
	Basic *UserBasic
}

func (n *BasicNotify) Marshal() []byte {
	if n.Basic == nil {
		return nil
	}
	return appendMessage(nil, 1, n.Basic.Marshal())
}

func (n *BasicNotify) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBasic(typ, b, &n.Basic)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return decodeErr("BasicNotify", err)
	}
	return nil
}

// FriendApplicationReceivedNotify carries opaque friend applications
type FriendApplicationReceivedNotify struct {
	Applications [][]byte
}

func (n *FriendApplicationReceivedNotify) Marshal() []byte {
	var b []byte
	for _, app := range n.Applications {
		b = appendMessage(b, 1, app)
	}
	return b
}

func (n *FriendApplicationReceivedNotify) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeRepeatedBytes(typ, b, &n.Applications)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return decodeErr("FriendApplicationReceivedNotify", err)
	}
	return nil
}

// Friend is a friend list entry
type Friend struct {
	GID    int64
	Name   string
	Remark string
}

// FriendAddedNotify lists newly added friends
type FriendAddedNotify struct {
	Friends []Friend
}

func (n *FriendAddedNotify) Marshal() []byte {
	var b []byte
	for _, f := range n.Friends {
		var fb []byte
		fb = appendVarint(fb, 1, uint64(f.GID))
		fb = appendString(fb, 2, f.Name)
		fb = appendString(fb, 3, f.Remark)
		b = appendMessage(b, 1, fb)
	}
	return b
}

func (n *FriendAddedNotify) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skip(num, typ, b)
		}
		raw, m, err := consumeBytes(typ, b)
		if err != nil {
			return m, err
		}
		var f Friend
		err = walk(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				return consumeInt64(typ, b, &f.GID)
			case 2:
				return consumeString(typ, b, &f.Name)
			case 3:
				return consumeString(typ, b, &f.Remark)
			}
			return skip(num, typ, b)
		})
		if err != nil {
			return m, err
		}
		n.Friends = append(n.Friends, f)
		return m, nil
	})
	if err != nil {
		return decodeErr("FriendAddedNotify", err)
	}
	return nil
}

// GoodsUnlockNotify lists shop goods that became available; entries stay opaque
type GoodsUnlockNotify struct {
	Goods [][]byte
}

func (n *GoodsUnlockNotify) Marshal() []byte {
	var b []byte
	for _, g := range n.Goods {
		b = appendMessage(b, 1, g)
	}
	return b
}

func (n *GoodsUnlockNotify) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeRepeatedBytes(typ, b, &n.Goods)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return decodeErr("GoodsUnlockNotify", err)
	}
	return nil
}

// TaskInfoNotify carries the opaque quest/task board
type TaskInfoNotify struct {
	TaskInfo []byte
}

func (n *TaskInfoNotify) Marshal() []byte {
	if len(n.TaskInfo) == 0 {
		return nil
	}
	return appendMessage(nil, 1, n.TaskInfo)
}

func (n *TaskInfoNotify) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return skip(num, typ, b)
		}
		v, m, err := consumeBytes(typ, b)
		if err == nil {
			n.TaskInfo = append([]byte(nil), v...)
		}
		return m, err
	})
	if err != nil {
		return decodeErr("TaskInfoNotify", err)
	}
	return nil
}
