package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// DeviceInfo is reported to the gate on login.
type DeviceInfo struct {
	ClientVersion string `yaml:"client_version"`
	SysSoftware   string `yaml:"sys_software"`
	Network       string `yaml:"network"`
	Memory        string `yaml:"memory"`
	DeviceID      string `yaml:"device_id"`
}

func (d *DeviceInfo) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, d.ClientVersion)
	b = appendString(b, 2, d.SysSoftware)
	b = appendString(b, 3, d.Network)
	b = appendString(b, 4, d.Memory)
	b = appendString(b, 5, d.DeviceID)
	return b
}

func (d *DeviceInfo) Unmarshal(data []byte) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &d.ClientVersion)
		case 2:
			return consumeString(typ, b, &d.SysSoftware)
		case 3:
			return consumeString(typ, b, &d.Network)
		case 4:
			return consumeString(typ, b, &d.Memory)
		case 5:
			return consumeString(typ, b, &d.DeviceID)
		}
		return skip(num, typ, b)
	})
}

// LoginRequest is the body of UserService.Login
type LoginRequest struct {
	DeviceInfo DeviceInfo
	SceneID    string
}

func (r *LoginRequest) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 3, r.DeviceInfo.Marshal())
	b = appendString(b, 5, r.SceneID)
	return b
}

func (r *LoginRequest) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 3:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			return n, r.DeviceInfo.Unmarshal(v)
		case 5:
			return consumeString(typ, b, &r.SceneID)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return decodeErr("LoginRequest", err)
	}
	return nil
}

// UserBasic is the player summary carried by login replies and BasicNotify
type UserBasic struct {
	GID   int64
	Name  string
	Level int64
	Gold  int64
	Exp   int64
}

func (u *UserBasic) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(u.GID))
	b = appendString(b, 2, u.Name)
	b = appendVarint(b, 3, uint64(u.Level))
	b = appendVarint(b, 4, uint64(u.Gold))
	b = appendVarint(b, 5, uint64(u.Exp))
	return b
}

func (u *UserBasic) Unmarshal(data []byte) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(typ, b, &u.GID)
		case 2:
			return consumeString(typ, b, &u.Name)
		case 3:
			return consumeInt64(typ, b, &u.Level)
		case 4:
			return consumeInt64(typ, b, &u.Gold)
		case 5:
			return consumeInt64(typ, b, &u.Exp)
		}
		return skip(num, typ, b)
	})
}

// LoginReply is the response body of UserService.Login
type LoginReply struct {
	Basic         *UserBasic
	TimeNowMillis int64
}

func (r *LoginReply) Marshal() []byte {
	var b []byte
	if r.Basic != nil {
		b = appendMessage(b, 1, r.Basic.Marshal())
	}
	b = appendVarint(b, 2, uint64(r.TimeNowMillis))
	return b
}

func (r *LoginReply) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeBasic(typ, b, &r.Basic)
		case 2:
			return consumeInt64(typ, b, &r.TimeNowMillis)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return decodeErr("LoginReply", err)
	}
	return nil
}

// HeartbeatRequest is the body of UserService.Heartbeat
type HeartbeatRequest struct {
	GID           int64
	ClientVersion string
}

func (r *HeartbeatRequest) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(r.GID))
	b = appendString(b, 2, r.ClientVersion)
	return b
}

func (r *HeartbeatRequest) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(typ, b, &r.GID)
		case 2:
			return consumeString(typ, b, &r.ClientVersion)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return decodeErr("HeartbeatRequest", err)
	}
	return nil
}

// HeartbeatReply is the response body of UserService.Heartbeat
type HeartbeatReply struct {
	ServerTime int64 // Unix millis
}

func (r *HeartbeatReply) Marshal() []byte {
	return appendVarint(nil, 1, uint64(r.ServerTime))
}

func (r *HeartbeatReply) Unmarshal(data []byte) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeInt64(typ, b, &r.ServerTime)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return decodeErr("HeartbeatReply", err)
	}
	return nil
}

func consumeBasic(typ protowire.Type, b []byte, dst **UserBasic) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return n, err
	}
	basic := &UserBasic{}
	if err := basic.Unmarshal(v); err != nil {
		return n, err
	}
	*dst = basic
	return n, nil
}

// consumeRepeatedBytes appends one element of a repeated bytes/message field.
func consumeRepeatedBytes(typ protowire.Type, b []byte, dst *[][]byte) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return n, err
	}
	*dst = append(*dst, append([]byte(nil), v...))
	return n, nil
}
