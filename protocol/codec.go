package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire format (protobuf):
//
//	Message      { 1: Meta meta; 2: bytes body }
//	Meta         { 1: string service_name; 2: string method_name; 3: int32 message_type;
//	               4: int64 client_seq; 5: int64 server_seq; 6: int64 error_code;
//	               7: string error_message }
//	EventMessage { 1: string message_type; 2: bytes body }

var (
	errMissingMeta = errors.New("missing meta")
	errWireType    = errors.New("unexpected wire type")
)

// Encode serializes an envelope. Zero-valued fields are omitted as in proto3.
func Encode(env *Envelope) []byte {
	meta := appendMeta(nil, &env.Meta)

	b := make([]byte, 0, len(meta)+len(env.Body)+16)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, meta)
	if len(env.Body) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, env.Body)
	}
	return b
}

func appendMeta(b []byte, m *Meta) []byte {
	b = appendString(b, 1, m.ServiceName)
	b = appendString(b, 2, m.MethodName)
	b = appendVarint(b, 3, uint64(m.MessageType))
	b = appendVarint(b, 4, uint64(m.ClientSeq))
	b = appendVarint(b, 5, uint64(m.ServerSeq))
	b = appendVarint(b, 6, uint64(m.ErrorCode))
	b = appendString(b, 7, m.ErrorMessage)
	return b
}

// Decode parses an envelope. Malformed input yields a *DecodeError.
func Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	hasMeta := false

	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			if err := decodeMeta(v, &env.Meta); err != nil {
				return n, err
			}
			hasMeta = true
			return n, nil
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return n, err
			}
			env.Body = append([]byte(nil), v...)
			return n, nil
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, decodeErr("envelope", err)
	}
	if !hasMeta {
		return nil, decodeErr("envelope", errMissingMeta)
	}
	return env, nil
}

func decodeMeta(data []byte, m *Meta) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.ServiceName)
		case 2:
			return consumeString(typ, b, &m.MethodName)
		case 3:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			m.MessageType = MessageType(int32(v))
			return n, err
		case 4:
			return consumeInt64(typ, b, &m.ClientSeq)
		case 5:
			return consumeInt64(typ, b, &m.ServerSeq)
		case 6:
			return consumeInt64(typ, b, &m.ErrorCode)
		case 7:
			return consumeString(typ, b, &m.ErrorMessage)
		}
		return skip(num, typ, b)
	})
}

// EncodeEvent serializes a notification wrapper.
func EncodeEvent(ev *EventMessage) []byte {
	var b []byte
	b = appendString(b, 1, ev.Type)
	if len(ev.Body) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, ev.Body)
	}
	return b
}

// DecodeEvent parses a notification wrapper from a Notify envelope body.
func DecodeEvent(data []byte) (*EventMessage, error) {
	ev := &EventMessage{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &ev.Type)
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err == nil {
				ev.Body = append([]byte(nil), v...)
			}
			return n, err
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, decodeErr("event", err)
	}
	return ev, nil
}

// NewNotify wraps a typed payload into a Notify envelope, as the gate does.
func NewNotify(eventType string, payload []byte) *Envelope {
	return &Envelope{
		Meta: Meta{MessageType: MessageTypeNotify},
		Body: EncodeEvent(&EventMessage{Type: eventType, Body: payload}),
	}
}

// --- protowire helpers ---

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk iterates over the top-level fields of a message.
// fn receives the bytes following the tag and returns how many it consumed.
func walk(data []byte, fn fieldFunc) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m < 0 || m > len(data) {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return n, err
	}
	*dst = string(v)
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, errWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeInt64(typ protowire.Type, b []byte, dst *int64) (int, error) {
	var v uint64
	n, err := consumeVarint(typ, b, &v)
	if err == nil {
		*dst = int64(v)
	}
	return n, err
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
