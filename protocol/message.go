package protocol

import "fmt"

// MessageType classifies an envelope on the wire
type MessageType int32

const (
	MessageTypeRequest  MessageType = 1
	MessageTypeResponse MessageType = 2
	MessageTypeNotify   MessageType = 3
)

// String returns a string representation of the message type
func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeResponse:
		return "response"
	case MessageTypeNotify:
		return "notify"
	default:
		return fmt.Sprintf("unknown(%d)", int32(t))
	}
}

// Gate services and methods used by the connection itself.
// Everything else is issued by managers and treated as opaque.
const (
	UserService     = "gamepb.userpb.UserService"
	MethodLogin     = "Login"
	MethodHeartbeat = "Heartbeat"
)

// Meta is the envelope header
type Meta struct {
	ServiceName  string
	MethodName   string
	MessageType  MessageType
	ClientSeq    int64 // Assigned by the client for requests, echoed in responses
	ServerSeq    int64 // Peer sequence, tracked as a high-water mark
	ErrorCode    int64 // 0 = success
	ErrorMessage string
}

// Envelope is one message unit exchanged with the gate
type Envelope struct {
	Meta Meta
	Body []byte
}

// FullMethod returns "service.method" for logging.
func (m Meta) FullMethod() string {
	return m.ServiceName + "." + m.MethodName
}

// EventMessage wraps a push notification inside a Notify envelope body
type EventMessage struct {
	Type string // Fully qualified payload type, e.g. "gamepb.plantpb.LandsNotify"
	Body []byte
}

// DecodeError reports a malformed envelope, event wrapper or payload.
// It is always recoverable: the offending message is dropped.
type DecodeError struct {
	What string // Which structure failed to decode
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(what string, err error) error {
	return &DecodeError{What: what, Err: err}
}
