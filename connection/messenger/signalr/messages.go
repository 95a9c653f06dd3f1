/*
The signalr package holds the inbound message model of the persistent connection
protocol. Decoded payloads become one of a closed set of ServerMessage variants; callers
switch on the concrete type instead of poking at raw maps.

Ref: https://blog.3d-logic.com/2015/03/29/signalr-on-the-wire-an-informal-description-of-the-signalr-protocol/
*/
package signalr

import (
	"time"

	orderedmap "github.com/wk8/go-ordered-map"
)

type MessageType int

const (
	Invalid MessageType = iota
	KeepAlive
	Multiple
	Data
	MethodCall
	Result
	Failure
	Progress
)

func (m MessageType) String() string {
	switch m {
	case KeepAlive:
		return "KeepAlive"
	case Multiple:
		return "Multiple"
	case Data:
		return "Data"
	case MethodCall:
		return "MethodCall"
	case Result:
		return "Result"
	case Failure:
		return "Failure"
	case Progress:
		return "Progress"
	default:
		return "Invalid"
	}
}

type ServerMessage interface {
	Type() MessageType
}

// The server sends an empty object to keep the connection alive
type KeepAliveMessage struct{}

func (KeepAliveMessage) Type() MessageType { return KeepAlive }

// MultiMessage is the envelope that carries zero or more messages together with the
// connection bookkeeping the server wants the client to track
type MultiMessage struct {
	MessageId        string
	IsInitialization bool
	GroupsToken      string
	ShouldReconnect  bool

	// Nil unless the server asked long polling clients to wait between polls
	PollDelay *time.Duration

	Data []ServerMessage
}

func (*MultiMessage) Type() MessageType { return Multiple }

// DataMessage is any element of a MultiMessage that isn't a hub method call
type DataMessage struct {
	Data interface{}
}

func (*DataMessage) Type() MessageType { return Data }

type MethodCallMessage struct {
	Hub       string
	Method    string
	Arguments []interface{}
	State     *orderedmap.OrderedMap
}

func (*MethodCallMessage) Type() MessageType { return MethodCall }

type ResultMessage struct {
	InvocationId string
	ReturnValue  interface{}
	State        *orderedmap.OrderedMap
}

func (*ResultMessage) Type() MessageType { return Result }

type FailureMessage struct {
	InvocationId   string
	IsHubError     bool
	ErrorMessage   string
	AdditionalData interface{}
	StackTrace     string
	State          *orderedmap.OrderedMap
}

func (*FailureMessage) Type() MessageType { return Failure }

type ProgressMessage struct {
	InvocationId string
	Progress     interface{}
}

func (*ProgressMessage) Type() MessageType { return Progress }
