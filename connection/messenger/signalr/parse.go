package signalr

import (
	"fmt"
	"math"
	"strconv"
	"time"

	orderedmap "github.com/wk8/go-ordered-map"
)

// Wire keys
const (
	keyMessageId       = "C"
	keyMessages        = "M"
	keyInitialization  = "S"
	keyGroupsToken     = "G"
	keyShouldReconnect = "T"
	keyPollDelay       = "L"

	keyHub       = "H"
	keyMethod    = "M"
	keyArguments = "A"
	keyState     = "S"

	keyInvocationId   = "I"
	keyResult         = "R"
	keyError          = "E"
	keyHubError       = "H"
	keyAdditionalData = "D"
	keyStackTrace     = "T"
	keyProgress       = "P"
	keyProgressData   = "D"
)

// anything larger doesn't fit in a time.Duration
const maxPollDelayMilliseconds = float64(math.MaxInt64) / float64(time.Millisecond)

// FromMap maps a decoded message onto its variant
func FromMap(message *orderedmap.OrderedMap) (ServerMessage, error) {
	if message == nil {
		return nil, &ParseError{Reason: "no message"}
	}

	if message.Len() == 0 {
		return KeepAliveMessage{}, nil
	}

	_, hasMessageId := message.Get(keyMessageId)
	messages, _ := message.Get(keyMessages)
	if _, isList := messages.([]interface{}); hasMessageId || isList {
		return parseMultiMessage(message)
	}

	if _, ok := message.Get(keyInvocationId); ok {
		if _, ok := message.Get(keyError); ok {
			return parseFailureMessage(message), nil
		} else if _, ok := message.Get(keyProgress); ok {
			return parseProgressMessage(message)
		}
		return parseResultMessage(message), nil
	}

	return nil, &ParseError{Reason: fmt.Sprintf("message has none of the expected keys (%d keys)", message.Len())}
}

func parseMultiMessage(message *orderedmap.OrderedMap) (*MultiMessage, error) {
	multi := &MultiMessage{
		MessageId:        getString(message, keyMessageId),
		IsInitialization: getFlag(message, keyInitialization),
		GroupsToken:      getString(message, keyGroupsToken),
		ShouldReconnect:  getFlag(message, keyShouldReconnect),
	}

	if value, ok := message.Get(keyPollDelay); ok && value != nil {
		milliseconds, ok := toFloat(value)
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("poll delay is not a number: %v", value)}
		} else if math.IsNaN(milliseconds) || milliseconds < 0 || milliseconds >= maxPollDelayMilliseconds {
			return nil, &ParseError{Reason: fmt.Sprintf("poll delay out of range: %v", value)}
		}
		delay := time.Duration(milliseconds * float64(time.Millisecond))
		multi.PollDelay = &delay
	}

	if value, ok := message.Get(keyMessages); ok && value != nil {
		items, ok := value.([]interface{})
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("messages are not a list: %T", value)}
		}

		for _, item := range items {
			multi.Data = append(multi.Data, parseInnerMessage(item))
		}
	}

	return multi, nil
}

// Items of a MultiMessage are either hub method calls or opaque data
func parseInnerMessage(item interface{}) ServerMessage {
	if object, ok := item.(*orderedmap.OrderedMap); ok {
		hub, hasHub := object.Get(keyHub)
		method, hasMethod := object.Get(keyMethod)
		if _, hubIsString := hub.(string); hasHub && hasMethod && hubIsString {
			if _, methodIsString := method.(string); methodIsString {
				return parseMethodCallMessage(object)
			}
		}
	}

	return &DataMessage{Data: item}
}

func parseMethodCallMessage(message *orderedmap.OrderedMap) *MethodCallMessage {
	call := &MethodCallMessage{
		Hub:    getString(message, keyHub),
		Method: getString(message, keyMethod),
		State:  getObject(message, keyState),
	}

	if value, ok := message.Get(keyArguments); ok {
		call.Arguments, _ = value.([]interface{})
	}

	return call
}

func parseResultMessage(message *orderedmap.OrderedMap) *ResultMessage {
	result := &ResultMessage{
		InvocationId: getString(message, keyInvocationId),
		State:        getObject(message, keyState),
	}
	result.ReturnValue, _ = message.Get(keyResult)

	return result
}

func parseFailureMessage(message *orderedmap.OrderedMap) *FailureMessage {
	failure := &FailureMessage{
		InvocationId: getString(message, keyInvocationId),
		IsHubError:   getFlag(message, keyHubError),
		ErrorMessage: getString(message, keyError),
		StackTrace:   getString(message, keyStackTrace),
		State:        getObject(message, keyState),
	}
	failure.AdditionalData, _ = message.Get(keyAdditionalData)

	return failure
}

func parseProgressMessage(message *orderedmap.OrderedMap) (*ProgressMessage, error) {
	value, _ := message.Get(keyProgress)
	progress, ok := value.(*orderedmap.OrderedMap)
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("progress is not an object: %T", value)}
	}

	result := &ProgressMessage{
		InvocationId: getString(progress, keyInvocationId),
	}
	result.Progress, _ = progress.Get(keyProgressData)

	return result, nil
}

func getString(message *orderedmap.OrderedMap, key string) string {
	value, ok := message.Get(key)
	if !ok || value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Flags come over the wire as either 1/0 or true/false
func getFlag(message *orderedmap.OrderedMap, key string) bool {
	value, ok := message.Get(key)
	if !ok {
		return false
	}

	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v == 1
	default:
		return false
	}
}

func getObject(message *orderedmap.OrderedMap, key string) *orderedmap.OrderedMap {
	value, ok := message.Get(key)
	if !ok {
		return nil
	}

	object, _ := value.(*orderedmap.OrderedMap)
	return object
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
