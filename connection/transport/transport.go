package transport

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"bastionzero.com/bzsignalr/connection/encoder"
	"bastionzero.com/bzsignalr/connection/httpclient"
	"bastionzero.com/bzsignalr/connection/messenger/signalr"
	"bastionzero.com/bzsignalr/logger"
)

const MaxAbortRetries = 3

// Transport holds the lifecycle shared by every transport kind. Kinds embed it and
// supply their behaviour through Hooks.
type Transport struct {
	name       string
	kind       Type
	logger     *logger.Logger
	connection Connection
	client     *httpclient.Client
	hooks      Hooks

	state State32

	abortAttempts atomic.Int32
	abortFinished atomic.Bool
}

func New(
	logger *logger.Logger,
	name string,
	kind Type,
	connection Connection,
	client *httpclient.Client,
	hooks Hooks,
) *Transport {
	return &Transport{
		name:       name,
		kind:       kind,
		logger:     logger.GetTransportLogger(name),
		connection: connection,
		client:     client,
		hooks:      hooks,
	}
}

func (t *Transport) Name() string               { return t.name }
func (t *Transport) Type() Type                 { return t.kind }
func (t *Transport) Logger() *logger.Logger     { return t.logger }
func (t *Transport) Connection() Connection     { return t.connection }
func (t *Transport) Client() *httpclient.Client { return t.client }
func (t *Transport) State() State               { return t.state.Load() }

// SetState moves to the new state and returns the one it replaced
func (t *Transport) SetState(new State) State {
	old := t.state.Swap(new)
	if old != new {
		t.notify(old, new)
	}
	return old
}

// CompareAndSwapState transitions only if the current state is old
func (t *Transport) CompareAndSwapState(old State, new State) bool {
	if !t.state.CompareAndSwap(old, new) {
		return false
	}

	if old != new {
		t.notify(old, new)
	}
	return true
}

func (t *Transport) notify(old State, new State) {
	t.logger.Debugf("State changed from %s to %s", old, new)

	if listener, ok := t.connection.(StateListener); ok {
		listener.OnTransportStateChanged(t, old, new)
	}
}

// BeginConnect enters Connecting, unless we are Reconnecting, and returns the kind of
// request the attempt should be addressed as
func (t *Transport) BeginConnect() RequestType {
	for {
		current := t.State()
		if current == Reconnecting {
			return Reconnect
		}

		if t.CompareAndSwapState(current, Connecting) {
			t.abortFinished.Store(false)
			t.abortAttempts.Store(0)
			return Connect
		}
	}
}

// OnConnected completes an attempt. It returns false, without running the Started
// hook, if the attempt was overtaken by a Stop or Abort.
func (t *Transport) OnConnected() bool {
	if !t.CompareAndSwapState(Connecting, Started) && !t.CompareAndSwapState(Reconnecting, Started) {
		t.logger.Infof("Ignoring connected notification while %s", t.State())
		return false
	}

	t.logger.Infof("%s transport started", t.name)
	t.hooks.Started()
	return true
}

func (t *Transport) Connect() {
	t.hooks.Connect()
}

func (t *Transport) Stop() {
	t.hooks.Stop()
}

// Send encodes payload and hands it to the transport. Messages are dropped if encoding
// fails or the transport isn't started.
func (t *Transport) Send(payload interface{}) {
	if state := t.State(); state != Started {
		t.logger.Errorf("Dropping message because transport is %s", state)
		return
	}

	text, err := t.connection.JsonEncoder().Encode(payload)
	if err != nil {
		t.logger.Errorf("Dropping message that failed to encode: %s", err)
		return
	}

	t.hooks.SendText(text)
}

// Reconnect restarts a started transport through the reconnect endpoint
func (t *Transport) Reconnect() {
	if state := t.State(); state != Started {
		t.logger.Infof("Not reconnecting because transport is %s", state)
		return
	}

	t.logger.Infof("Reconnecting %s transport", t.name)
	t.Stop()
	t.SetState(Reconnecting)
	t.Connect()
}

// Abort asks the server to drop the connection. Failed abort requests are retried up
// to MaxAbortRetries times before the abort is considered finished anyway.
func (t *Transport) Abort() {
	for {
		current := t.State()
		if current == Closed || current == Aborted {
			t.logger.Debugf("Ignoring abort while %s", current)
			return
		}

		if current == Closing || t.CompareAndSwapState(current, Closing) {
			break
		}
	}

	t.sendAbort()
}

func (t *Transport) sendAbort() {
	uri, err := t.connection.BuildUri(Abort, t)
	if err != nil {
		t.logger.Errorf("Failed to build abort uri: %s", err)
		t.FinishAbort()
		return
	}

	attempt := t.abortAttempts.Add(1)
	t.logger.Infof("Sending abort request, attempt %d", attempt)

	request := t.client.NewRequest(http.MethodGet, uri, t.onAbortCompleted)
	request.DisableCache = true
	t.connection.PrepareRequest(request, Abort)
	request.Send()
}

func (t *Transport) onAbortCompleted(request *httpclient.Request, response *httpclient.Response) {
	if request.State() == httpclient.Finished && response.IsSuccess() {
		t.FinishAbort()
		return
	}

	reason := DescribeFailure("Abort", request, response)
	if t.abortAttempts.Load() >= MaxAbortRetries {
		t.logger.Errorf("Giving up on abort: %s", reason)
		t.FinishAbort()
		return
	}

	t.logger.Infof("Retrying abort: %s", reason)
	t.sendAbort()
}

// FinishAbort ends an abort. The first call wins.
func (t *Transport) FinishAbort() {
	if t.abortFinished.Swap(true) {
		return
	}

	for {
		current := t.State()
		if current == Closed || current == Aborted || t.CompareAndSwapState(current, Aborted) {
			break
		}
	}

	if listener, ok := t.connection.(AbortListener); ok {
		listener.TransportAborted(t)
	}

	t.hooks.Aborted()
}

// Parse decodes text into a server message. It returns nil for empty text or anything
// that isn't a recognisable message.
func Parse(enc encoder.JsonEncoder, text string) signalr.ServerMessage {
	if text == "" || enc == nil {
		return nil
	}

	decoded, err := enc.DecodeMessage(text)
	if err != nil {
		return nil
	}

	message, err := signalr.FromMap(decoded)
	if err != nil {
		return nil
	}

	return message
}

// DescribeFailure renders why a request did not succeed. It returns the empty string for
// a finished request with a 2xx response.
func DescribeFailure(prefix string, request *httpclient.Request, response *httpclient.Response) string {
	switch state := request.State(); state {
	case httpclient.Finished:
		if response != nil && response.IsSuccess() {
			return ""
		} else if response == nil {
			return fmt.Sprintf("%s - Request Finished without a response", prefix)
		}
		return fmt.Sprintf("%s - Request Finished Successfully, but the server sent an error. Status Code: %d-%s", prefix, response.StatusCode, http.StatusText(response.StatusCode))
	case httpclient.Error:
		return fmt.Sprintf("%s - Request Finished with Error! %s", prefix, request.Err())
	case httpclient.Aborted:
		return fmt.Sprintf("%s - Request Aborted!", prefix)
	case httpclient.TimedOut:
		return fmt.Sprintf("%s - Request TimedOut!", prefix)
	case httpclient.ConnectionTimedOut:
		return fmt.Sprintf("%s - Connection TimedOut!", prefix)
	default:
		return fmt.Sprintf("%s - Request ended in unexpected state %s", prefix, state)
	}
}
