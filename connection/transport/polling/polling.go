package polling

import (
	"net/http"
	"sync/atomic"
	"time"

	"bastionzero.com/bzsignalr/connection/httpclient"
	"bastionzero.com/bzsignalr/connection/messenger/signalr"
	"bastionzero.com/bzsignalr/connection/transport"
	"bastionzero.com/bzsignalr/heartbeat"
	"bastionzero.com/bzsignalr/logger"
)

const (
	Name = "LongPolling"

	// added to the connection timeout so the server gets to end a poll before we do
	pollTimeoutPadding = 10 * time.Second
)

// Transport long polls: it keeps at most one poll in flight and, paced by heartbeat
// ticks, sends the next one once the server's requested delay has passed
type Transport struct {
	*transport.Transport

	client     *httpclient.Client
	heartbeats *heartbeat.Manager
	now        func() time.Time

	pollRequest atomic.Pointer[httpclient.Request]

	// nanoseconds since the epoch of the last poll that returned a message, zero until then
	lastPoll  atomic.Int64
	pollDelay atomic.Int64

	// whether heartbeat ticks may start polls
	active atomic.Bool
}

func New(
	logger *logger.Logger,
	connection transport.Connection,
	client *httpclient.Client,
	heartbeats *heartbeat.Manager,
) *Transport {
	t := &Transport{
		client:     client,
		heartbeats: heartbeats,
		now:        time.Now,
	}
	t.Transport = transport.New(logger, Name, transport.LongPoll, connection, client, t)

	return t
}

func (t *Transport) LastPoll() time.Time {
	if nanos := t.lastPoll.Load(); nanos != 0 {
		return time.Unix(0, nanos)
	}
	return time.Time{}
}

func (t *Transport) PollDelay() time.Duration {
	return time.Duration(t.pollDelay.Load())
}

func (t *Transport) PollTimeout() time.Duration {
	return t.Connection().ConnectionTimeout() + pollTimeoutPadding
}

// IsPolling reports whether a poll is in flight
func (t *Transport) IsPolling() bool {
	return t.pollRequest.Load() != nil
}

func (t *Transport) Connect() {
	requestType := t.BeginConnect()

	uri, err := t.Connection().BuildUri(requestType, t.Transport)
	if err != nil {
		t.Connection().Error("Connect - failed to build uri: " + err.Error())
		return
	}

	t.Logger().Infof("Sending %s request", requestType)

	request := t.client.NewRequest(http.MethodGet, uri, t.onConnectCompleted)
	request.DisableCache = true
	t.Connection().PrepareRequest(request, requestType)
	request.Send()
}

func (t *Transport) onConnectCompleted(request *httpclient.Request, response *httpclient.Response) {
	if reason := transport.DescribeFailure("Connect", request, response); reason != "" {
		t.Logger().Errorf("%s", reason)
		t.Connection().Error(reason)
		return
	}

	if state := t.State(); state.IsTerminal() {
		t.Logger().Infof("Dropping connect response that arrived while %s", state)
		return
	}

	if !t.OnConnected() {
		return
	}

	if message := transport.Parse(t.Connection().JsonEncoder(), response.DataAsText()); message != nil {
		t.updatePollDelay(message)
		t.Connection().OnMessage(message)
	}
}

func (t *Transport) OnHeartbeatUpdate(now time.Time, elapsed time.Duration) {
	if t.State() != transport.Started || t.IsPolling() {
		return
	}

	due := t.LastPoll().Add(t.PollDelay() + t.Connection().LongPollDelay())
	if now.Before(due) {
		return
	}

	t.Poll()
}

// Poll sends a poll unless one is already pending
func (t *Transport) Poll() {
	uri, err := t.Connection().BuildUri(transport.Poll, t.Transport)
	if err != nil {
		t.Connection().Error("Poll - failed to build uri: " + err.Error())
		return
	}

	request := t.client.NewRequest(http.MethodGet, uri, t.onPollCompleted)
	request.Timeout = t.PollTimeout()
	request.DisableCache = true
	t.Connection().PrepareRequest(request, transport.Poll)

	if !t.pollRequest.CompareAndSwap(nil, request) {
		return
	}

	// Stop may have run between our state check and claiming the slot
	if !t.active.Load() {
		t.pollRequest.CompareAndSwap(request, nil)
		return
	}

	t.Logger().Tracef("Polling")
	request.Send()
}

func (t *Transport) onPollCompleted(request *httpclient.Request, response *httpclient.Response) {
	// An aborted poll may already have been replaced, so it must not touch the slot
	if request.IsCancellationRequested() || request.State() == httpclient.Aborted {
		return
	}

	t.pollRequest.CompareAndSwap(request, nil)

	if reason := transport.DescribeFailure("Poll", request, response); reason != "" {
		t.Logger().Errorf("%s", reason)
		t.Connection().Error(reason)
		return
	}

	message := transport.Parse(t.Connection().JsonEncoder(), response.DataAsText())
	if message == nil {
		return
	}

	t.lastPoll.Store(t.now().UnixNano())
	t.updatePollDelay(message)
	t.Connection().OnMessage(message)
}

func (t *Transport) updatePollDelay(message signalr.ServerMessage) {
	if multi, ok := message.(*signalr.MultiMessage); ok && multi.PollDelay != nil {
		t.pollDelay.Store(int64(*multi.PollDelay))
		t.Logger().Debugf("Server asked for a poll delay of %s", *multi.PollDelay)
	}
}

func (t *Transport) SendText(text string) {
	uri, err := t.Connection().BuildUri(transport.Send, t.Transport)
	if err != nil {
		t.Connection().Error("Send - failed to build uri: " + err.Error())
		return
	}

	request := t.client.NewRequest(http.MethodPost, uri, t.onSendCompleted)
	request.Form().Set("data", text)
	request.DisableCache = true
	t.Connection().PrepareRequest(request, transport.Send)
	request.Send()
}

func (t *Transport) onSendCompleted(request *httpclient.Request, response *httpclient.Response) {
	if reason := transport.DescribeFailure("Send", request, response); reason != "" {
		t.Logger().Errorf("%s", reason)
		t.Connection().Error(reason)
		return
	}

	if message := transport.Parse(t.Connection().JsonEncoder(), response.DataAsText()); message != nil {
		t.Connection().OnMessage(message)
	}
}

// Started arms polling. LastPoll is left alone, so the first tick after a fresh
// connect polls straight away.
func (t *Transport) Started() {
	t.active.Store(true)
	t.heartbeats.Subscribe(t)
}

func (t *Transport) Aborted() {
	t.release()
}

func (t *Transport) Stop() {
	t.Logger().Infof("Stopping")
	t.release()
}

func (t *Transport) release() {
	t.active.Store(false)
	t.heartbeats.Unsubscribe(t)

	if request := t.pollRequest.Swap(nil); request != nil {
		request.Abort()
	}
}
