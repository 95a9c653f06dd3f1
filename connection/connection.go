/*
Package connection owns a single transport and everything the transport asks of it:
addressing each request, decorating requests with configured headers, routing decoded
server messages to the application and deciding what to do when the transport fails.

Errors before the transport has ever started close the Connection. Errors after that
schedule a reconnect, paced by an exponential backoff bounded by the server's
disconnect timeout.
*/
package connection

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"gopkg.in/tomb.v2"

	"bastionzero.com/bzsignalr/connection/encoder"
	"bastionzero.com/bzsignalr/connection/httpclient"
	"bastionzero.com/bzsignalr/connection/messenger/signalr"
	"bastionzero.com/bzsignalr/connection/transport"
	"bastionzero.com/bzsignalr/connection/transport/polling"
	"bastionzero.com/bzsignalr/connection/transport/websocket"
	wsengine "bastionzero.com/bzsignalr/connection/transporter/websocket"
	"bastionzero.com/bzsignalr/heartbeat"
	"bastionzero.com/bzsignalr/logger"
	"bastionzero.com/bzsignalr/telemetry"
)

const (
	inboundBufferSize = 100

	// the server spreads long polling clients across this many buckets
	maxTid = 10

	defaultDisconnectTimeout = 30 * time.Second
	maxReconnectInterval     = 15 * time.Second
)

type Config struct {
	ServiceUrl     string
	ConnectionData string
	Transport      transport.Type
	Encoder        encoder.JsonEncoder
	Headers        http.Header
	QueryParams    url.Values
	Metrics        *telemetry.Metrics
}

type Connection struct {
	tmb    tomb.Tomb
	logger *logger.Logger

	config      Config
	serviceUrl  *url.URL
	negotiation *NegotiationResult
	transport   *transport.Transport

	// protocol cursor, sent back to the server when polling and reconnecting
	lock        sync.Mutex
	messageId   string
	groupsToken string
	backoff     *backoff.ExponentialBackOff

	started       atomic.Bool
	closed        atomic.Bool
	everStarted   atomic.Bool
	initialized   atomic.Bool
	lastMessageAt atomic.Int64

	inbound    chan signalr.ServerMessage
	reconnects chan struct{}
}

func New(
	logger *logger.Logger,
	config Config,
	negotiation *NegotiationResult,
	heartbeats *heartbeat.Manager,
	client *httpclient.Client,
) (*Connection, error) {
	if negotiation == nil {
		return nil, fmt.Errorf("cannot build a connection without a negotiation result")
	}

	serviceUrl, err := url.Parse(config.ServiceUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid service url %s: %w", config.ServiceUrl, err)
	} else if serviceUrl.Scheme == "" || serviceUrl.Host == "" {
		return nil, fmt.Errorf("service url %s must be absolute", config.ServiceUrl)
	}

	if config.Encoder == nil {
		config.Encoder = encoder.NewStreamEncoder()
	}
	if config.Headers == nil {
		config.Headers = http.Header{}
	}

	disconnectTimeout := negotiation.DisconnectTimeout
	if disconnectTimeout <= 0 {
		disconnectTimeout = defaultDisconnectTimeout
	}

	backoffParams := backoff.NewExponentialBackOff()
	backoffParams.MaxInterval = maxReconnectInterval
	backoffParams.MaxElapsedTime = disconnectTimeout

	conn := &Connection{
		logger:      logger.GetConnectionLogger(negotiation.ConnectionId),
		config:      config,
		serviceUrl:  serviceUrl,
		negotiation: negotiation,
		backoff:     backoffParams,
		inbound:     make(chan signalr.ServerMessage, inboundBufferSize),
		reconnects:  make(chan struct{}, 1),
	}

	switch config.Transport {
	case transport.LongPoll:
		conn.transport = polling.New(conn.logger, conn, client, heartbeats).Transport
	case transport.WebSocket, "":
		factory := wsengine.NewFactory(conn.logger.GetComponentLogger("Websocket"), wsengine.Options{
			HandshakeTimeout: negotiation.TransportConnectTimeout,
		})
		conn.transport = websocket.New(conn.logger, conn, client, factory).Transport
	default:
		return nil, fmt.Errorf("unknown transport: %s", config.Transport)
	}

	return conn, nil
}

// Start connects the transport and begins handling reconnects
func (c *Connection) Start() {
	if c.started.Swap(true) {
		return
	}

	c.tmb.Go(func() error {
		c.logger.Infof("Connection has started")
		defer c.logger.Infof("Connection has stopped")

		for {
			select {
			case <-c.tmb.Dying():
				return nil
			case <-c.reconnects:
				wait := c.nextBackoff()
				if wait == backoff.Stop {
					err := &ClosedError{Reason: fmt.Sprintf("failed to reconnect within %s", c.backoff.MaxElapsedTime)}
					c.close(err)
					return err
				}

				c.logger.Infof("Reconnecting in %s", wait.Round(time.Millisecond))
				select {
				case <-c.tmb.Dying():
					return nil
				case <-time.After(wait):
				}

				c.reconnect()
			}
		}
	})

	c.transport.Connect()
}

func (c *Connection) nextBackoff() time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.backoff.NextBackOff()
}

func (c *Connection) reconnect() {
	c.config.Metrics.Reconnect()

	switch state := c.transport.State(); state {
	case transport.Started:
		c.transport.Reconnect()
	case transport.Reconnecting:
		// the previous reconnect attempt failed, try it again
		c.transport.Connect()
	default:
		c.logger.Infof("Not reconnecting a transport that is %s", state)
	}
}

func (c *Connection) Send(payload interface{}) {
	c.transport.Send(payload)
}

func (c *Connection) Inbound() <-chan signalr.ServerMessage {
	return c.inbound
}

func (c *Connection) Done() <-chan struct{} {
	return c.tmb.Dead()
}

func (c *Connection) Err() error {
	return c.tmb.Err()
}

func (c *Connection) Transport() *transport.Transport { return c.transport }
func (c *Connection) State() transport.State        { return c.transport.State() }
func (c *Connection) IsInitialized() bool            { return c.initialized.Load() }

func (c *Connection) MessageId() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.messageId
}

func (c *Connection) GroupsToken() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.groupsToken
}

// LastMessageAt is when the server last sent us anything, including keep alives
func (c *Connection) LastMessageAt() time.Time {
	if nanos := c.lastMessageAt.Load(); nanos != 0 {
		return time.Unix(0, nanos)
	}
	return time.Time{}
}

// Close aborts the transport and waits for the connection's goroutines to finish
func (c *Connection) Close(reason error) {
	c.close(reason)

	if c.started.Load() {
		c.tmb.Wait()
	}
	c.logger.Infof("Connection done")
}

// close is safe to call from transport callbacks and tracked goroutines
func (c *Connection) close(reason error) {
	if c.closed.Swap(true) {
		return
	}

	c.logger.Infof("Connection closing because: %s", reason)

	if state := c.transport.State(); state != transport.Initial {
		c.transport.Abort()
	}
	c.transport.Stop()

	c.tmb.Kill(reason)
}

func (c *Connection) BuildUri(requestType transport.RequestType, t *transport.Transport) (*url.URL, error) {
	uri := *c.serviceUrl
	uri.Path = path.Join(uri.Path, requestType.String())

	query := uri.Query()
	query.Set("transport", string(t.Type()))
	query.Set("clientProtocol", ClientProtocol)
	query.Set("connectionToken", c.negotiation.ConnectionToken)
	if c.config.ConnectionData != "" {
		query.Set("connectionData", c.config.ConnectionData)
	}

	if requestType == transport.Poll || requestType == transport.Reconnect {
		if messageId := c.MessageId(); messageId != "" {
			query.Set("messageId", messageId)
		}
		if groupsToken := c.GroupsToken(); groupsToken != "" {
			query.Set("groupsToken", groupsToken)
		}
	}

	isConnectAttempt := requestType == transport.Connect || requestType == transport.Reconnect
	if t.Type() == transport.LongPoll && (isConnectAttempt || requestType == transport.Poll) {
		query.Set("tid", strconv.Itoa(rand.Intn(maxTid+1)))
	}

	for key, values := range c.config.QueryParams {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	uri.RawQuery = query.Encode()

	if t.Type() == transport.WebSocket && isConnectAttempt {
		switch uri.Scheme {
		case "https":
			uri.Scheme = wsengine.HttpsOnlyWebsocketScheme
		case "http":
			uri.Scheme = wsengine.HttpWebsocketScheme
		}
	}

	return &uri, nil
}

func (c *Connection) PrepareRequest(request transport.Request, requestType transport.RequestType) {
	headers := request.Headers()
	for key, values := range c.config.Headers {
		headers.Del(key)
		for _, value := range values {
			headers.Add(key, value)
		}
	}
}

func (c *Connection) OnMessage(message signalr.ServerMessage) {
	c.lastMessageAt.Store(time.Now().UnixNano())
	c.config.Metrics.MessageReceived(message.Type().String())

	switch m := message.(type) {
	case signalr.KeepAliveMessage:
		c.logger.Tracef("Keep alive")
	case *signalr.MultiMessage:
		c.lock.Lock()
		if m.MessageId != "" {
			c.messageId = m.MessageId
		}
		if m.GroupsToken != "" {
			c.groupsToken = m.GroupsToken
		}
		c.lock.Unlock()

		if m.IsInitialization && !c.initialized.Swap(true) {
			c.logger.Infof("Connection initialized")
		}

		for _, contained := range m.Data {
			c.deliver(contained)
		}

		if m.ShouldReconnect {
			c.logger.Infof("Server asked us to reconnect")
			c.requestReconnect()
		}
	default:
		c.deliver(message)
	}
}

func (c *Connection) deliver(message signalr.ServerMessage) {
	select {
	case c.inbound <- message:
	case <-c.tmb.Dying():
	}
}

func (c *Connection) Error(reason string) {
	c.logger.Errorf("%s transport error: %s", c.transport.Name(), reason)
	c.config.Metrics.TransportError(c.transport.Name())

	if c.closed.Load() {
		return
	}

	if !c.everStarted.Load() {
		c.close(&ClosedError{Reason: "failed to connect", InnerErr: errors.New(reason)})
		return
	}

	c.requestReconnect()
}

func (c *Connection) requestReconnect() {
	select {
	case c.reconnects <- struct{}{}:
	default:
	}
}

func (c *Connection) OnTransportStateChanged(t *transport.Transport, old transport.State, new transport.State) {
	c.config.Metrics.TransportStateChanged(t.Name(), new.String())

	if new == transport.Started {
		c.everStarted.Store(true)

		c.lock.Lock()
		c.backoff.Reset()
		c.lock.Unlock()
	}
}

func (c *Connection) TransportAborted(t *transport.Transport) {
	c.logger.Infof("%s transport aborted", t.Name())
}

func (c *Connection) ConnectionTimeout() time.Duration {
	return c.negotiation.ConnectionTimeout
}

func (c *Connection) LongPollDelay() time.Duration {
	return c.negotiation.LongPollDelay
}

func (c *Connection) JsonEncoder() encoder.JsonEncoder {
	return c.config.Encoder
}
