package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bastionzero.com/bzsignalr/logger"
)

const (
	defaultConnectTimeout = 20 * time.Second

	// query key the server ignores, used only to defeat intermediary caches
	cacheBusterKey = "_"
)

type Options struct {
	// How long a dial may take before the request is reported as ConnectionTimedOut
	ConnectTimeout time.Duration
}

// Client sends Requests asynchronously and reports their outcome through a callback
type Client struct {
	logger *logger.Logger
	client *http.Client
}

func New(logger *logger.Logger, options Options) *Client {
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = defaultConnectTimeout
	}

	dialer := &net.Dialer{
		Timeout:   options.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext

	return &Client{
		logger: logger,
		client: &http.Client{Transport: transport},
	}
}

// Callback is invoked exactly once for every sent Request. response is nil unless
// the request reached the Finished state.
type Callback func(request *Request, response *Response)

type Request struct {
	client   *Client
	method   string
	url      *url.URL
	headers  http.Header
	form     url.Values
	callback Callback

	// Zero means no limit beyond the dial timeout
	Timeout      time.Duration
	DisableCache bool

	state           atomic.Int32
	cancelRequested atomic.Bool

	lock   sync.Mutex
	cancel context.CancelFunc
	err    error
}

func (c *Client) NewRequest(method string, target *url.URL, callback Callback) *Request {
	return &Request{
		client:   c,
		method:   method,
		url:      target,
		headers:  http.Header{},
		callback: callback,
	}
}

func (r *Request) Method() string       { return r.method }
func (r *Request) URL() *url.URL        { return r.url }
func (r *Request) Headers() http.Header { return r.headers }

// Form returns the url-encoded body fields, sent when non-empty
func (r *Request) Form() url.Values {
	if r.form == nil {
		r.form = url.Values{}
	}
	return r.form
}

func (r *Request) State() RequestState {
	return RequestState(r.state.Load())
}

func (r *Request) IsCancellationRequested() bool {
	return r.cancelRequested.Load()
}

// Err holds the failure behind an Error, TimedOut or ConnectionTimedOut state
func (r *Request) Err() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.err
}

// Send starts the exchange on its own goroutine. A request can only be sent once.
func (r *Request) Send() {
	if !r.state.CompareAndSwap(int32(Initial), int32(Queued)) {
		r.client.logger.Errorf("refusing to send %s request to %s twice", r.method, r.url)
		return
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), r.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	r.lock.Lock()
	r.cancel = cancel
	r.lock.Unlock()

	// an abort that raced with us may have missed the cancel func
	if r.cancelRequested.Load() {
		cancel()
	}

	go r.execute(ctx, cancel)
}

// Abort cancels the request. It is safe to call at any point in the request's life.
func (r *Request) Abort() {
	r.cancelRequested.Store(true)

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Request) execute(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	r.state.Store(int32(Processing))

	httpRequest, err := r.build(ctx)
	if err != nil {
		r.complete(Error, nil, err)
		return
	}

	r.client.logger.Tracef("%s %s", r.method, httpRequest.URL)

	response, err := r.client.client.Do(httpRequest)
	if err != nil {
		r.complete(r.classify(ctx, err), nil, err)
		return
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		r.complete(r.classify(ctx, err), nil, fmt.Errorf("failed to read response body: %w", err))
		return
	}

	r.complete(Finished, &Response{
		StatusCode: response.StatusCode,
		Status:     response.Status,
		Body:       body,
	}, nil)
}

func (r *Request) build(ctx context.Context) (*http.Request, error) {
	if r.url == nil {
		return nil, fmt.Errorf("request has no url")
	}

	target := *r.url
	if r.DisableCache {
		query := target.Query()
		query.Set(cacheBusterKey, uuid.NewString())
		target.RawQuery = query.Encode()
	}

	var body io.Reader
	if len(r.form) > 0 {
		body = strings.NewReader(r.form.Encode())
	}

	httpRequest, err := http.NewRequestWithContext(ctx, r.method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", r.method, err)
	}

	httpRequest.Header = r.headers.Clone()
	if body != nil {
		httpRequest.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if r.DisableCache {
		httpRequest.Header.Set("Cache-Control", "no-cache")
	}

	return httpRequest, nil
}

func (r *Request) classify(ctx context.Context, err error) RequestState {
	if r.cancelRequested.Load() {
		return Aborted
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimedOut
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && opErr.Timeout() {
		return ConnectionTimedOut
	}

	return Error
}

func (r *Request) complete(state RequestState, response *Response, err error) {
	r.lock.Lock()
	r.err = err
	r.lock.Unlock()

	r.state.Store(int32(state))

	if err != nil && state != Aborted {
		r.client.logger.Debugf("%s %s ended in %s: %s", r.method, r.url, state, err)
	}

	if r.callback != nil {
		r.callback(r, response)
	}
}
