package tests

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// MockServer stands in for a SignalR service over plain HTTP. It routes each endpoint
// (negotiate, connect, poll, send, abort...) to its own handler and counts how many
// requests each one saw, so transports can be checked for how often they hit the wire.
type MockServer struct {
	server *httptest.Server

	lock sync.Mutex
	hits map[string]int

	Url string
}

type MockHandler struct {
	Endpoint    string
	HandlerFunc http.HandlerFunc
}

func NewMockServer(handlers ...MockHandler) *MockServer {
	m := &MockServer{hits: map[string]int{}}
	mux := http.NewServeMux()

	for _, handler := range handlers {
		endpoint, handlerFunc := handler.Endpoint, handler.HandlerFunc
		mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
			m.lock.Lock()
			m.hits[endpoint]++
			m.lock.Unlock()

			handlerFunc(w, r)
		})
	}

	m.server = httptest.NewServer(mux)
	m.Url = m.server.URL

	return m
}

// Endpoint is the absolute url of one of the server's routes
func (m *MockServer) Endpoint(path string) *url.URL {
	endpoint, _ := url.Parse(m.Url + path)
	return endpoint
}

// Hits counts the requests routed to endpoint so far, including ones still in flight
func (m *MockServer) Hits(endpoint string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.hits[endpoint]
}

// Close drops open client connections first so that a poll parked in a handler can't
// hold shutdown up; handlers that block still need to be released by the test
func (m *MockServer) Close() {
	m.server.CloseClientConnections()
	m.server.Close()
}
