package transporter

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/stretchr/testify/mock"
)

type MockSocket struct {
	mock.Mock

	lock     sync.Mutex
	handlers Handlers
	headers  http.Header
}

func (m *MockSocket) Open() {
	m.Called()
}

func (m *MockSocket) Send(text string) error {
	args := m.Called(text)
	return args.Error(0)
}

func (m *MockSocket) Close() {
	m.Called()
}

func (m *MockSocket) IsOpen() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockSocket) SetHandlers(handlers Handlers) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlers = handlers
}

func (m *MockSocket) Headers() http.Header {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.headers == nil {
		m.headers = http.Header{}
	}
	return m.headers
}

func (m *MockSocket) URL() *url.URL {
	args := m.Called()
	return args.Get(0).(*url.URL)
}

// Handlers returns whatever was last passed to SetHandlers so tests can drive the callbacks
func (m *MockSocket) Handlers() Handlers {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.handlers
}
