package transport

import (
	"net/url"
	"time"

	"github.com/stretchr/testify/mock"

	"bastionzero.com/bzsignalr/connection/encoder"
	"bastionzero.com/bzsignalr/connection/messenger/signalr"
)

type MockConnection struct {
	mock.Mock
}

func (m *MockConnection) BuildUri(requestType RequestType, transport *Transport) (*url.URL, error) {
	args := m.Called(requestType, transport)
	uri, _ := args.Get(0).(*url.URL)
	return uri, args.Error(1)
}

func (m *MockConnection) PrepareRequest(request Request, requestType RequestType) {
	m.Called(request, requestType)
}

func (m *MockConnection) OnMessage(message signalr.ServerMessage) {
	m.Called(message)
}

func (m *MockConnection) Error(reason string) {
	m.Called(reason)
}

func (m *MockConnection) ConnectionTimeout() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func (m *MockConnection) LongPollDelay() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func (m *MockConnection) JsonEncoder() encoder.JsonEncoder {
	args := m.Called()
	return args.Get(0).(encoder.JsonEncoder)
}

type MockHooks struct {
	mock.Mock
}

func (m *MockHooks) Connect() {
	m.Called()
}

func (m *MockHooks) Stop() {
	m.Called()
}

func (m *MockHooks) SendText(text string) {
	m.Called(text)
}

func (m *MockHooks) Started() {
	m.Called()
}

func (m *MockHooks) Aborted() {
	m.Called()
}
