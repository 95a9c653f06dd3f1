package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/Masterminds/semver"
	"github.com/segmentio/encoding/json"

	"bastionzero.com/bzsignalr/connection/httpclient"
	"bastionzero.com/bzsignalr/logger"
)

const (
	ClientProtocol = "1.5"

	supportedProtocols = ">= 1.2, <= 1.5"

	negotiateEndpoint = "negotiate"
)

// NegotiationResult is what the server tells us about the connection before we pick a transport
type NegotiationResult struct {
	Url                     string
	ConnectionToken         string
	ConnectionId            string
	ProtocolVersion         string
	TryWebSockets           bool
	KeepAliveTimeout        time.Duration
	DisconnectTimeout       time.Duration
	ConnectionTimeout       time.Duration
	TransportConnectTimeout time.Duration
	LongPollDelay           time.Duration
}

// timeouts come over the wire in seconds
type negotiationResponse struct {
	Url                     string   `json:"Url"`
	ConnectionToken         string   `json:"ConnectionToken"`
	ConnectionId            string   `json:"ConnectionId"`
	ProtocolVersion         string   `json:"ProtocolVersion"`
	TryWebSockets           bool     `json:"TryWebSockets"`
	KeepAliveTimeout        *float64 `json:"KeepAliveTimeout"`
	DisconnectTimeout       float64  `json:"DisconnectTimeout"`
	ConnectionTimeout       float64  `json:"ConnectionTimeout"`
	TransportConnectTimeout float64  `json:"TransportConnectTimeout"`
	LongPollDelay           float64  `json:"LongPollDelay"`
}

func ParseNegotiationResult(body []byte) (*NegotiationResult, error) {
	var response negotiationResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("malformed negotiation response: %w", err)
	}

	if response.ConnectionToken == "" {
		return nil, fmt.Errorf("negotiation response has no connection token")
	}

	if c, err := semver.NewConstraint(supportedProtocols); err != nil {
		return nil, fmt.Errorf("unable to create protocol version constraint: %w", err)
	} else if v, err := semver.NewVersion(response.ProtocolVersion); err != nil {
		return nil, &ProtocolVersionError{Version: response.ProtocolVersion}
	} else if !c.Check(v) {
		return nil, &ProtocolVersionError{Version: response.ProtocolVersion}
	}

	result := &NegotiationResult{
		Url:                     response.Url,
		ConnectionToken:         response.ConnectionToken,
		ConnectionId:            response.ConnectionId,
		ProtocolVersion:         response.ProtocolVersion,
		TryWebSockets:           response.TryWebSockets,
		DisconnectTimeout:       seconds(response.DisconnectTimeout),
		ConnectionTimeout:       seconds(response.ConnectionTimeout),
		TransportConnectTimeout: seconds(response.TransportConnectTimeout),
		LongPollDelay:           seconds(response.LongPollDelay),
	}

	// a missing keep alive timeout means the server doesn't send keep alives
	if response.KeepAliveTimeout != nil {
		result.KeepAliveTimeout = seconds(*response.KeepAliveTimeout)
	}

	return result, nil
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

// Negotiate asks the server for a connection token
func Negotiate(
	ctx context.Context,
	logger *logger.Logger,
	client *httpclient.Client,
	serviceUrl string,
	connectionData string,
	headers http.Header,
) (*NegotiationResult, error) {
	negotiateUrl, err := url.Parse(serviceUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid service url %s: %w", serviceUrl, err)
	}
	negotiateUrl.Path = path.Join(negotiateUrl.Path, negotiateEndpoint)

	query := negotiateUrl.Query()
	query.Set("clientProtocol", ClientProtocol)
	if connectionData != "" {
		query.Set("connectionData", connectionData)
	}
	negotiateUrl.RawQuery = query.Encode()

	type outcome struct {
		request  *httpclient.Request
		response *httpclient.Response
	}
	done := make(chan outcome, 1)

	request := client.NewRequest(http.MethodGet, negotiateUrl, func(request *httpclient.Request, response *httpclient.Response) {
		done <- outcome{request, response}
	})
	request.DisableCache = true
	for key, values := range headers {
		for _, value := range values {
			request.Headers().Add(key, value)
		}
	}

	logger.Infof("Negotiating with %s", negotiateUrl.Host)
	request.Send()

	select {
	case <-ctx.Done():
		request.Abort()
		return nil, fmt.Errorf("negotiation cancelled: %w", ctx.Err())
	case result := <-done:
		if result.request.State() != httpclient.Finished {
			return nil, fmt.Errorf("negotiation request ended in %s: %v", result.request.State(), result.request.Err())
		} else if !result.response.IsSuccess() {
			return nil, fmt.Errorf("negotiation failed with status %s", result.response.Status)
		}

		return ParseNegotiationResult(result.response.Body)
	}
}
