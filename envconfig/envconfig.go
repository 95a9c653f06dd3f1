/*
Package envconfig loads the client configuration from a yaml file and lets environment
variables override individual settings. The file is read under a shared lock so that a
process rewriting it never hands us a half-written config.
*/
package envconfig

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"bastionzero.com/bzsignalr/connection/encoder"
	"bastionzero.com/bzsignalr/connection/transport"
	"bastionzero.com/bzsignalr/logger"
)

const (
	ServiceUrlEnvVar        = "BZSIGNALR_SERVICE_URL"
	TransportEnvVar         = "BZSIGNALR_TRANSPORT"
	EncoderEnvVar           = "BZSIGNALR_ENCODER"
	LogLevelEnvVar          = "BZSIGNALR_LOG_LEVEL"
	HeartbeatIntervalEnvVar = "BZSIGNALR_HEARTBEAT_INTERVAL"

	defaultHeartbeatInterval = 500 * time.Millisecond
	defaultConnectTimeout    = 20 * time.Second
	defaultLogLevel          = "info"

	lockSuffix = ".lock"
)

type Config struct {
	ServiceUrl        string            `yaml:"serviceUrl"`
	ConnectionData    string            `yaml:"connectionData"`
	Transport         string            `yaml:"transport"`
	Encoder           string            `yaml:"encoder"`
	HeartbeatInterval time.Duration     `yaml:"heartbeatInterval"`
	ConnectTimeout    time.Duration     `yaml:"connectTimeout"`
	LogPath           string            `yaml:"logPath"`
	LogLevel          string            `yaml:"logLevel"`
	Headers           map[string]string `yaml:"headers"`
}

// Load reads the config at path, applies environment overrides and defaults, then validates it
func Load(path string) (*Config, error) {
	lock := flock.New(path + lockSuffix)
	if err := lock.RLock(); err != nil {
		return nil, &FileError{Path: path, Locking: true, InnerErr: err}
	}
	defer lock.Unlock()

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, InnerErr: err}
	}

	var config Config
	if err := yaml.Unmarshal(contents, &config); err != nil {
		return nil, &ValidationError{InnerErr: err}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	config.fillDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyEnv() error {
	overrides := map[string]*string{
		ServiceUrlEnvVar: &c.ServiceUrl,
		TransportEnvVar:  &c.Transport,
		EncoderEnvVar:    &c.Encoder,
		LogLevelEnvVar:   &c.LogLevel,
	}

	for envVar, field := range overrides {
		if value, ok := os.LookupEnv(envVar); ok {
			*field = value
		}
	}

	if value, ok := os.LookupEnv(HeartbeatIntervalEnvVar); ok {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return &ValidationError{Setting: HeartbeatIntervalEnvVar, InnerErr: err}
		}
		c.HeartbeatInterval = interval
	}

	return nil
}

func (c *Config) fillDefaults() {
	if c.Transport == "" {
		c.Transport = string(transport.WebSocket)
	}
	if c.Encoder == "" {
		c.Encoder = encoder.StreamEncoderName
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

func (c *Config) Validate() error {
	if c.ServiceUrl == "" {
		return &ValidationError{Setting: "serviceUrl", InnerErr: fmt.Errorf("required")}
	} else if u, err := url.Parse(c.ServiceUrl); err != nil {
		return &ValidationError{Setting: "serviceUrl", InnerErr: err}
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Setting: "serviceUrl", InnerErr: fmt.Errorf("scheme must be http or https, not %q", u.Scheme)}
	}

	switch transport.Type(c.Transport) {
	case transport.WebSocket, transport.LongPoll:
	default:
		return &ValidationError{Setting: "transport", InnerErr: fmt.Errorf("unknown transport %q", c.Transport)}
	}

	if _, err := encoder.ByName(c.Encoder); err != nil {
		return &ValidationError{Setting: "encoder", InnerErr: err}
	}

	if _, err := logger.ToLogLevel(c.LogLevel); err != nil {
		return &ValidationError{Setting: "logLevel", InnerErr: err}
	}

	return nil
}

// Get returns a single setting by its yaml key. Headers are addressed as headers.<name>.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "serviceUrl":
		return c.ServiceUrl, nil
	case "connectionData":
		return c.ConnectionData, nil
	case "transport":
		return c.Transport, nil
	case "encoder":
		return c.Encoder, nil
	case "heartbeatInterval":
		return c.HeartbeatInterval.String(), nil
	case "connectTimeout":
		return c.ConnectTimeout.String(), nil
	case "logPath":
		return c.LogPath, nil
	case "logLevel":
		return c.LogLevel, nil
	}

	if name, ok := strings.CutPrefix(key, "headers."); ok {
		if value, ok := c.Headers[name]; ok {
			return value, nil
		}
	}

	return "", &KeyError{Key: key}
}
