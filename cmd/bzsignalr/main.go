package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bastionzero.com/bzsignalr/connection"
	"bastionzero.com/bzsignalr/connection/encoder"
	"bastionzero.com/bzsignalr/connection/httpclient"
	"bastionzero.com/bzsignalr/connection/transport"
	"bastionzero.com/bzsignalr/envconfig"
	"bastionzero.com/bzsignalr/heartbeat"
	"bastionzero.com/bzsignalr/logger"
	"bastionzero.com/bzsignalr/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	version           = "1.0.0"
	defaultConfigPath = "/etc/bzsignalr/bzsignalr.yaml"
	negotiateTimeout  = 30 * time.Second
)

var (
	configPath, getKey, metricsAddr string
	debug, printVersion, listLogFile bool
	watchConfig                      bool
)

var errConfigChanged = errors.New("config file changed")

func main() {
	parseFlags()

	if printVersion {
		fmt.Println(version)
		return
	}

	config, err := envconfig.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}

	switch {
	case listLogFile:
		fmt.Println(config.LogPath)
		return
	case getKey != "":
		value, err := config.Get(getKey)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(value)
		return
	}

	log, err := setupLogger(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start logger: %s\n", err)
		os.Exit(1)
	}
	log.AddClientVersion(version)

	metrics, err := telemetry.New(telemetry.Config{})
	if err != nil {
		log.Errorf("failed to register metrics: %s", err)
		os.Exit(1)
	}
	if metricsAddr != "" {
		go serveMetrics(log, metricsAddr)
	}

	if err := run(log, config, metrics); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func parseFlags() {
	flag.StringVar(&configPath, "config", defaultConfigPath, "Path to the yaml config file")
	flag.BoolVar(&debug, "debug", false, "Log at debug level regardless of the configured level")
	flag.BoolVar(&watchConfig, "watch", false, "Reconnect with the new settings whenever the config file changes")
	flag.StringVar(&metricsAddr, "metricsAddr", "", "Address to serve prometheus metrics on, disabled if empty")

	// Helpful flags
	flag.BoolVar(&printVersion, "version", false, "Print the current version")
	flag.BoolVar(&listLogFile, "logs", false, "Print the log file path")
	flag.StringVar(&getKey, "get", "", "Print a single config value, e.g. serviceUrl or headers.Authorization")

	flag.Parse()
}

func setupLogger(config *envconfig.Config) (*logger.Logger, error) {
	level, err := logger.ToLogLevel(config.LogLevel)
	if err != nil {
		return nil, err
	}
	if debug {
		level = zerolog.DebugLevel
	}

	return logger.New(&logger.Config{
		FilePath:       config.LogPath,
		ConsoleWriters: []io.Writer{os.Stdout},
		Level:          level,
	})
}

func serveMetrics(log *logger.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Infof("Serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server stopped: %s", err)
	}
}

// run keeps a connection open until we receive a shutdown signal or the connection
// closes on its own. A config change tears the connection down and starts a new one
func run(log *logger.Logger, config *envconfig.Config, metrics *telemetry.Metrics) error {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *envconfig.Config, 1)
	if watchConfig {
		go func() {
			err := envconfig.Watch(ctx, configPath, func(updated *envconfig.Config, err error) {
				if err != nil {
					log.Errorf("ignoring config change: %s", err)
					return
				}

				select {
				case reloads <- updated:
				default:
				}
			})
			if err != nil {
				log.Errorf("stopped watching config: %s", err)
			}
		}()
	}

	for {
		manager := heartbeat.New(log, config.HeartbeatInterval)
		manager.Start()

		conn, err := connect(ctx, log, config, manager, metrics)
		if err != nil {
			manager.Close()
			return err
		}

		var reason error
		select {
		case signal := <-shutdown:
			reason = fmt.Errorf("received shutdown signal: %s", signal.String())
		case updated := <-reloads:
			log.Infof("Config file changed, reconnecting to %s", updated.ServiceUrl)
			config = updated
			reason = errConfigChanged
		case <-conn.Done():
			reason = conn.Err()
		}

		conn.Close(reason)
		manager.Close()

		if reason != errConfigChanged {
			var closedErr *connection.ClosedError
			if errors.As(reason, &closedErr) {
				return reason
			}
			log.Infof("Shut down: %s", reason)
			return nil
		}
	}
}

func connect(
	ctx context.Context,
	log *logger.Logger,
	config *envconfig.Config,
	manager *heartbeat.Manager,
	metrics *telemetry.Metrics,
) (*connection.Connection, error) {
	enc, err := encoder.ByName(config.Encoder)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for key, value := range config.Headers {
		headers.Set(key, value)
	}

	client := httpclient.New(log.GetComponentLogger("HttpClient"), httpclient.Options{
		ConnectTimeout: config.ConnectTimeout,
	})

	negotiateCtx, cancel := context.WithTimeout(ctx, negotiateTimeout)
	defer cancel()

	negotiation, err := connection.Negotiate(negotiateCtx, log, client, config.ServiceUrl, config.ConnectionData, headers)
	if err != nil {
		return nil, err
	}

	conn, err := connection.New(log, connection.Config{
		ServiceUrl:     config.ServiceUrl,
		ConnectionData: config.ConnectionData,
		Transport:      transport.Type(config.Transport),
		Encoder:        enc,
		Headers:        headers,
		Metrics:        metrics,
	}, negotiation, manager, client)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-conn.Done():
				return
			case message := <-conn.Inbound():
				log.Infof("Received %s message", message.Type())
			}
		}
	}()

	conn.Start()
	log.Infof("Connecting over %s", config.Transport)
	return conn, nil
}
