package injector

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/wsrelay/internal/config"
	"github.com/zeusync/wsrelay/internal/core/events/bus"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
	"github.com/zeusync/wsrelay/internal/server"
	"github.com/zeusync/wsrelay/sdk/go/client"
)

var commonSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideEventBus,
)

var serverSet = wire.NewSet(
	commonSet,
	ProvideServerConfig,
	ProvideRegistry,
	server.NewServer,
)

var clientSet = wire.NewSet(
	commonSet,
	ProvideClientConfig,
	ProvideClient,
)

// ProvideLogger builds the process logger; the cleanup flushes it.
func ProvideLogger(cfg *config.Config) (*log.Logger, func(), error) {
	logger, err := log.NewWithConfig(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

func ProvideEventBus() bus.EventBus {
	return bus.New()
}

func ProvideServerConfig(cfg *config.Config) config.ServerConfig {
	return cfg.Server
}

// ProvideRegistry returns a registry with the Go runtime and process collectors.
func ProvideRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func ProvideClientConfig(cfg *config.Config) client.Config {
	return client.FromConfig(cfg.Client)
}

func ProvideClient(cfg client.Config, logger log.Log, events bus.EventBus) (*client.Client, func(), error) {
	c, err := client.New(cfg, client.WithLogger(logger), client.WithEventBus(events))
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}
