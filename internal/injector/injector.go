//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/wsrelay/internal/config"
	"github.com/zeusync/wsrelay/internal/server"
	"github.com/zeusync/wsrelay/sdk/go/client"
)

func InitializeServer(cfg *config.Config) (*server.Server, func(), error) {
	wire.Build(serverSet)
	return nil, nil, nil
}

func InitializeClient(cfg *config.Config) (*client.Client, func(), error) {
	wire.Build(clientSet)
	return nil, nil, nil
}
