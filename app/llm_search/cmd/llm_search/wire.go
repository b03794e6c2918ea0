//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final binary.

package main

import (
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/puneetrinity/LLMsearch/app/llm_search/internal/server"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/config"
)

// initApp init kratos application.
func initApp(*config.Config, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		server.ProviderSet,
		newApp,
	))
}
