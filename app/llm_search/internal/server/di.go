package server

import (
	"github.com/google/wire"

	"github.com/puneetrinity/LLMsearch/app/llm_search/internal/service"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/engine"
)

// ProviderSet 是搜索服务的依赖注入 Provider 集合
var ProviderSet = wire.NewSet(
	// Server providers
	NewHTTPServer,

	// Engine providers
	NewSearchEngine,
	wire.Bind(new(service.Engine), new(*engine.Engine)),

	// Service providers
	service.NewSearchService,
)
