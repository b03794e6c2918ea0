package service

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

// Engine 搜索引擎能力
type Engine interface {
	Run(ctx context.Context, req model.Request) (*model.Response, error)
	Health(ctx context.Context) model.HealthResponse
}

// Info 服务信息
type Info struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// Version 对外展示的服务版本，由 main 在启动时设置
var Version = "dev"

type SearchService struct {
	eng Engine
	log *log.Helper
}

func NewSearchService(eng Engine, logger log.Logger) *SearchService {
	return &SearchService{
		eng: eng,
		log: log.NewHelper(log.With(logger, "module", "service/search")),
	}
}

func (s *SearchService) Search(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := s.eng.Run(ctx, *req)
	if err != nil {
		s.log.WithContext(ctx).Warnf("search failed: request_id=%s err=%v", req.RequestID, err)
		return nil, err
	}
	return resp, nil
}

func (s *SearchService) Health(ctx context.Context) model.HealthResponse {
	return s.eng.Health(ctx)
}

func (s *SearchService) Info() Info {
	return Info{
		Name:      "llm_search",
		Version:   Version,
		Endpoints: []string{"POST /api/v1/search", "GET /health"},
	}
}
