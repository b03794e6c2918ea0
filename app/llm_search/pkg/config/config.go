package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 项目配置结构体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	Enhancer  EnhancerConfig  `yaml:"enhancer"`
	Search    SearchConfig    `yaml:"search"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Cache     CacheConfig     `yaml:"cache"`
	Budget    BudgetConfig    `yaml:"budget"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr    string        `yaml:"addr"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig 日志相关配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LLMConfig LLM 相关配置
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	QPS         int           `yaml:"qps"`
	RPM         int           `yaml:"rpm"`
	// 每千 token 的价格（USD），本地模型为 0
	PromptCostPer1K     float64 `yaml:"prompt_cost_per_1k"`
	CompletionCostPer1K float64 `yaml:"completion_cost_per_1k"`
}

// EnhancerConfig 查询扩展配置
type EnhancerConfig struct {
	Provider    string  `yaml:"provider"` // llm, autosuggest, none
	APIKey      string  `yaml:"api_key"`  // Bing Autosuggest
	MaxQueries  int     `yaml:"max_queries"`
	CostPerCall float64 `yaml:"cost_per_call"`
}

// SearchConfig 搜索相关配置
type SearchConfig struct {
	Providers      []ProviderConfig `yaml:"providers"`
	MaxPerProvider int              `yaml:"max_per_provider"`
	ScoreWeight    float64          `yaml:"score_weight"`
	MaxConcurrency int              `yaml:"max_concurrency"`
}

// ProviderConfig 单个搜索源配置
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Enabled     bool          `yaml:"enabled"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Trust       float64       `yaml:"trust"`
	CostPerCall float64       `yaml:"cost_per_call"`
	Timeout     time.Duration `yaml:"timeout"`
}

// FetchConfig 正文抓取配置
type FetchConfig struct {
	Provider         string        `yaml:"provider"` // readability, zenrows
	ZenRowsAPIKey    string        `yaml:"zenrows_api_key"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxConcurrency   int           `yaml:"max_concurrency"`
	MaxContentLength int           `yaml:"max_content_length"`
	MinConfidence    float64       `yaml:"min_confidence"`
	MinWords         int           `yaml:"min_words"`
	CostPerCall      float64       `yaml:"cost_per_call"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	MemorySize          int           `yaml:"memory_size"`
	RedisURL            string        `yaml:"redis_url"`
	MinIO               MinIOConfig   `yaml:"minio"`
	TTLQueryEnhancement time.Duration `yaml:"ttl_query_enhancement"`
	TTLSearchResults    time.Duration `yaml:"ttl_search_results"`
	TTLFinalResponse    time.Duration `yaml:"ttl_final_response"`
}

// MinIOConfig 对象存储缓存层配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// BudgetConfig 成本预算配置
type BudgetConfig struct {
	DailyUSD    float64            `yaml:"daily_usd"`
	Monthly     map[string]float64 `yaml:"monthly"`
	DatabaseURL string             `yaml:"database_url"`
}

// RateLimitConfig 客户端限流配置
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	MinDocuments   int           `yaml:"min_documents"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// 支持的搜索源
const (
	ProviderBrave      = "brave"
	ProviderBing       = "bing"
	ProviderTavily     = "tavily"
	ProviderSearXNG    = "searxng"
	ProviderDuckDuckGo = "duckduckgo"
)

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8000", Timeout: 30 * time.Second},
		Log:    LogConfig{Level: "info", MaxSizeMB: 100, MaxAgeDays: 28},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "llama2:7b",
			MaxTokens:   500,
			Temperature: 0.1,
			Timeout:     30 * time.Second,
			QPS:         2,
			RPM:         60,
		},
		Enhancer: EnhancerConfig{Provider: "llm", MaxQueries: 5},
		Search: SearchConfig{
			Providers: []ProviderConfig{
				{Name: ProviderBrave, Enabled: true, Trust: 0.8, CostPerCall: 0.005, Timeout: 10 * time.Second},
				{Name: ProviderBing, Enabled: true, Trust: 0.8, CostPerCall: 0.003, Timeout: 10 * time.Second},
				{Name: ProviderDuckDuckGo, Enabled: true, Trust: 0.6, Timeout: 10 * time.Second},
			},
			MaxPerProvider: 10,
			ScoreWeight:    0.7,
			MaxConcurrency: 8,
		},
		Fetch: FetchConfig{
			Provider:         "readability",
			Timeout:          15 * time.Second,
			MaxConcurrency:   4,
			MaxContentLength: 5000,
			MinConfidence:    0.3,
			MinWords:         30,
			CostPerCall:      0.001,
		},
		Cache: CacheConfig{
			MemorySize:          1000,
			TTLQueryEnhancement: time.Hour,
			TTLSearchResults:    30 * time.Minute,
			TTLFinalResponse:    4 * time.Hour,
		},
		Budget: BudgetConfig{
			DailyUSD: 100,
			Monthly:  map[string]float64{"zenrows": 200},
		},
		RateLimit: RateLimitConfig{PerMinute: 60},
		Pipeline:  PipelineConfig{MinDocuments: 1, RequestTimeout: 30 * time.Second},
	}
}

// LoadConfig 从指定路径加载配置，.env 与环境变量中的密钥覆盖空值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	// 显式配置 providers 时完全替换默认列表
	cfg.Search.Providers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if len(cfg.Search.Providers) == 0 {
		cfg.Search.Providers = Default().Search.Providers
	}

	// .env 不存在时忽略
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setIfEmpty := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	setIfEmpty(&c.LLM.APIKey, "LLM_API_KEY")
	setIfEmpty(&c.Enhancer.APIKey, "BING_AUTOSUGGEST_API_KEY")
	setIfEmpty(&c.Fetch.ZenRowsAPIKey, "ZENROWS_API_KEY")
	setIfEmpty(&c.Cache.RedisURL, "REDIS_URL")
	setIfEmpty(&c.Budget.DatabaseURL, "DATABASE_URL")

	envKeys := map[string]string{
		ProviderBrave:  "BRAVE_SEARCH_API_KEY",
		ProviderBing:   "BING_SEARCH_API_KEY",
		ProviderTavily: "TAVILY_API_KEY",
	}
	for i := range c.Search.Providers {
		p := &c.Search.Providers[i]
		if key, ok := envKeys[p.Name]; ok {
			setIfEmpty(&p.APIKey, key)
		}
	}
}

// EnabledProviders 返回已启用的搜索源
func (c *Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Search.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	var errs []error
	if len(c.EnabledProviders()) == 0 {
		errs = append(errs, errors.New("search: no provider enabled"))
	}
	for _, p := range c.Search.Providers {
		if p.Trust < 0 || p.Trust > 1 {
			errs = append(errs, fmt.Errorf("search.providers[%s]: trust must be within [0,1]", p.Name))
		}
		if p.CostPerCall < 0 {
			errs = append(errs, fmt.Errorf("search.providers[%s]: cost_per_call must be >= 0", p.Name))
		}
	}
	if c.Search.ScoreWeight < 0 || c.Search.ScoreWeight > 1 {
		errs = append(errs, errors.New("search.score_weight must be within [0,1]"))
	}
	if c.Cache.TTLQueryEnhancement <= 0 || c.Cache.TTLSearchResults <= 0 || c.Cache.TTLFinalResponse <= 0 {
		errs = append(errs, errors.New("cache: ttls must be positive"))
	}
	if c.Budget.DailyUSD < 0 {
		errs = append(errs, errors.New("budget.daily_usd must be >= 0"))
	}
	for name, v := range c.Budget.Monthly {
		if v < 0 {
			errs = append(errs, fmt.Errorf("budget.monthly[%s] must be >= 0", name))
		}
	}
	if c.RateLimit.PerMinute <= 0 {
		errs = append(errs, errors.New("rate_limit.per_minute must be positive"))
	}
	if c.Fetch.MaxConcurrency <= 0 || c.Fetch.MaxContentLength <= 0 {
		errs = append(errs, errors.New("fetch: max_concurrency and max_content_length must be positive"))
	}
	if c.Pipeline.MinDocuments < 1 {
		errs = append(errs, errors.New("pipeline.min_documents must be >= 1"))
	}
	return errors.Join(errs...)
}
