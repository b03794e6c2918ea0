package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/puneetrinity/LLMsearch/app/llm_search/internal/service"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/config"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/logger"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name 是服务的名称
	Name = "llm_search"
	// Version 是服务的版本号
	Version = "dev"
	// flagconf 是配置文件的路径命令行参数
	flagconf string

	id, _ = os.Hostname()
)

var rootCmd = &cobra.Command{
	Use:           "llm_search",
	Short:         "Retrieval and synthesis search service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		service.Version = Version
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagconf, "conf", "c", "app/llm_search/configs/config.yaml", "config path, eg: -c config.yaml")
}

// loadConfig 加载配置并初始化日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(flagconf)
	if err != nil {
		return nil, fmt.Errorf("无法加载配置文件: %w", err)
	}
	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.File, logger.Options{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		return nil, fmt.Errorf("无法初始化日志: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
