package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/puneetrinity/LLMsearch/app/llm_search/internal/server"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

var (
	askMaxResults int
	askNoSources  bool
	askJSON       bool
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Run one query through the pipeline and print the answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askMaxResults, "max-results", "n", model.DefaultMaxResults, "maximum number of sources")
	askCmd.Flags().BoolVar(&askNoSources, "no-sources", false, "omit cited sources")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the response as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, cleanup, err := server.NewSearchEngine(cfg, server.NewLogger())
	if err != nil {
		return err
	}
	defer cleanup()

	include := !askNoSources
	resp, err := eng.Run(context.Background(), model.Request{
		Query:          args[0],
		MaxResults:     askMaxResults,
		IncludeSources: &include,
		ClientID:       "cli",
		RequestID:      uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal response: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(resp.Answer)
	cmd.Println()
	cmd.Printf("confidence %.2f, %.2fs", resp.Confidence, resp.ProcessingTime)
	if resp.Cached {
		cmd.Print(", cached")
	}
	cmd.Println()
	if len(resp.Sources) > 0 {
		cmd.Println()
		cmd.Print(renderSources(resp.Sources, 80))
	}
	return nil
}

// renderSources 将来源渲染为对齐的表格，URL 超过 maxURL 显示宽度时截断
func renderSources(sources []string, maxURL int) string {
	rows := [][]string{{"#", "HOST", "URL"}}
	for i, s := range sources {
		host := s
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			host = u.Host
		}
		rows = append(rows, []string{fmt.Sprint(i + 1), host, runewidth.Truncate(s, maxURL, "…")})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			if i == len(row)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString("  ")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
