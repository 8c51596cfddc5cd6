package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultBaseURL = "http://localhost:8000"

type commandContext struct {
	baseURL string
	json    bool
	timeout time.Duration
}

func (c *commandContext) client() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(c.baseURL, "/"),
		http:    &http.Client{Timeout: c.timeout},
	}
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "recipectl",
		Short:         "Command-line client for the recipe ingest API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	base := os.Getenv("RECIPEBOX_API")
	if base == "" {
		base = defaultBaseURL
	}
	rootCmd.PersistentFlags().StringVar(&ctx.baseURL, "api", base, "API base URL")
	rootCmd.PersistentFlags().BoolVar(&ctx.json, "json", false, "Print raw JSON responses")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 2*time.Minute, "Request timeout")

	rootCmd.AddCommand(newTagsCommand(ctx))
	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newStageCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newDeleteCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))

	return rootCmd
}
