package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [url...]",
		Short: "Archives the given URLs and prints their outcomes",
		Long: `Archives each URL once with bounded concurrency and prints one JSON
outcome per line in argument order. Without arguments the URLs listed in
pipeline.default_urls are archived.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = appInstance.Close(cmd.Context()) }()

			urls := args
			if len(urls) == 0 {
				urls = opts.cfg.Pipeline.DefaultURLs
			}
			if len(urls) == 0 {
				return fmt.Errorf("no urls given and pipeline.default_urls is empty")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, outcome := range appInstance.RunAll(cmd.Context(), urls) {
				if err := enc.Encode(outcome); err != nil {
					return fmt.Errorf("write outcome: %w", err)
				}
			}
			return nil
		},
	}
}
