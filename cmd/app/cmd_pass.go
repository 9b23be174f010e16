package main

import (
	"errors"
	"fmt"
	"time"

	"MarketCascade/internal/handler/api"
	"MarketCascade/internal/scheduler"
	xhttp "MarketCascade/pkg/http"

	"github.com/spf13/cobra"
)

var (
	passRemote  string
	passTimeout time.Duration
)

var passCmd = &cobra.Command{
	Use:   "pass <layer>",
	Short: "Run one analysis pass now",
	Long: `Run a single pass (macro, sector, watchlist, signals or expiry) once and exit.

With --remote the pass is triggered on a running instance through its admin API
instead of in this process.`,
	Example: `  # Re-classify the market regime locally
  cascade pass macro

  # Trigger the signal pass on a deployed instance
  cascade pass signals --remote http://cascade:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runPass,
}

func init() {
	rootCmd.AddCommand(passCmd)
	passCmd.Flags().StringVar(&passRemote, "remote", "", "base URL of a running instance")
	passCmd.Flags().DurationVar(&passTimeout, "timeout", time.Minute, "overall timeout")
}

func runPass(cmd *cobra.Command, args []string) error {
	layer := args[0]
	ctx, cancel := contextWithTimeout(cmd, passTimeout)
	defer cancel()

	if passRemote != "" {
		var res api.PassResult
		client := xhttp.NewClient(passRemote, xhttp.WithTimeout(passTimeout))
		if err := client.Post(ctx, "/api/v1/admin/passes/"+layer, nil, &res); err != nil {
			return fmt.Errorf("trigger %s: %w", layer, err)
		}
		return printJSON(res)
	}

	app, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
		cleanup()
	}()

	res := api.PassResult{Pass: layer, Status: "done"}
	if err := app.Scheduler().Trigger(ctx, layer); err != nil {
		if !errors.Is(err, scheduler.ErrSkipped) {
			return fmt.Errorf("run %s: %w", layer, err)
		}
		res.Status = "skipped"
	}
	return printJSON(res)
}
