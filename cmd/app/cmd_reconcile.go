package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	xhttp "MarketCascade/pkg/http"

	"github.com/spf13/cobra"
)

var (
	reconcileUser    string
	reconcileAsset   string
	reconcileRemote  string
	reconcileTimeout time.Duration
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild a portfolio position from the trade ledger",
	Long: `Replay every recorded trade for one user and asset and print the rebuilt position.

With --remote the rebuild is requested from a running instance, which may queue
it and answer {"queued": true}.`,
	Example: `  cascade reconcile --user u-42 --asset btc
  cascade reconcile --user u-42 --asset btc --remote http://cascade:8080`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVar(&reconcileUser, "user", "", "user id")
	reconcileCmd.Flags().StringVar(&reconcileAsset, "asset", "", "asset id")
	reconcileCmd.Flags().StringVar(&reconcileRemote, "remote", "", "base URL of a running instance")
	reconcileCmd.Flags().DurationVar(&reconcileTimeout, "timeout", 30*time.Second, "overall timeout")
	_ = reconcileCmd.MarkFlagRequired("user")
	_ = reconcileCmd.MarkFlagRequired("asset")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx, cancel := contextWithTimeout(cmd, reconcileTimeout)
	defer cancel()

	if reconcileRemote != "" {
		var res json.RawMessage
		client := xhttp.NewClient(reconcileRemote, xhttp.WithTimeout(reconcileTimeout))
		path := fmt.Sprintf("/api/v1/portfolio/%s/positions/%s/rebuild",
			url.PathEscape(reconcileUser), url.PathEscape(reconcileAsset))
		if err := client.Post(ctx, path, nil, &res); err != nil {
			return fmt.Errorf("rebuild %s/%s: %w", reconcileUser, reconcileAsset, err)
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

	pos, err := app.Reconciliation().Rebuild(ctx, reconcileUser, reconcileAsset)
	if err != nil {
		return fmt.Errorf("rebuild %s/%s: %w", reconcileUser, reconcileAsset, err)
	}
	return printJSON(pos)
}
