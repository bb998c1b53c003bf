package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/coalescing"
)

type signQuery struct {
	AssetID    string `url:"assetId,omitempty"`
	StorageKey string `url:"storageKey,omitempty"`
	TTL        int64  `url:"ttl,omitempty"`
}

func newSignCmd(opts *options) *cobra.Command {
	var ref signedurl.Ref
	cmd := &cobra.Command{
		Use:   "sign (--asset-id ID | --storage-key KEY)",
		Short: "Call the sign endpoint once and print the raw response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.newPipeline(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.logger.Close()

			ctx, cancel := opts.context(cmd.Context())
			defer cancel()

			values, err := query.Values(signQuery{
				AssetID:    ref.AssetID,
				StorageKey: ref.StorageKey,
				TTL:        int64(opts.ttl / time.Second),
			})
			if err != nil {
				return fmt.Errorf("failed to encode sign parameters: %w", err)
			}

			resp, err := p.coalescer.Call(ctx, coalescing.Request{
				Method: http.MethodGet,
				URL:    opts.baseURL() + signPath + "?" + values.Encode(),
			}, coalescing.CallOptions{LogContext: "assetctl"})
			if err != nil {
				return fmt.Errorf("sign request failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "HTTP %d\n%s\n", resp.StatusCode, resp.Body)
			if !resp.OK() {
				return fmt.Errorf("sign endpoint returned status %d", resp.StatusCode)
			}
			return nil
		},
	}
	refFlags(cmd, &ref)
	return cmd
}
