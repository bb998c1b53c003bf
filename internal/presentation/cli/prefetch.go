package cli

import (
	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
)

func newPrefetchCmd(opts *options) *cobra.Command {
	var storageKeys bool
	cmd := &cobra.Command{
		Use:   "prefetch ID...",
		Short: "Warm a local cache for the given asset ids and print its stats",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.newPipeline(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.logger.Close()

			ctx, cancel := opts.context(cmd.Context())
			defer cancel()

			items := make([]signedurl.PrefetchItem, 0, len(args))
			for _, arg := range args {
				ref := signedurl.Ref{AssetID: arg}
				if storageKeys {
					ref = signedurl.Ref{StorageKey: arg}
				}
				items = append(items, signedurl.PrefetchItem{Ref: ref, TTL: opts.ttl})
			}
			p.cache.Prefetch(ctx, items)

			return writeJSON(cmd.OutOrStdout(), struct {
				Cache     signedurl.Stats `json:"cache"`
				Requested int             `json:"requested"`
			}{
				Cache:     p.cache.Stats(),
				Requested: len(items),
			})
		},
	}
	cmd.Flags().BoolVar(&storageKeys, "storage-keys", false, "treat arguments as storage keys instead of asset ids")
	return cmd
}
