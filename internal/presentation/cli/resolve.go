package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/assetsign/internal/application/resolver"
	"github.com/AtRiskMedia/assetsign/internal/application/services"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
)

// ErrUnresolved is returned after printing a state that ended in error.
var ErrUnresolved = errors.New("asset could not be resolved")

func refFlags(cmd *cobra.Command, ref *signedurl.Ref) {
	cmd.Flags().StringVar(&ref.AssetID, "asset-id", "", "asset record id")
	cmd.Flags().StringVar(&ref.StorageKey, "storage-key", "", "direct storage key")
	cmd.MarkFlagsOneRequired("asset-id", "storage-key")
	cmd.MarkFlagsMutuallyExclusive("asset-id", "storage-key")
}

func newResolveCmd(opts *options) *cobra.Command {
	var ref signedurl.Ref
	cmd := &cobra.Command{
		Use:   "resolve (--asset-id ID | --storage-key KEY)",
		Short: "Resolve a reference to a usable URL and print the final state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.newPipeline(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.logger.Close()

			ctx, cancel := opts.context(cmd.Context())
			defer cancel()

			state, err := p.resolver.Resolve(ctx, ref, services.ResolveOptions{
				TTL:            opts.ttl,
				EnableRetry:    !opts.noRetry,
				EnableFallback: !opts.noFallback,
			})
			if err != nil {
				p.coalescer.CancelAll()
				return fmt.Errorf("resolution did not finish: %w", err)
			}
			if err := writeJSON(cmd.OutOrStdout(), state); err != nil {
				return err
			}
			if state.Status != resolver.StatusSuccess {
				return ErrUnresolved
			}
			return nil
		},
	}
	refFlags(cmd, &ref)
	return cmd
}
