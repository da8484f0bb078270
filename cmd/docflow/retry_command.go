package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docflow/internal/apiclient"
	"docflow/internal/docstore"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [document-id...]",
		Short: "Move failed documents back to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStoreFallback(cmd.Context(), func(client *apiclient.Client, store *docstore.Store) error {
				var affected int64
				var err error
				switch {
				case client != nil && len(args) == 0:
					affected, err = client.RetryAll(cmd.Context())
				case client != nil:
					for _, id := range args {
						var count int64
						count, err = client.Retry(cmd.Context(), id)
						if err != nil {
							return fmt.Errorf("retry %s: %w", id, err)
						}
						affected += count
					}
				default:
					affected, err = store.RetryFailed(cmd.Context(), args...)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed documents\n", affected)
				return nil
			})
		},
	}
}
