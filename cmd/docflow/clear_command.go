package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"docflow/internal/apiclient"
	"docflow/internal/docstore"
)

func newClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove documents from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCompleted && clearFailed {
				return errors.New("specify only one of --completed or --failed")
			}
			scope := "all"
			switch {
			case clearCompleted:
				scope = "completed"
			case clearFailed:
				scope = "failed"
			}

			return ctx.withStoreFallback(cmd.Context(), func(client *apiclient.Client, store *docstore.Store) error {
				var removed int64
				var err error
				if client != nil {
					removed, err = client.Clear(cmd.Context(), scope)
				} else {
					switch scope {
					case "completed":
						removed, err = store.ClearCompleted(cmd.Context())
					case "failed":
						removed, err = store.ClearFailed(cmd.Context())
					default:
						removed, err = store.Clear(cmd.Context())
					}
				}
				if err != nil {
					return err
				}
				switch scope {
				case "completed":
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed documents\n", removed)
				case "failed":
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d failed documents\n", removed)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d documents\n", removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "completed", false, "Remove only completed documents")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed documents")
	return cmd
}
