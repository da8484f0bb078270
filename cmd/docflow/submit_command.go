package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docflow/internal/api"
	"docflow/internal/apiclient"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var documentID string
	var patternName string

	cmd := &cobra.Command{
		Use:   "submit <path|uri>",
		Short: "Submit a document for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDaemon(cmd.Context(), func(client *apiclient.Client) error {
				doc, err := client.Submit(cmd.Context(), api.SubmitRequest{
					DocumentID:    documentID,
					InputLocation: args[0],
					Pattern:       patternName,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted document %s (pattern %s)\n", doc.ID, doc.Pattern)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&documentID, "id", "", "Explicit document identifier (defaults to a generated one)")
	cmd.Flags().StringVarP(&patternName, "pattern", "p", "", "Extraction pattern (defaults to the configured pattern)")
	return cmd
}
