package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"docflow/internal/api"
	"docflow/internal/apiclient"
	"docflow/internal/docstore"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStoreFallback(cmd.Context(), func(client *apiclient.Client, store *docstore.Store) error {
				var docs []api.Document
				if client != nil {
					var err error
					docs, err = client.ListDocuments(cmd.Context(), listStatuses...)
					if err != nil {
						return err
					}
				} else {
					statuses := make([]docstore.Status, 0, len(listStatuses))
					for _, status := range listStatuses {
						statuses = append(statuses, docstore.Status(status))
					}
					stored, err := store.ListDocuments(cmd.Context(), statuses...)
					if err != nil {
						return err
					}
					docs = api.FromDocuments(stored)
				}

				out := cmd.OutOrStdout()
				if asJSON {
					encoder := json.NewEncoder(out)
					encoder.SetIndent("", "  ")
					return encoder.Encode(api.DocumentListResponse{Documents: docs})
				}
				if len(docs) == 0 {
					fmt.Fprintln(out, "No documents")
					return nil
				}

				rows := make([][]string, 0, len(docs))
				for _, doc := range docs {
					rows = append(rows, []string{
						doc.ID,
						doc.InputLocation,
						doc.Pattern,
						doc.Status,
						fmt.Sprintf("%d", doc.PageCount),
						doc.QueuedAt,
					})
				}
				table := renderTable(
					[]string{"ID", "Location", "Pattern", "Status", "Pages", "Queued"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by document status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}
