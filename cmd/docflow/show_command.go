package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"docflow/internal/api"
	"docflow/internal/apiclient"
	"docflow/internal/docstore"
)

var classTitle = cases.Title(language.English)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show one document with its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStoreFallback(cmd.Context(), func(client *apiclient.Client, store *docstore.Store) error {
				var detail *api.DocumentDetail
				var err error
				if client != nil {
					detail, err = client.GetDocument(cmd.Context(), args[0])
				} else {
					detail, err = api.NewDocumentService(store).Describe(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				if detail == nil {
					return fmt.Errorf("document %q not found", args[0])
				}

				out := cmd.OutOrStdout()
				if asJSON {
					encoder := json.NewEncoder(out)
					encoder.SetIndent("", "  ")
					return encoder.Encode(api.DocumentResponse{Document: *detail})
				}

				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Document", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintf(out, "  ID:        %s\n", detail.ID)
				fmt.Fprintf(out, "  Location:  %s\n", detail.InputLocation)
				fmt.Fprintf(out, "  Pattern:   %s\n", detail.Pattern)
				fmt.Fprintf(out, "  Status:    %s\n", detail.Status)
				fmt.Fprintf(out, "  Pages:     %d\n", detail.PageCount)
				if detail.SummaryRef != "" {
					fmt.Fprintf(out, "  Summary:   %s\n", detail.SummaryRef)
				}
				if detail.EvaluationRef != "" {
					fmt.Fprintf(out, "  Evaluation: %s\n", detail.EvaluationRef)
				}
				if detail.QueuedAt != "" {
					fmt.Fprintf(out, "  Queued:    %s\n", detail.QueuedAt)
				}
				if detail.CompletedAt != "" {
					fmt.Fprintf(out, "  Completed: %s\n", detail.CompletedAt)
				}
				if detail.ErrorMessage != "" {
					fmt.Fprintf(out, "  Error:     %s\n", detail.ErrorMessage)
				}

				if len(detail.Metering) > 0 {
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader("Usage", colorize) {
						fmt.Fprintln(out, line)
					}
					keys := make([]string, 0, len(detail.Metering))
					for key := range detail.Metering {
						keys = append(keys, key)
					}
					sort.Strings(keys)
					rows := make([][]string, 0, len(keys))
					for _, key := range keys {
						rows = append(rows, []string{key, fmt.Sprintf("%d", detail.Metering[key])})
					}
					fmt.Fprintln(out, renderTable([]string{"Meter", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				}

				if len(detail.Sections) > 0 {
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader("Sections", colorize) {
						fmt.Fprintln(out, line)
					}
					rows := make([][]string, 0, len(detail.Sections))
					for _, section := range detail.Sections {
						rows = append(rows, []string{
							section.ID,
							classTitle.String(strings.ReplaceAll(section.Class, "_", " ")),
							section.Status,
							fmt.Sprintf("%d", len(section.PageIDs)),
							formatAttributes(section),
							section.HITLStatus,
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"ID", "Class", "Status", "Pages", "Attributes", "Review"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
					))
				}

				if len(detail.Errors) > 0 {
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader("Errors", colorize) {
						fmt.Fprintln(out, line)
					}
					for _, stageErr := range detail.Errors {
						label := stageErr.Stage
						if stageErr.SectionID != "" {
							label += " (" + stageErr.SectionID + ")"
						}
						fmt.Fprintln(out, renderStatusLine(label, statusError, stageErr.Message, colorize))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of formatted output")
	return cmd
}

func formatAttributes(section api.Section) string {
	if len(section.Attributes) == 0 {
		return ""
	}
	keys := make([]string, 0, len(section.Attributes))
	for key := range section.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		attr := section.Attributes[key]
		part := fmt.Sprintf("%s=%s", key, attr.Value)
		if attr.Confidence > 0 {
			part += fmt.Sprintf(" (%.2f)", attr.Confidence)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}
