package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nfrund/topicspace/internal/domain"
)

func newTopicsListCmd(rt *runtime) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all live topics",
		Long: `List every topic currently in the coordination space.

Output formats:
  table - Human-readable table format (default)
  json  - Machine-readable JSON format`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.app.Chat()
			if err != nil {
				return err
			}
			topics, err := svc.ListTopics(cmd.Context())
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return displayTopicsJSON(cmd.OutOrStdout(), topics)
			case "table":
				displayTopicsTable(cmd.OutOrStdout(), topics)
				return nil
			default:
				return fmt.Errorf("unsupported output format %q, use 'table' or 'json'", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")
	return cmd
}

func displayTopicsTable(out io.Writer, topics []domain.Topic) {
	if len(topics) == 0 {
		fmt.Fprintln(out, "No topics found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tOWNER")
	fmt.Fprintln(w, "--\t----\t-----")
	for _, t := range topics {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, t.Owner.Name)
	}
}

func displayTopicsJSON(out io.Writer, topics []domain.Topic) error {
	if topics == nil {
		topics = []domain.Topic{}
	}
	output := struct {
		Topics []domain.Topic `json:"topics"`
		Count  int            `json:"count"`
	}{
		Topics: topics,
		Count:  len(topics),
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
