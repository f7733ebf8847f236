package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTopicsDeleteCmd(rt *runtime) *cobra.Command {
	var requester userFlags

	cmd := &cobra.Command{
		Use:   "delete <topic-id>",
		Short: "Delete a topic you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTopicID(args[0])
			if err != nil {
				return err
			}
			u, err := requester.user()
			if err != nil {
				return err
			}
			svc, err := rt.app.Chat()
			if err != nil {
				return err
			}
			if err := svc.DeleteTopic(cmd.Context(), id, u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted topic %s\n", id)
			return nil
		},
	}

	requester.register(cmd, "Id of the topic owner")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
