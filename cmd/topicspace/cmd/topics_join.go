package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTopicsJoinCmd(rt *runtime) *cobra.Command {
	var member userFlags

	cmd := &cobra.Command{
		Use:   "join <topic-id>",
		Short: "Join a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTopicID(args[0])
			if err != nil {
				return err
			}
			u, err := member.user()
			if err != nil {
				return err
			}
			svc, err := rt.app.Chat()
			if err != nil {
				return err
			}
			topic, err := svc.JoinTopic(cmd.Context(), id, u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) joined %q\n", u.Name, u.ID, topic.Name)
			return nil
		},
	}

	member.register(cmd, "Id of the joining user (generated when empty)")
	return cmd
}
