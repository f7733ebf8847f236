package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTopicsCreateCmd(rt *runtime) *cobra.Command {
	var owner userFlags

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a topic",
		Long: `Create a topic owned by the given user. Names are compared by their base
name, so "Dev Chat" and "dev-chat" collide.

When --user-id is omitted a new id is generated and printed; keep it, it is
needed to delete the topic later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := owner.user()
			if err != nil {
				return err
			}
			svc, err := rt.app.Chat()
			if err != nil {
				return err
			}
			topic, err := svc.CreateTopic(cmd.Context(), args[0], u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created topic %q (%s) owned by %s (%s)\n", topic.Name, topic.ID, u.Name, u.ID)
			return nil
		},
	}

	owner.register(cmd, "Id of the owner (generated when empty)")
	return cmd
}
