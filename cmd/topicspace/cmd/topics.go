package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nfrund/topicspace/internal/domain"
)

func newTopicsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List, create, delete and join topics",
		Long: `The topics command works directly against the coordination space.

Available subcommands:
  list      List all live topics
  create    Create a topic
  delete    Delete a topic you own, together with its members and messages
  join      Join a topic

Examples:
  topicspace topics list --format json
  topicspace topics create "Dev Chat" --user alice
  topicspace topics delete <topic-id> --user alice --user-id <id>
  topicspace topics join <topic-id> --user bob --user-id <id>`,
	}

	cmd.AddCommand(
		newTopicsListCmd(rt),
		newTopicsCreateCmd(rt),
		newTopicsDeleteCmd(rt),
		newTopicsJoinCmd(rt),
	)
	return cmd
}

// userFlags identifies the acting user of a command.
type userFlags struct {
	name string
	id   string
}

func (f *userFlags) register(cmd *cobra.Command, idHelp string) {
	cmd.Flags().StringVarP(&f.name, "user", "u", "", "Name of the acting user")
	cmd.Flags().StringVar(&f.id, "user-id", "", idHelp)
	_ = cmd.MarkFlagRequired("user")
}

// user builds the acting user. When no id was given a fresh one is
// generated.
func (f *userFlags) user() (domain.User, error) {
	u := domain.NewUser(f.name, "")
	if f.id == "" {
		return u, nil
	}
	id, err := uuid.Parse(f.id)
	if err != nil {
		return domain.User{}, fmt.Errorf("invalid --user-id %q: %w", f.id, err)
	}
	u.ID = id
	return u, nil
}

func parseTopicID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid topic id %q: %w", arg, err)
	}
	return id, nil
}
