package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/topicspace/internal/app"
	"github.com/nfrund/topicspace/internal/config"
	"github.com/nfrund/topicspace/internal/logging"
)

// runtime holds the application shared by the commands of one invocation.
type runtime struct {
	newApp func() *app.App
	app    *app.App
}

func (rt *runtime) shutdown() error {
	if rt.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rt.app.Shutdown(ctx)
}

func newRoot(newApp func() *app.App) (*cobra.Command, *runtime) {
	rt := &runtime{newApp: newApp}
	root := &cobra.Command{
		Use:   "topicspace",
		Short: "Topic and presence coordination over a shared tuple space",
		Long: `topicspace keeps chat topics, their members and change notifications
consistent across any number of processes that share one coordination space.

Point every process at the same space with SPACE_BACKEND=surreal and the
SURREAL_* settings. The default in-memory backend only lives as long as the
process, which is enough for "serve" but not for one-shot commands.

Use "topicspace [command] --help" for more information about a specific command.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if rt.app == nil {
				rt.app = rt.newApp()
			}
		},
	}

	root.AddCommand(
		newServeCmd(rt),
		newTopicsCmd(rt),
		newWatchCmd(rt),
		newVersionCmd(),
	)
	return root, rt
}

// Execute executes the root command.
func Execute() {
	root, rt := newRoot(func() *app.App {
		cfg := config.New()
		logging.New()
		return app.New(cfg)
	})

	err := root.Execute()
	if shutdownErr := rt.shutdown(); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", shutdownErr)
	}
	if err != nil {
		os.Exit(1)
	}
}
