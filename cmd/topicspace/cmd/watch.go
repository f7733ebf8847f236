package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/notify"
)

func newWatchCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print topic additions and removals until interrupted",
		Long: `Register for topic events and print one line per event:

  topic.added    <id>  <name>
  topic.removed  <id>  <name>

Events can be missed when the space drops a notification and can occasionally
repeat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.app.Chat()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			added, addedReg, err := svc.Watch(ctx, notify.TopicAdded)
			if err != nil {
				return err
			}
			defer addedReg.Cancel(cmd.Context())
			removed, removedReg, err := svc.Watch(ctx, notify.TopicRemoved)
			if err != nil {
				return err
			}
			defer removedReg.Cancel(cmd.Context())

			// Keep both registrations alive for as long as the command runs.
			var renew <-chan time.Time
			lease := time.Until(addedReg.Expiration())
			if lease > 0 {
				ticker := time.NewTicker(lease / 2)
				defer ticker.Stop()
				renew = ticker.C
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Watching topics, press Ctrl+C to stop")
			for added != nil || removed != nil {
				var (
					topic domain.Topic
					ok    bool
				)
				select {
				case topic, ok = <-added:
					if !ok {
						added = nil
						continue
					}
					fmt.Fprintf(out, "%s\t%s\t%s\n", notify.TopicAdded, topic.ID, topic.Name)
				case topic, ok = <-removed:
					if !ok {
						removed = nil
						continue
					}
					fmt.Fprintf(out, "%s\t%s\t%s\n", notify.TopicRemoved, topic.ID, topic.Name)
				case <-renew:
					for _, r := range []*notify.Registration{addedReg, removedReg} {
						if err := r.Renew(ctx, lease); err != nil {
							fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to renew %s registration: %v\n", r.Class(), err)
						}
					}
				}
			}
			return nil
		},
	}
}
