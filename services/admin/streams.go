package main

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/rishansujesh/rubber-prices/internal/app"
	"github.com/rishansujesh/rubber-prices/internal/harvest"
	"github.com/rishansujesh/rubber-prices/internal/jobs"
	redisx "github.com/rishansujesh/rubber-prices/internal/redis"
)

var errNoRedis = errors.New("redis is not configured or unreachable (REDIS_ADDR)")

func triggerCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "trigger <site>",
		Short: "Ask the scheduler to harvest a site on its next poll, without moving next_run",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			q := a.AdhocQueue()
			if q == nil {
				return errNoRedis
			}
			if _, err := a.Registry().GetBySiteKey(ctx, args[0]); err != nil {
				if errors.Is(err, jobs.ErrNotFound) {
					return errors.Newf("site %q is not registered", args[0])
				}
				return err
			}
			req, err := q.Submit(ctx, args[0], by)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s (request %s, entry %s)\n", req.Site, req.ID, req.MessageID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&by, "by", app.Hostname(), "who asked, recorded on the request")
	return cmd
}

func eventsCmd() *cobra.Command {
	var n int64
	var raw bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the most recent harvest results",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			if a.Redis == nil {
				return errNoRedis
			}
			msgs, err := redisx.Tail(ctx, a.Redis, a.Config.Redis.EventsStream, n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				if raw {
					fmt.Fprintf(out, "%s %s\n", m.ID, m.Data)
					continue
				}
				var res harvest.Result
				if err := m.Decode(&res); err != nil {
					fmt.Fprintf(out, "%s (undecodable: %v)\n", m.ID, err)
					continue
				}
				line := fmt.Sprintf("%s %s %s trigger=%s took=%s", m.ID, res.StartedAt.Format("2006-01-02 15:04:05"), res.String(), res.Trigger, res.Duration)
				if res.Error != "" {
					line += " err=" + res.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		}),
	}
	cmd.Flags().Int64VarP(&n, "count", "n", 20, "number of events")
	cmd.Flags().BoolVar(&raw, "json", false, "print raw JSON payloads")
	return cmd
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show ad-hoc request stream length and pending entries",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			if a.Redis == nil {
				return errNoRedis
			}
			out := cmd.OutOrStdout()
			stream, group := a.Config.Redis.AdhocStream, a.Config.Redis.ConsumerGroup

			info, err := a.Redis.XInfoStream(ctx, stream).Result()
			if err != nil {
				return errors.Wrapf(err, "inspect %s", stream)
			}
			fmt.Fprintf(out, "== %s ==\n  length: %d\n", stream, info.Length)

			groups, err := a.Redis.XInfoGroups(ctx, stream).Result()
			if err != nil {
				return err
			}
			for _, g := range groups {
				fmt.Fprintf(out, "  group: %s  consumers=%d  pending=%d\n", g.Name, g.Consumers, g.Pending)
			}

			pending, err := a.Redis.XPending(ctx, stream, group).Result()
			if err != nil {
				return err
			}
			for consumer, count := range pending.Consumers {
				fmt.Fprintf(out, "    - consumer=%s  pending=%d\n", consumer, count)
			}
			if pending.Count > 0 {
				fmt.Fprintf(out, "  oldest=%s newest=%s\n", pending.Lower, pending.Higher)
			}
			return nil
		}),
	}
}
