package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/rishansujesh/rubber-prices/internal/app"
	"github.com/rishansujesh/rubber-prices/internal/jobs"
)

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List registered sites and their next run",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			list, err := a.Registry().List(ctx)
			if err != nil {
				return err
			}
			now := time.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSITE\tACTIVE\tEVERY\tNEXT RUN\tDUE\tURL")
			for _, j := range list {
				every := fmt.Sprintf("%gh", j.FrequencyHours)
				if j.CronExpr != nil && *j.CronExpr != "" {
					every = *j.CronExpr
				}
				next := "-"
				if j.NextRun != nil {
					next = j.NextRun.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\t%t\t%s\n",
					j.ID, j.SiteKey, j.Active, every, next, j.Active && j.Due(now), j.SourceURL)
			}
			return tw.Flush()
		}),
	}
}

func upsertSiteCmd() *cobra.Command {
	var p jobs.UpsertParams
	var cronExpr string
	var inactive bool

	cmd := &cobra.Command{
		Use:   "upsert-site <site>",
		Short: "Register a site or change its configuration",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			p.SiteKey = args[0]
			p.Active = !inactive
			if cronExpr != "" {
				p.CronExpr = &cronExpr
			}
			j, err := a.Registry().Upsert(ctx, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "site %s saved (id=%d)\n", j.SiteKey, j.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&p.SourceURL, "url", "", "source url")
	cmd.Flags().Float64Var(&p.FrequencyHours, "every", 24, "hours between runs")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression, overrides --every")
	cmd.Flags().StringVar(&p.Organisation, "org", "", "organisation stamped on price rows")
	cmd.Flags().StringVar(&p.DisplayName, "name", "", "display name")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "register the site disabled")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <site>",
		Short: "Clear next_run so the site runs on the next poll",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			reg := a.Registry()
			j, err := reg.GetBySiteKey(ctx, args[0])
			if errors.Is(err, jobs.ErrNotFound) {
				return errors.Newf("site %q is not registered", args[0])
			}
			if err != nil {
				return err
			}
			if err := reg.SetNextRun(ctx, j.ID, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "site %s is due on the next poll\n", j.SiteKey)
			return nil
		}),
	}
}
