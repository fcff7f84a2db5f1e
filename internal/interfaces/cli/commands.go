// Package cli implements syncctl, a command line client for the sync API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/erp/catalogsync/internal/interfaces/http/dto"
)

const (
	defaultServer = "http://localhost:8080/api/v1"
	serverEnv     = "SYNCCTL_SERVER"
	tenantEnv     = "SYNCCTL_TENANT"
)

type globalOptions struct {
	server string
	tenant string
}

// RootCmd returns the syncctl command tree
func RootCmd(version string) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:     "syncctl",
		Short:   "Start and watch catalog sync jobs",
		Version: version,
		Long: `syncctl drives the catalog sync service over its HTTP API.

The server defaults to $SYNCCTL_SERVER or ` + defaultServer + `.
The tenant defaults to $SYNCCTL_TENANT, then to the server's default tenant.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr(serverEnv, defaultServer), "Sync API base URL")
	root.PersistentFlags().StringVar(&opts.tenant, "tenant", os.Getenv(tenantEnv), "Tenant ID sent as X-Tenant-ID")

	root.AddCommand(startCmd(opts))
	root.AddCommand(statusCmd(opts))
	root.AddCommand(cancelCmd(opts))
	root.AddCommand(listCmd(opts))
	root.AddCommand(statsCmd(opts))
	return root
}

func (o *globalOptions) client() *Client {
	return NewClient(o.server, o.tenant, nil)
}

func startCmd(opts *globalOptions) *cobra.Command {
	var (
		force    bool
		cascade  bool
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "start <entity-type|all>",
		Short: "Start a sync",
		Long: `Start a sync for one entity type, or the full cascade with "all".

Entity types: brand, category, product, sku, image, stock.

Examples:
  syncctl start product
  syncctl start category --cascade
  syncctl start all --force --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			c := opts.client()
			started, err := c.Start(ctx, args[0], force, cascade)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Started %s %s job %s\n", started.EntityType, started.Kind, started.JobID)
			if !wait {
				return nil
			}
			job, err := waitForJob(ctx, c, started.JobID.String(), interval, out)
			if err != nil {
				return err
			}
			printJob(out, job)
			if job.Status == "failed" {
				return fmt.Errorf("job %s failed: %s", job.JobID, job.FailureReason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Keep a cascade going past failed stages")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Also run every stage after the given entity type")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --wait")
	return cmd
}

func statusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := opts.client().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
}

func cancelCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func listCmd(opts *globalOptions) *cobra.Command {
	var filter ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retained jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := opts.client().List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tENTITY\tSTATUS\tPROGRESS\tERRORS\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					j.JobID, j.Kind, j.EntityType, statusColor(j.Status),
					progress(j), j.ErrorCount, j.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.EntityType, "entity-type", "", "Only jobs for this entity type")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only jobs in this status")
	cmd.Flags().StringVar(&filter.Kind, "kind", "", "stage or cascade")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "Maximum number of jobs")
	return cmd
}

func statsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per entity type sync statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := opts.client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENTITY\tROWS\tJOBS\tRUNNING\tFAILED\tINSERTED\tUPDATED\tUNCHANGED\tLAST RUN")
			for _, e := range stats.Entities {
				last := "-"
				if e.LastRunAt != nil {
					last = e.LastRunAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
					e.EntityType, e.Rows, e.Jobs, e.Running, e.Failed,
					e.Inserted, e.Updated, e.Unchanged, last)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nRunning jobs: %d\n", stats.RunningJobs)
			return nil
		},
	}
}

// waitForJob polls until the job reaches a terminal status
func waitForJob(ctx context.Context, c *Client, id string, interval time.Duration, out io.Writer) (*dto.SyncJobResponse, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if isTerminal(job.Status) {
			return job, nil
		}
		if line := fmt.Sprintf("%s %s", job.Status, progress(*job)); line != last {
			fmt.Fprintf(out, "  %s\n", line)
			last = line
		}
		select {
		case <-ctx.Done():
			return nil, errors.New("stopped waiting; the job keeps running on the server")
		case <-ticker.C:
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

func progress(j dto.SyncJobResponse) string {
	if j.TotalItems <= 0 {
		return fmt.Sprintf("%d", j.CompletedItems)
	}
	return fmt.Sprintf("%d/%d", j.CompletedItems, j.TotalItems)
}

func printJob(out io.Writer, j *dto.SyncJobResponse) {
	fmt.Fprintf(out, "Job:       %s\n", j.JobID)
	fmt.Fprintf(out, "Kind:      %s %s\n", j.Kind, j.EntityType)
	fmt.Fprintf(out, "Status:    %s\n", statusColor(j.Status))
	fmt.Fprintf(out, "Progress:  %s\n", progress(*j))
	fmt.Fprintf(out, "Outcomes:  inserted=%d updated=%d unchanged=%d skipped=%d failed=%d\n",
		j.Inserted, j.Updated, j.Unchanged, j.Skipped, j.Failed)
	if j.Warning != "" {
		fmt.Fprintf(out, "Warning:   %s\n", color.New(color.FgYellow).Sprint(j.Warning))
	}
	if j.FailureReason != "" {
		fmt.Fprintf(out, "Failure:   %s\n", color.New(color.FgRed).Sprint(j.FailureReason))
	}
	if len(j.Stages) > 0 {
		fmt.Fprintln(out, "Stages:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, s := range j.Stages {
			fmt.Fprintf(w, "  %s\t%s\tok=%d\tfailed=%d\t%s\n", s.EntityType, statusColor(s.Status), s.Succeeded, s.Failed, s.Warning)
		}
		_ = w.Flush()
	}
	if j.ErrorCount > 0 {
		fmt.Fprintf(out, "Errors:    %d (showing %d most recent)\n", j.ErrorCount, len(j.RecentErrors))
		for _, e := range j.RecentErrors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}
}

func statusColor(status string) string {
	switch status {
	case "completed":
		return color.New(color.FgGreen).Sprint(status)
	case "failed":
		return color.New(color.FgRed).Sprint(status)
	case "cancelled":
		return color.New(color.FgYellow).Sprint(status)
	case "running":
		return color.New(color.FgCyan).Sprint(status)
	default:
		return strings.ToLower(status)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
