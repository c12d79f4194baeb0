package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/autoact/autoact"
	modeljob "github.com/autoact/autoact/model/job"
	"github.com/autoact/autoact/service/dao/sqlite"
)

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and administer async jobs",
	}
	cmd.AddCommand(newJobsListCommand())
	cmd.AddCommand(newJobsRetryCommand())
	cmd.AddCommand(newJobsCancelCommand())
	return cmd
}

// adminService assembles an engine over the configured database without
// starting any workers.
func adminService(cmd *cobra.Command) (*autoact.Service, func(), error) {
	config, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if config.Database.Path == "" {
		return nil, nil, fmt.Errorf("database.path is required for job administration")
	}
	store, err := sqlite.New(sqlite.Config{Path: config.Database.Path})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(cmd.Context()); err != nil {
		return nil, nil, err
	}
	svc, err := autoact.New(autoact.WithConfig(config), autoact.WithStorage(store))
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return svc, func() { _ = store.Close() }, nil
}

func newJobsListCommand() *cobra.Command {
	var orgID, status, jobType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := adminService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			jobs, err := svc.Jobs().List(cmd.Context(), orgID,
				modeljob.Status(status), modeljob.Type(jobType))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tATTEMPTS\tENTITY\tLAST ERROR")
			for _, record := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					record.ID, record.Type, record.Status,
					record.Attempts, record.MaxAttempts, record.EntityID,
					record.LastErrorCode)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&jobType, "type", "", "filter by job type")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newJobsRetryCommand() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Reset a failed or dead-lettered job for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := adminService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			record, err := svc.Jobs().Retry(cmd.Context(), args[0], orgID)
			if err != nil {
				return err
			}
			fmt.Printf("job %s requeued (attempts reset)\n", record.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newJobsCancelCommand() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := adminService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			record, err := svc.Jobs().Cancel(cmd.Context(), args[0], orgID)
			if err != nil {
				return err
			}
			fmt.Printf("job %s cancelled\n", record.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
