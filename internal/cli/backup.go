package cli

import (
	"fmt"

	"appraisal/server/internal/scheduler"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the sqlite database once",
		Long:  "Write a timestamped copy of the sqlite database and prune copies older than the retention period.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if dir == "" {
				dir = a.cfg.Backup.Dir
			}
			sched := scheduler.NewScheduler(a.db, scheduler.Options{
				Dir:           dir,
				RetentionDays: a.cfg.Backup.RetentionDays,
				Interval:      a.cfg.Backup.Interval,
			}, a.logger)

			path, err := sched.RunBackup(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := sched.Cleanup()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s (%d old backups removed)\n", path, removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "backup directory (default: BACKUP_DIR)")
	return cmd
}
