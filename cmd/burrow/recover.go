package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/taskmanager"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Release clusters left claimed by a crashed task manager",
	Long: `Release clusters whose task was never reset because the task manager
stopped in the middle of an action.

Run it while the task manager is stopped; serve performs the same recovery
on startup. Members still marked BUILDING are marked BUILDING_ERROR_SERVER
unless --keep-node-tasks is given. The database is backed up first.`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().String("data-dir", "/var/lib/burrow", "Burrow data directory")
	recoverCmd.Flags().Bool("dry-run", false, "Show what would be released without making changes")
	recoverCmd.Flags().String("backup", "", "Path to backup the database before changes (default: <data-dir>/burrow.db.backup)")
	recoverCmd.Flags().Bool("keep-node-tasks", false, "Do not mark building members errored")
}

func runRecover(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backupPath, _ := cmd.Flags().GetString("backup")
	keepNodeTasks, _ := cmd.Flags().GetBool("keep-node-tasks")

	dbPath := filepath.Join(dataDir, storage.DBFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("database not found at %s", dbPath)
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open database (is the task manager still running?): %w", err)
	}
	defer store.Close()

	stale, err := taskmanager.FindStale(store)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		fmt.Println("✓ No claimed clusters found")
		return nil
	}

	for _, sc := range stale {
		fmt.Printf("Cluster %s (%s): task %s, %d building members\n",
			sc.Cluster.Name, sc.Cluster.ID, sc.Cluster.Task, len(sc.Building))
	}

	if dryRun {
		fmt.Println("\nDry run completed. No changes made.")
		fmt.Println("Run without --dry-run to release these clusters.")
		return nil
	}

	if backupPath == "" {
		backupPath = dbPath + ".backup"
	}
	fmt.Printf("Creating backup: %s\n", backupPath)
	if err := store.Backup(backupPath); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	if err := taskmanager.ReleaseStale(store, stale, !keepNodeTasks); err != nil {
		return err
	}
	fmt.Printf("✓ Released %d clusters\n", len(stale))
	return nil
}
