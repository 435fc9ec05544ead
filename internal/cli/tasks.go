package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
	"github.com/spf13/cobra"
)

var (
	tasksStatus string
	tasksName   string
	tasksLimit  int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List or retry background tasks",
	Long: `Inspect the persisted background task queue and retry failed tasks.

Examples:
  omnictl tasks list --status failed
  omnictl tasks list --name process_item
  omnictl tasks retry task:abc123`,
	RunE: runTasksList,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTasksList,
}

var tasksRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Give a failed task a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksRetry,
}

func init() {
	tasksListCmd.Flags().StringVarP(&tasksStatus, "status", "s", "", "filter by status (pending, running, completed, failed)")
	tasksListCmd.Flags().StringVar(&tasksName, "name", "", "filter by task name")
	tasksListCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 50, "max results")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksRetryCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, err := browseService(false)
	if err != nil {
		return err
	}
	tasks, err := svc.ListTasks(ctx, tasksStatus, tasksName, tasksLimit)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	fmt.Printf("%-36s %-20s %-10s %-9s %s\n", "ID", "NAME", "STATUS", "ATTEMPTS", "UPDATED")
	fmt.Println(strings.Repeat("-", 95))
	for i := range tasks {
		task := &tasks[i]
		fmt.Printf("%-36s %-20s %-10s %d/%-7d %s\n",
			models.MustRecordIDString(task.ID), task.Name, task.Status,
			task.Attempts, task.MaxAttempts, task.Updated.Format("2006-01-02 15:04:05"))
		if verbose && task.Error != nil {
			fmt.Printf("  error: %s\n", *task.Error)
		}
	}
	return nil
}

func runTasksRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, err := browseService(false)
	if err != nil {
		return err
	}
	if err := svc.RetryTask(ctx, args[0]); err != nil {
		return fmt.Errorf("retry task: %w", err)
	}
	fmt.Printf("Task %s requeued.\n", args[0])
	return nil
}
