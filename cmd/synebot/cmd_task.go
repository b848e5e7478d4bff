package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/riyogarta/synebot/internal/scheduler"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and manage scheduled tasks",
}

var (
	taskScheduleType    string
	taskCreatedBy       int64
	taskParentSessionID int64
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <name> <schedule-value> <payload>",
	Short: "Create a scheduled task",
	Long: `Creates a task that delivers payload as a synthetic user turn into
the session named by --parent-session once its schedule fires.

schedule-value's format depends on --type:
  once     an RFC3339 timestamp
  interval a positive integer number of seconds
  cron     a 5-field cron expression`,
	Args: cobra.ExactArgs(3),
	RunE: runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every scheduled task",
	RunE:  runTaskList,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Delete a scheduled task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskCancelCmd)

	taskCreateCmd.Flags().StringVar(&taskScheduleType, "type", "once", "schedule type: once, interval, or cron")
	taskCreateCmd.Flags().Int64Var(&taskCreatedBy, "created-by", 0, "user id the task is attributed to")
	taskCreateCmd.Flags().Int64Var(&taskParentSessionID, "parent-session", 0, "session id the task's payload is delivered into")
	_ = taskCreateCmd.MarkFlagRequired("parent-session")
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	name, scheduleValue, payload := args[0], args[1], args[2]
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	sched := scheduler.New(store, noopDeliverer{}, nil, 0)
	t, err := sched.CreateTask(ctx, name, scheduler.ScheduleType(taskScheduleType), scheduleValue, payload, taskCreatedBy, taskParentSessionID)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Printf("created task %d %q, next run %s\n", t.ID, t.Name, t.NextRun.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for _, t := range tasks {
		status := "enabled"
		if !t.Enabled {
			status = "disabled"
		}
		fmt.Printf("%-4d %-20s %-10s %-24s %-10s next=%s runs=%d\n",
			t.ID, t.Name, t.ScheduleType, t.ScheduleValue, status, t.NextRun.Format("2006-01-02 15:04:05"), t.RunCount)
	}
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", args[0], err)
	}
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	sched := scheduler.New(store, noopDeliverer{}, nil, 0)
	if err := sched.Delete(ctx, id); err != nil {
		return fmt.Errorf("cancel task %d: %w", id, err)
	}
	fmt.Printf("task %d cancelled.\n", id)
	return nil
}

// noopDeliverer satisfies scheduler.Deliverer for admin commands that
// never actually run the poll loop.
type noopDeliverer struct{}

func (noopDeliverer) Deliver(ctx context.Context, parentSessionID int64, payload string) error {
	return nil
}
