package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	internal_http "github.com/carmandale/aims-compliance/internal/http"
	"github.com/carmandale/aims-compliance/internal/log"
	"github.com/carmandale/aims-compliance/internal/scheduler"
	internal_storage "github.com/carmandale/aims-compliance/internal/storage"
	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/carmandale/aims-compliance/pkg/storage"
)

func SetupCLI(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compliance engine server with the daily generation scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			port, _ := cmd.Flags().GetString("port")
			schedule, _ := cmd.Flags().GetString("schedule")
			store := initStore(dbConnStr(cmd))

			svcs := internal_http.NewServices(store)
			trigger := scheduler.NewDailyGenerator(svcs.Generator, log.GetLogger(), schedule, true)
			if err := trigger.Start(); err != nil {
				log.GetLogger().Errorf("Failed to start scheduler: %v", err)
				os.Exit(1)
			}
			defer trigger.Stop()

			if err := internal_http.StartServer(port, store); err != nil {
				log.GetLogger().Errorf("Server failed: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "HTTP port")
	serveCmd.Flags().String("schedule", scheduler.DefaultSchedule, "Cron schedule for daily generation")

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Materialize task instances for a date window (defaults to today)",
		Run: func(cmd *cobra.Command, args []string) {
			from := dateFlag(cmd, "from")
			to := dateFlag(cmd, "to")
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			report, err := svcs.Generator.Generate(from, to)
			if err != nil {
				log.GetLogger().Warnf("Generation finished with errors: %v", err)
			}
			fmt.Fprintf(os.Stdout, "Run %s: created %d, already existing %d\n", report.RunID, report.Created, report.Existing)
			for _, f := range report.FailedTemplates {
				fmt.Fprintf(os.Stdout, "- template %d (%s) failed: %s\n", f.TemplateID, f.Name, f.Reason)
			}
		},
	}
	generateCmd.Flags().String("from", "", "Window start (YYYY-MM-DD)")
	generateCmd.Flags().String("to", "", "Window end (YYYY-MM-DD)")

	templatesCmd := &cobra.Command{Use: "templates", Short: "Manage recurring task templates"}

	templatesListCmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Run: func(cmd *cobra.Command, args []string) {
			activeOnly, _ := cmd.Flags().GetBool("active")
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			templates, err := svcs.Templates.ListTemplates(activeOnly)
			if err != nil {
				fail("failed to list templates", err)
			}
			if len(templates) == 0 {
				fmt.Fprintf(os.Stdout, "No templates found.\n")
				return
			}
			for _, t := range templates {
				fmt.Fprintf(os.Stdout, "- ID: %d, Name: %s, Recurrence: %s, Blocking: %t, Active: %t\n",
					t.ID, t.Name, t.Recurrence, t.IsBlocking, t.IsActive)
			}
		},
	}
	templatesListCmd.Flags().Bool("active", false, "Only active templates")

	templatesCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template",
		Run: func(cmd *cobra.Command, args []string) {
			name, _ := cmd.Flags().GetString("name")
			recur, _ := cmd.Flags().GetString("recurrence")
			category, _ := cmd.Flags().GetString("category")
			description, _ := cmd.Flags().GetString("description")
			blocking, _ := cmd.Flags().GetBool("blocking")
			priority, _ := cmd.Flags().GetInt("priority")
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			id, err := svcs.Templates.CreateTemplate(models.TaskTemplate{
				Name:        name,
				Description: description,
				Recurrence:  recur,
				Category:    category,
				IsBlocking:  blocking,
				Priority:    priority,
				IsActive:    true,
			})
			if err != nil {
				fail("failed to create template", err)
			}
			fmt.Fprintf(os.Stdout, "Created template '%s' with ID %d\n", name, id)
		},
	}
	templatesCreateCmd.Flags().String("name", "", "Template name")
	templatesCreateCmd.Flags().String("description", "", "Template description")
	templatesCreateCmd.Flags().String("recurrence", "", "Recurrence expression, e.g. FREQ=WEEKLY;BYDAY=FR;BYHOUR=14")
	templatesCreateCmd.Flags().String("category", "", "Category tag")
	templatesCreateCmd.Flags().Bool("blocking", false, "Blocks the weekly close while unresolved")
	templatesCreateCmd.Flags().Int("priority", 3, "Priority (1 most urgent)")

	templatesDeactivateCmd := &cobra.Command{
		Use:   "deactivate [id]",
		Short: "Deactivate a template (historical instances are kept)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			if err := svcs.Templates.DeactivateTemplate(id); err != nil {
				fail("failed to deactivate template", err)
			}
			fmt.Fprintf(os.Stdout, "Deactivated template %d\n", id)
		},
	}
	templatesCmd.AddCommand(templatesListCmd, templatesCreateCmd, templatesDeactivateCmd)

	taskCmd := &cobra.Command{Use: "task", Short: "Transition task instances"}
	taskCmd.PersistentFlags().String("actor", "", "Acting user identifier")

	taskStartCmd := &cobra.Command{
		Use:   "start [id]",
		Short: "Start a pending task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			actor, _ := cmd.Flags().GetString("actor")
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			if err := svcs.Lifecycle.Start(id, actor); err != nil {
				fail("failed to start task", err)
			}
			fmt.Fprintf(os.Stdout, "Task %d started\n", id)
		},
	}

	taskCompleteCmd := &cobra.Command{
		Use:   "complete [id]",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			actor, _ := cmd.Flags().GetString("actor")
			notes, _ := cmd.Flags().GetString("notes")
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			if err := svcs.Lifecycle.Complete(id, actor, notes); err != nil {
				fail("failed to complete task", err)
			}
			fmt.Fprintf(os.Stdout, "Task %d completed by %s\n", id, actor)
		},
	}
	taskCompleteCmd.Flags().String("notes", "", "Completion notes")

	taskSkipCmd := &cobra.Command{
		Use:   "skip [id]",
		Short: "Skip a task with a reason",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			actor, _ := cmd.Flags().GetString("actor")
			reason, _ := cmd.Flags().GetString("reason")
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			if err := svcs.Lifecycle.Skip(id, actor, reason); err != nil {
				fail("failed to skip task", err)
			}
			fmt.Fprintf(os.Stdout, "Task %d skipped: %s\n", id, reason)
		},
	}
	taskSkipCmd.Flags().String("reason", "", "Why the task is being skipped (required)")

	taskUncompleteCmd := &cobra.Command{
		Use:   "uncomplete [id]",
		Short: "Reopen a completed task (requires --confirm)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			actor, _ := cmd.Flags().GetString("actor")
			notes, _ := cmd.Flags().GetString("notes")
			confirm, _ := cmd.Flags().GetBool("confirm")
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			if err := svcs.Lifecycle.Uncomplete(id, actor, confirm, notes); err != nil {
				fail("failed to uncomplete task", err)
			}
			fmt.Fprintf(os.Stdout, "Task %d reopened\n", id)
		},
	}
	taskUncompleteCmd.Flags().Bool("confirm", false, "Confirm reopening a completed task")
	taskUncompleteCmd.Flags().String("notes", "", "Reason for reopening")
	taskCmd.AddCommand(taskStartCmd, taskCompleteCmd, taskSkipCmd, taskUncompleteCmd)

	gateCmd := &cobra.Command{
		Use:   "gate",
		Short: "Check whether the cycle can close",
		Run: func(cmd *cobra.Command, args []string) {
			asOf := dateFlag(cmd, "as-of")
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			status, err := svcs.Gate.CanCloseCycle(asOf)
			if err != nil {
				fail("failed to evaluate gate", err)
			}
			if status.Ready {
				fmt.Fprintf(os.Stdout, "READY: no blocking tasks open as of %s\n", asOf.Format("2006-01-02"))
				return
			}
			fmt.Fprintf(os.Stdout, "BLOCKED: %d task(s) open as of %s\n", len(status.BlockingTasks), asOf.Format("2006-01-02"))
			for _, t := range status.BlockingTasks {
				fmt.Fprintf(os.Stdout, "- ID: %d, Name: %s, Due: %s, Status: %s\n",
					t.ID, t.Name, t.DueDate.Format("2006-01-02"), t.Status)
			}
		},
	}
	gateCmd.Flags().String("as-of", "", "Gate date (YYYY-MM-DD, defaults to today)")

	trendCmd := &cobra.Command{
		Use:   "trend",
		Short: "Show weekly compliance trend",
		Run: func(cmd *cobra.Command, args []string) {
			weeks, _ := cmd.Flags().GetInt("weeks")
			store := initStore(dbConnStr(cmd))
			defer store.Close()

			svcs := internal_http.NewServices(store)
			trend, err := svcs.Compliance.Trend(weeks, time.Now())
			if err != nil {
				fail("failed to compute trend", err)
			}
			for _, wk := range trend {
				if wk.Snapshot.NoData {
					fmt.Fprintf(os.Stdout, "- %d-W%02d: no data\n", wk.ISOYear, wk.ISOWeek)
					continue
				}
				fmt.Fprintf(os.Stdout, "- %d-W%02d: %.0f%% (%d/%d completed, %d overdue)\n",
					wk.ISOYear, wk.ISOWeek, wk.Snapshot.CompletionRate*100,
					wk.Snapshot.Completed, wk.Snapshot.Total, wk.Snapshot.Overdue)
			}
		},
	}
	trendCmd.Flags().Int("weeks", 4, "Trailing weeks to report")

	rootCmd.AddCommand(serveCmd, generateCmd, templatesCmd, taskCmd, gateCmd, trendCmd)
}

func dbConnStr(cmd *cobra.Command) string {
	connStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	return connStr
}

func dateFlag(cmd *cobra.Command, name string) time.Time {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return time.Now()
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --%s date %q, expected YYYY-MM-DD\n", name, v)
		os.Exit(1)
	}
	return t
}

func parseID(arg string) int64 {
	var id int64
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid id %q\n", arg)
		os.Exit(1)
	}
	return id
}

func fail(msg string, err error) {
	log.GetLogger().Errorf("%s: %v", msg, err)
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}

func initStore(dbConnStr string) storage.Store {
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
