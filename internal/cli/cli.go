package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ymorita/restrack/internal/claude"
	internal_http "github.com/ymorita/restrack/internal/http"
	"github.com/ymorita/restrack/internal/log"
	internal_storage "github.com/ymorita/restrack/internal/storage"
	"github.com/ymorita/restrack/pkg/service"
)

func SetupCLI(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the restrack HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			port, _ := cmd.Flags().GetString("port")
			if port == "" {
				port = "8080"
			}
			store := initStore(dbConnStr)
			defer store.Close()

			svc := internal_http.Services{
				Workflow:   service.NewTaskWorkflowService(store, log.GetLogger()),
				Timer:      service.NewTimerService(store, log.GetLogger()),
				Schedule:   service.NewScheduleService(store, reasoningClient(), log.GetLogger()),
				Dependency: service.NewDependencyService(store, log.GetLogger()),
			}
			if err := internal_http.StartServer(port, svc); err != nil {
				log.GetLogger().Errorf("Server failed: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "Port to listen on")

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an AI schedule for the coming week",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			weekFlag, _ := cmd.Flags().GetString("week")
			weekStart, err := resolveWeekStart(weekFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()

			svc := service.NewScheduleService(store, reasoningClient(), log.GetLogger())
			resp, err := svc.GenerateWeekly(context.Background(), service.GenerateWeeklyRequest{
				WeekStart:     weekStart,
				Preferences:   service.SchedulePreferences{DailyHours: service.DefaultDailyHours()},
				ClearExisting: true,
			})
			if err != nil {
				log.GetLogger().Errorf("Failed to generate schedule: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to generate schedule: %v\n", err)
				os.Exit(1)
			}
			printSchedule(resp)
		},
	}
	generateCmd.Flags().String("week", "", "Week start date (YYYY-MM-DD, defaults to next Monday)")

	timerCmd := &cobra.Command{
		Use:   "timer [start|stop|status]",
		Short: "Track work time against a task",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, err := cmd.Flags().GetString("db")
			if err != nil {
				log.GetLogger().Errorf("Error retrieving db flag: %v", err)
				os.Exit(1)
			}
			store := initStore(dbConnStr)
			defer store.Close()
			svc := service.NewTimerService(store, log.GetLogger())

			switch args[0] {
			case "start":
				if len(args) < 2 {
					fmt.Fprintln(os.Stderr, "Error: timer start requires a task name")
					os.Exit(1)
				}
				entry, err := svc.Start(service.StartTimerRequest{TaskName: args[1]})
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: failed to start timer: %v\n", err)
					os.Exit(1)
				}
				fmt.Fprintf(os.Stdout, "Started timer on task %d at %s\n",
					entry.TaskID, entry.StartTime.Format(time.Kitchen))
			case "stop":
				entry, err := svc.Stop()
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: failed to stop timer: %v\n", err)
					os.Exit(1)
				}
				fmt.Fprintf(os.Stdout, "Stopped timer on task %d after %d minutes\n",
					entry.TaskID, entry.DurationMinutes)
			case "status":
				status, err := svc.Status()
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: failed to read timer status: %v\n", err)
					os.Exit(1)
				}
				if !status.Running {
					fmt.Fprintln(os.Stdout, "No timer is running.")
					return
				}
				fmt.Fprintf(os.Stdout, "Tracking '%s' for %d minutes\n", status.TaskName, status.ElapsedMinutes)
			default:
				fmt.Fprintf(os.Stderr, "Unknown timer subcommand: %s\n", args[0])
				os.Exit(1)
			}
		},
	}

	rootCmd.AddCommand(serveCmd, generateCmd, timerCmd)
}

// reasoningClient builds the Claude client, or nil when no credential is
// configured. A nil client makes schedule generation report unavailability
// instead of failing startup.
func reasoningClient() service.ReasoningClient {
	client, err := claude.New(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("ANTHROPIC_MODEL"))
	if err != nil {
		log.GetLogger().Warnf("Reasoning service disabled: %v", err)
		return nil
	}
	return client
}

// resolveWeekStart parses the --week flag, defaulting to the next Monday.
func resolveWeekStart(flag string) (time.Time, error) {
	if flag != "" {
		t, err := time.Parse("2006-01-02", flag)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --week value %q: expected YYYY-MM-DD", flag)
		}
		return t, nil
	}
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	daysAhead := (int(time.Monday) - int(today.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	return today.AddDate(0, 0, daysAhead), nil
}

func printSchedule(resp service.WeeklyScheduleResponse) {
	fmt.Fprintf(os.Stdout, "Schedule for %s - %s:\n",
		resp.WeekStart.Format("2006-01-02"), resp.WeekEnd.Format("2006-01-02"))
	if len(resp.Schedules) == 0 {
		fmt.Fprintln(os.Stdout, "No blocks scheduled.")
	}
	for _, entry := range resp.Schedules {
		window := ""
		if entry.StartTime != "" && entry.EndTime != "" {
			window = fmt.Sprintf(" %s-%s", entry.StartTime, entry.EndTime)
		}
		fmt.Fprintf(os.Stdout, "- %s%s: %s (%.1fh)\n", entry.Date, window, entry.TaskName, entry.AllocatedHours)
	}
	fmt.Fprintf(os.Stdout, "Total planned: %.1fh\n", resp.Summary.TotalPlannedHours)
	for _, w := range resp.Warnings {
		fmt.Fprintf(os.Stdout, "Warning: %s\n", w)
	}
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.NewPostgresStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
