// Command automationctl runs automation operations against the configured
// database without starting the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"landflow/internal/automation"
	"landflow/internal/config"
	"landflow/internal/database"
	"landflow/internal/lock"
	"landflow/internal/logging"
	"landflow/internal/mailer"
	"landflow/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	verbose bool
	timeout time.Duration

	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	st     *store.Store
)

var rootCmd = &cobra.Command{
	Use:   "automationctl",
	Short: "Operate LandFlow automations from the command line",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.LoadConfig()
		if verbose {
			cfg.LogLevel = "debug"
		}

		var err error
		logger, err = logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}

		db, err = database.Open(cfg)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		database.SyncConfig(db, cfg, logger)
		st = store.New(db)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Raise a trigger for a lead and run matching automations",
	Example: `  automationctl trigger --client 1 --lead 123 --event new_lead`,
	RunE: runTrigger,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one scheduler cycle over due tasks",
	RunE:  runPoll,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List a tenant's scheduled tasks",
	RunE:  listTasks,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or change system-wide settings",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List system settings",
	Args:  cobra.NoArgs,
	RunE:  listSettings,
}

var settingsSetCmd = &cobra.Command{
	Use:     "set KEY VALUE",
	Short:   "Change an existing system setting",
	Example: `  automationctl settings set SMTP_HOST mail.example.com`,
	Args:    cobra.ExactArgs(2),
	RunE:    setSetting,
}

var (
	clientID uint
	leadID   uint
	event    string
	status   string
	limit    int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	triggerCmd.Flags().UintVar(&clientID, "client", 0, "Tenant id (required)")
	triggerCmd.Flags().UintVar(&leadID, "lead", 0, "Lead id (required)")
	triggerCmd.Flags().StringVar(&event, "event", "", "Trigger name (required)")
	triggerCmd.MarkFlagRequired("client")
	triggerCmd.MarkFlagRequired("lead")
	triggerCmd.MarkFlagRequired("event")

	tasksCmd.Flags().UintVar(&clientID, "client", 0, "Tenant id (required)")
	tasksCmd.Flags().StringVar(&status, "status", "", "Filter by status (Programada, EnProceso, Completada, Fallida)")
	tasksCmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	tasksCmd.MarkFlagRequired("client")

	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(tasksCmd)

	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func newEngine() *automation.Engine {
	sender := mailer.NewSender(st, cfg.Mail, logger)
	return automation.NewEngine(automation.FromStore(st), sender, nil, logger)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	if !automation.ValidTrigger(event) {
		return fmt.Errorf("unknown trigger %q", event)
	}
	ctx, cancel := commandContext()
	defer cancel()

	lead, err := st.GetLeadByID(ctx, leadID)
	if err != nil {
		return err
	}
	if lead.ClientID != clientID {
		return fmt.Errorf("lead %d does not belong to client %d", leadID, clientID)
	}

	newEngine().TriggerAutomations(ctx, event, leadID, clientID)
	fmt.Fprintf(cmd.OutOrStdout(), "trigger %s processed for lead %d\n", event, leadID)
	return nil
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	locker, closeLock := lock.ForScheduler(cfg, db.DB, logger)
	defer closeLock()

	scheduler := automation.NewScheduler(newEngine(),
		automation.WithClaimLease(cfg.Automation.ClaimLease),
		automation.WithLock(locker),
	)
	stats := scheduler.ProcessScheduledTasks(ctx)
	if stats.Skipped {
		return fmt.Errorf("cycle skipped, another poller holds the lock")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "due=%d completed=%d failed=%d expired=%d\n",
		stats.Due, stats.Completed, stats.Failed, stats.Expired)
	return nil
}

func listTasks(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	tasks, err := st.GetClientTasks(ctx, clientID, status, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSCHEDULED FOR\tRESULT")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			t.ID, t.TaskType, t.Status, t.ScheduledFor.Format(time.RFC3339), t.Result)
	}
	return w.Flush()
}

func listSettings(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	settings, err := st.GetSettings(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
	for _, s := range settings {
		value := s.Value
		if strings.Contains(s.Key, "PASSWORD") || strings.Contains(s.Key, "SECRET") {
			value = "********"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, value, s.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func setSetting(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	if err := st.UpdateSetting(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "setting %s updated; restart the server to apply it\n", args[0])
	return nil
}
