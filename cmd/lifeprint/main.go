// Command lifeprint runs the media analysis and growth report backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/lifeprint-backend/internal/app"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/jobs/schedule"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/shutdown"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "lifeprint",
		Short:        "Family media analysis and monthly growth reports",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newMigrateCmd())

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, role app.Role) error {
	a, err := app.New(ctx, role)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer a.Close()
	return a.Run(ctx)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the job worker and the monthly report scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), app.RoleServe)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the queue worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), app.RoleWorker)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate()
		},
	}
}

func newReportCmd() *cobra.Command {
	var (
		childFlag string
		monthFlag string
		all       bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a monthly report now",
		Long: `Generate one child's monthly report with --child, or every child's with --all.
Without --month the current month is used for a single child and the last
closed month for the batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (childFlag != "") {
				return fmt.Errorf("pass exactly one of --child or --all")
			}
			var month time.Time
			if monthFlag != "" {
				m, err := growth.ParseMonth(monthFlag)
				if err != nil {
					return err
				}
				month = m
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, app.RoleCLI)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer a.Close()

			if all {
				if month.IsZero() {
					loc, err := time.LoadLocation(a.Cfg.ReportTimezone)
					if err != nil {
						return fmt.Errorf("REPORT_TIMEZONE: %w", err)
					}
					month = schedule.ClosedMonth(time.Now(), loc)
				}
				out, err := a.Services.Reporting.GenerateBatch(ctx, report.BatchInput{Month: month}, nil)
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			}

			childID, err := uuid.Parse(childFlag)
			if err != nil {
				return fmt.Errorf("invalid --child: %w", err)
			}
			if month.IsZero() {
				month = growth.MonthStart(time.Now())
			}
			res, err := a.Services.Reports.Generate(dbctx.Context{Ctx: ctx}, childID, month)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&childFlag, "child", "", "Child ID")
	cmd.Flags().StringVar(&monthFlag, "month", "", "Report month, YYYY-MM")
	cmd.Flags().BoolVar(&all, "all", false, "Generate reports for every child")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
