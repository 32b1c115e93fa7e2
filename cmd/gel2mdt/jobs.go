package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/service"
)

func updateCasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-cases",
		Short: "Poll the CIP-API and ingest new or changed cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, _ := cmd.Flags().GetStringSlice("sample-type")
			sample, _ := cmd.Flags().GetString("sample")
			pullT3, _ := cmd.Flags().GetBool("pull-t3")
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			interactive, _ := cmd.Flags().GetBool("interactive")

			sampleTypes, err := parseSampleTypes(samples)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cmd, appOptions{clients: true, interactive: interactive})
			if err != nil {
				return err
			}
			defer a.Close()

			ingester, err := a.newIngester(nil)
			if err != nil {
				return err
			}

			opts := service.RunOptions{Sample: sample, PullT3: pullT3, Overwrite: overwrite}
			var failed bool
			for _, st := range sampleTypes {
				lu, err := ingester.Run(ctx, st, opts)
				if err != nil {
					a.logger.WithError(err).WithField("sample_type", st).Error("Case update failed")
					failed = true
					continue
				}
				if err := printJSON(cmd, lu); err != nil {
					return err
				}
			}
			if failed {
				return fmt.Errorf("one or more case updates failed")
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("sample-type", nil, "Programmes to update (raredisease, cancer); defaults to both")
	cmd.Flags().String("sample", "", "Only ingest cases for this proband GEL ID")
	cmd.Flags().Bool("pull-t3", false, "Store tier 3 variants")
	cmd.Flags().Bool("overwrite", false, "Re-ingest cases even when their hash is unchanged")
	cmd.Flags().Bool("interactive", false, "Prompt for missing credentials on the terminal")
	return cmd
}

func pullT3Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull-t3 <report-id>",
		Short: "Re-ingest one case with its tier 3 variants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reportID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || reportID <= 0 {
				return domain.NewValidationError("report_id", "must be a positive integer", args[0])
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cmd, appOptions{clients: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ingester, err := a.newIngester(nil)
			if err != nil {
				return err
			}
			lu, err := ingester.UpdateForT3(ctx, reportID)
			if err != nil {
				return err
			}
			return printJSON(cmd, lu)
		},
	}
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the scheduled jobs in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cmd, appOptions{clients: true, alerts: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ingester, err := a.newIngester(nil)
			if err != nil {
				return err
			}
			s, err := a.newScheduler(ingester)
			if err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{"jobs": s.Jobs()}).Info("Scheduler started")
			s.Start(ctx)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show the registered jobs and their schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sched := manager.GetConfig().Schedule
			specs := map[string]string{
				"update_cases":              sched.UpdateCases,
				"listupdate_email":          sched.ListUpdateEmail,
				"case_alert_email":          sched.CaseAlertEmail,
				"update_report_email":       sched.UpdateReportEmail,
				"cases_not_completed_email": sched.CasesNotCompletedEmail,
			}
			names := make([]string, 0, len(specs))
			for name := range specs {
				names = append(names, name)
			}
			sort.Strings(names)
			out := cmd.OutOrStdout()
			for _, name := range names {
				spec := specs[name]
				if spec == "" {
					spec = "(manual)"
				}
				fmt.Fprintf(out, "%-27s %s\n", name, spec)
			}
			return nil
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job immediately, honouring its lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cmd, appOptions{clients: true, alerts: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ingester, err := a.newIngester(nil)
			if err != nil {
				return err
			}
			s, err := a.newScheduler(ingester)
			if err != nil {
				return err
			}
			return s.RunNow(ctx, args[0])
		},
	}

	cmd.AddCommand(listCmd, runCmd)
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
