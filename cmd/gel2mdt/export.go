package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/export"
)

// exportFunc produces a file name, its content type and the bytes
type exportFunc func(ctx context.Context, cmd *cobra.Command, a *app, args []string) (string, string, []byte, error)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write MDT, outcome and summary documents",
	}
	cmd.PersistentFlags().StringP("output", "o", ".", "Directory to write the file into")
	cmd.PersistentFlags().Bool("archive", false, "Also upload the file to the export archive")

	mdtCmd := exportSubcommand("mdt <mdt-id>", "MDT worksheet (xlsx)", cobra.ExactArgs(1),
		func(ctx context.Context, cmd *cobra.Command, a *app, args []string) (string, string, []byte, error) {
			id, err := positiveID("mdt_id", args[0])
			if err != nil {
				return "", "", nil, err
			}
			data, err := a.mdtService.ExportData(ctx, id)
			if err != nil {
				return "", "", nil, err
			}
			workbook, err := export.MDTWorkbook(data.MDT, data.Cases)
			return fmt.Sprintf("mdt_%d.xlsx", id), export.XLSXContentType, workbook, err
		})

	outcomeCmd := exportSubcommand("outcome <report-id>", "Case outcome summary (docx)", cobra.ExactArgs(1),
		func(ctx context.Context, cmd *cobra.Command, a *app, args []string) (string, string, []byte, error) {
			id, err := positiveID("report_id", args[0])
			if err != nil {
				return "", "", nil, err
			}
			rec, err := a.caseService.OutcomeRecord(ctx, id)
			if err != nil {
				return "", "", nil, err
			}
			doc, err := export.OutcomeDocument(rec)
			name := fmt.Sprintf("%s_%s.docx", rec.Detail.Proband.GELID, rec.Detail.Report.IRFamilyRef)
			return name, export.DOCXContentType, doc, err
		})

	monthlyCmd := exportSubcommand("monthly", "Monthly MDT summary (xlsx)", cobra.NoArgs,
		func(ctx context.Context, cmd *cobra.Command, a *app, args []string) (string, string, []byte, error) {
			months, _ := cmd.Flags().GetInt("months")
			summaries, err := a.mdtService.MonthlySummaries(ctx, months, time.Now().UTC())
			if err != nil {
				return "", "", nil, err
			}
			workbook, err := export.MonthlyWorkbook(summaries)
			return "mdt_monthly_summary.xlsx", export.XLSXContentType, workbook, err
		})
	monthlyCmd.Flags().Int("months", 12, "Number of months to summarise")

	notCompletedCmd := exportSubcommand("not-completed", "Open cases by status (xlsx)", cobra.NoArgs,
		func(ctx context.Context, cmd *cobra.Command, a *app, args []string) (string, string, []byte, error) {
			cases, err := latestCases(ctx, a)
			if err != nil {
				return "", "", nil, err
			}
			workbook, err := export.NotCompletedWorkbook(cases)
			return "cases_not_completed.xlsx", export.XLSXContentType, workbook, err
		})

	casesCmd := exportSubcommand("cases", "Every latest case (csv)", cobra.NoArgs,
		func(ctx context.Context, cmd *cobra.Command, a *app, args []string) (string, string, []byte, error) {
			cases, err := latestCases(ctx, a)
			if err != nil {
				return "", "", nil, err
			}
			data, err := export.CasesCSV(cases)
			return "GEL2MDT_export.csv", export.CSVContentType, data, err
		})

	cmd.AddCommand(mdtCmd, outcomeCmd, monthlyCmd, notCompletedCmd, casesCmd)
	return cmd
}

func exportSubcommand(use, short string, args cobra.PositionalArgs, produce exportFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			outDir, _ := cmd.Flags().GetString("output")
			archiveIt, _ := cmd.Flags().GetBool("archive")

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cmd, appOptions{archive: archiveIt})
			if err != nil {
				return err
			}
			defer a.Close()

			name, contentType, data, err := produce(ctx, cmd, a, posArgs)
			if err != nil {
				return err
			}

			path := filepath.Join(outDir, name)
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			fields := logrus.Fields{"file": path, "bytes": len(data)}

			if archiveIt {
				key, err := a.archive.Put(ctx, name, contentType, data)
				if err != nil {
					return fmt.Errorf("archiving %s: %w", name, err)
				}
				fields["archive_key"] = key
			}
			a.logger.WithFields(fields).Info("Export written")
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func positiveID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(field, "must be a positive integer", raw)
	}
	return id, nil
}

func latestCases(ctx context.Context, a *app) ([]domain.CaseSummary, error) {
	var all []domain.CaseSummary
	for _, st := range []domain.SampleType{domain.RareDisease, domain.Cancer} {
		cases, err := a.caseService.LatestCases(ctx, st, nil)
		if err != nil {
			return nil, err
		}
		all = append(all, cases...)
	}
	return all, nil
}
