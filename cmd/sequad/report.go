package main

import (
	"context"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/foch-qualite/sequad/internal/analysis"
	"github.com/foch-qualite/sequad/internal/audit"
	"github.com/foch-qualite/sequad/internal/dashboard"
	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/lifen"
	"github.com/foch-qualite/sequad/internal/shared/database"
	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/retry"
	"github.com/foch-qualite/sequad/internal/shared/types"
	"github.com/foch-qualite/sequad/internal/shared/upstream"
	"github.com/foch-qualite/sequad/internal/venues"
)

var (
	reportStart       string
	reportEnd         string
	reportVenuesFile  string
	reportColumn      string
	reportFormat      string
	reportOut         string
	reportJoin        string
	reportThreshold   int
	reportSpecialties []string
	reportStatuses    []string
	reportChannels    []string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run a reconciliation report",
	Long: `Run one report, either over the stays discharged between --start and
--end, or over the stay numbers read from --venues-file.

Examples:
  sequad report --start 2024-01-01 --end 2024-01-31
  sequad report --venues-file stays.xlsx --column NUM_SEJOUR --format csv --out stays.csv`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportStart, "start", "", "first discharge date (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportEnd, "end", "", "last discharge date (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportVenuesFile, "venues-file", "", "file of stay numbers (txt, csv or xlsx)")
	reportCmd.Flags().StringVar(&reportColumn, "column", "", "column holding the stay numbers")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "markdown", "output format: json, csv, parquet, html or markdown")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "output file (default stdout)")
	reportCmd.Flags().StringVar(&reportJoin, "join", "left", "join mode: left or outer")
	reportCmd.Flags().IntVar(&reportThreshold, "threshold", 0, "drill-down threshold in days")
	reportCmd.Flags().StringSliceVar(&reportSpecialties, "specialty", nil, "keep letters of these services")
	reportCmd.Flags().StringSliceVar(&reportStatuses, "status", nil, "keep diffusions with these statuses")
	reportCmd.Flags().StringSliceVar(&reportChannels, "channel", nil, "keep diffusions sent on these channels")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := dashboard.ParseFormat(reportFormat)
	if err != nil {
		return err
	}
	q, err := reportQuery(cmd)
	if err != nil {
		return err
	}

	var state analysis.State
	if reportVenuesFile != "" {
		found, err := readVenueFile(reportVenuesFile, reportColumn)
		if err != nil {
			return err
		}
		state = state.WithVenues(filepath.Base(reportVenuesFile), found)
	}

	started := time.Now()
	_, report, runErr := newPipeline().Run(ctx, state, q)
	recordRun(ctx, q, state, report, runErr, time.Since(started))
	if runErr != nil {
		return runErr
	}

	var w io.Writer = os.Stdout
	if reportOut != "" {
		f, err := os.Create(reportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := dashboard.Render(w, format, report); err != nil {
		return err
	}

	log.Info().
		Str("run_id", report.RunID.String()).
		Int("stays", len(report.Stays)).
		Bool("no_data", report.NoData).
		Msg("report written")
	return nil
}

// reportQuery builds the query from the flags. A venues file selects venue
// mode; dates are only set when given.
func reportQuery(cmd *cobra.Command) (analysis.Query, error) {
	q := analysis.Query{
		Mode:        analysis.ModeDates,
		Specialties: reportSpecialties,
		Statuses:    reportStatuses,
		Channels:    reportChannels,
	}
	if reportVenuesFile != "" {
		q.Mode = analysis.ModeVenues
	}

	var err error
	if reportStart != "" {
		if q.Start, err = types.ParseDate(reportStart); err != nil {
			return q, apperrors.InvalidDate("start_date", reportStart)
		}
	}
	if reportEnd != "" {
		if q.End, err = types.ParseDate(reportEnd); err != nil {
			return q, apperrors.InvalidDate("end_date", reportEnd)
		}
	}

	join, ok := analysis.ParseJoinMode(reportJoin)
	if !ok {
		return q, apperrors.InvalidQuery("join", "join must be left or outer")
	}
	q.Join = join

	if cmd.Flags().Changed("threshold") {
		if reportThreshold < 0 {
			return q, apperrors.InvalidQuery("threshold_days", "threshold must not be negative")
		}
		threshold := reportThreshold
		q.ThresholdDays = &threshold
	}
	return q, nil
}

func readVenueFile(path, column string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Format("cannot open "+path, err)
	}
	defer f.Close()

	found, err := venues.NewExtractor(cfg.Analysis.VenueColumnAliases).ExtractFile(path, f, venues.Options{Column: column})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, apperrors.Format("no stay number found in "+filepath.Base(path), nil)
	}
	return found, nil
}

func newPipeline() *analysis.Pipeline {
	letters := easily.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.EasilyURL,
		Timeout: cfg.Upstream.Timeout,
		Token:   cfg.Upstream.ServiceToken,
	}, log)
	diffusions := lifen.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.LifenURL,
		Token:   cfg.Upstream.ServiceToken,
	}, retry.Linear(cfg.Upstream.RetryAttempts, cfg.Upstream.Timeout, cfg.Upstream.RetryDelay), log)
	return analysis.NewPipeline(letters, diffusions, analysis.OptionsFrom(cfg), log)
}

// recordRun appends the run to the audit log when one is configured.
// Failures are logged, never returned.
func recordRun(ctx context.Context, q analysis.Query, state analysis.State, report *analysis.Report, runErr error, elapsed time.Duration) {
	if cfg.Audit.DatabaseURL == "" || apperrors.Is(runErr, apperrors.ErrInvalidQuery) {
		return
	}
	pool, err := database.OpenPostgres(ctx, cfg.Audit.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("audit log unavailable, run not recorded")
		return
	}
	defer pool.Close()

	repo := audit.NewRepository(pool)
	if err := repo.Initialize(ctx); err != nil {
		log.Warn().Err(err).Msg("audit log unavailable, run not recorded")
		return
	}
	run := audit.NewRun(cliUser(), types.ID(""), q, state, report, runErr, elapsed)
	if err := repo.Append(ctx, run); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID.String()).Msg("failed to record report run")
	}
}

func cliUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
