package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/foch-qualite/sequad/internal/lifen"
	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/retry"
	"github.com/foch-qualite/sequad/internal/shared/types"
	"github.com/foch-qualite/sequad/internal/shared/upstream"
)

var (
	planStart  string
	planEnd    string
	planRemote bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview how a period is split into Lifen fetch chunks",
	Long: `Print the chunk plan of a period as JSON: the strategy, the chunks and
the estimated fetch time. With --remote the plan is asked from lifen-api.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planStart, "start", "", "first date (YYYY-MM-DD)")
	planCmd.Flags().StringVar(&planEnd, "end", "", "last date (YYYY-MM-DD)")
	planCmd.Flags().BoolVar(&planRemote, "remote", false, "ask lifen-api instead of planning locally")
	planCmd.MarkFlagRequired("start")
	planCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	start, err := types.ParseDate(planStart)
	if err != nil {
		return apperrors.InvalidDate("start_date", planStart)
	}
	end, err := types.ParseDate(planEnd)
	if err != nil {
		return apperrors.InvalidDate("end_date", planEnd)
	}

	var metadata any
	if planRemote {
		client := lifen.NewClient(upstream.Config{
			BaseURL: cfg.Upstream.LifenURL,
			Token:   cfg.Upstream.ServiceToken,
		}, retry.Linear(cfg.Upstream.RetryAttempts, cfg.Upstream.Timeout, cfg.Upstream.RetryDelay), log)
		m, err := client.Metadata(cmd.Context(), lifen.DocumentQuery{Start: start, End: end})
		if err != nil {
			return err
		}
		metadata = m
	} else {
		plan, err := lifen.NewPlan(start, end, cfg.Analysis.ChunkTiers, cfg.Chunking.MaxChunks)
		if err != nil {
			return err
		}
		metadata = plan.Metadata()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(metadata)
}
