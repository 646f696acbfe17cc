package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/venues"
)

var (
	venuesColumn      string
	venuesListColumns bool
)

var venuesCmd = &cobra.Command{
	Use:   "venues FILE",
	Short: "Print the stay numbers found in a file",
	Long: `Read a text, CSV or Excel file and print the stay numbers it holds,
one per line, in file order without duplicates. With --columns, print the
columns of a table instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runVenues,
}

func init() {
	venuesCmd.Flags().StringVar(&venuesColumn, "column", "", "column holding the stay numbers")
	venuesCmd.Flags().BoolVar(&venuesListColumns, "columns", false, "list the columns of the file")
	rootCmd.AddCommand(venuesCmd)
}

func runVenues(cmd *cobra.Command, args []string) error {
	path := args[0]

	if venuesListColumns {
		format, err := venues.DetectFormat(path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return apperrors.Format("cannot open "+path, err)
		}
		defer f.Close()

		columns, err := venues.Columns(f, format)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(columns, "\n"))
		return nil
	}

	found, err := readVenueFile(path, venuesColumn)
	if err != nil {
		return err
	}
	for _, v := range found {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	log.Info().Str("file", path).Int("venues", len(found)).Msg("venues extracted")
	return nil
}
