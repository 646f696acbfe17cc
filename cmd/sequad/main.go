// Command sequad reconciles Easily discharge letters with their Lifen
// diffusions. It runs reports from the shell and serves the dashboard API.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/foch-qualite/sequad/internal/exitcode"
	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
)

// connError marks a failure to reach a local store.
type connError struct {
	err error
}

func (e *connError) Error() string { return e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode classifies err. Errors that are neither application errors nor
// connection failures come from flag parsing or configuration.
func exitCode(err error) int {
	if _, ok := apperrors.As(err); ok {
		return exitcode.For(err)
	}
	var ce *connError
	if errors.As(err, &ce) {
		return exitcode.DBConnError
	}
	return exitcode.UsageError
}
