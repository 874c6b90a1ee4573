package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

// exitError carries a process exit code; err may be nil for a quiet exit.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

type rootOptions struct {
	cfgPath string
}

func main() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "wayfarer",
		Short:         "Research a trip: plan searches, approve them, get an itinerary",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(
		planCMD(opts),
		decideCMD(opts, true),
		decideCMD(opts, false),
		resumeCMD(opts),
		statusCMD(opts),
		sessionsCMD(opts),
		serveCMD(opts),
		migrateCMD(opts),
		toolsCMD(opts),
	)
	return root
}
