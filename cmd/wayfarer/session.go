package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/wayfarer/internal/console"
	"github.com/mohammad-safakhou/wayfarer/internal/pipeline"
	"github.com/mohammad-safakhou/wayfarer/internal/render"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
	"github.com/spf13/cobra"
)

func operator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func planCMD(opts *rootOptions) *cobra.Command {
	var yes, detach bool
	var decidedBy string
	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Plan searches for a trip request and ask for approval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, opts.cfgPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			request := strings.Join(args, " ")
			a.logger.Printf("processing request: %s", request)
			out, err := a.engine.Start(ctx, request)
			if err != nil {
				if out.SessionID != "" {
					a.logger.Printf("session %s failed", out.SessionID)
				}
				return &exitError{code: 1, err: err}
			}

			con := console.New(cmd.InOrStdin(), cmd.OutOrStdout())
			con.Strategy(out.SessionID, *out.Strategy)
			if detach {
				fmt.Fprintf(cmd.OutOrStdout(), "decide later with: wayfarer approve %s | wayfarer reject %s\n", out.SessionID, out.SessionID)
				return nil
			}
			approved := yes
			if !yes {
				if approved, err = con.Approve(); err != nil {
					return err
				}
			}
			if approved {
				a.logger.Printf("plan approved, resuming execution")
			}
			out, err = a.engine.Decide(ctx, out.SessionID, approved, decidedBy)
			return a.finish(con, out, err)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve the plan without prompting")
	cmd.Flags().BoolVar(&detach, "detach", false, "stop after planning; decide later by session id")
	cmd.Flags().StringVar(&decidedBy, "as", operator(), "name recorded as the decision maker")
	return cmd
}

func decideCMD(opts *rootOptions, approve bool) *cobra.Command {
	use, short := "approve <session-id>", "Approve a planned session and run it to completion"
	if !approve {
		use, short = "reject <session-id>", "Reject a planned session"
	}
	var decidedBy string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, opts.cfgPath, approve)
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.engine.Decide(ctx, args[0], approve, decidedBy)
			return a.finish(console.New(cmd.InOrStdin(), cmd.OutOrStdout()), out, err)
		},
	}
	cmd.Flags().StringVar(&decidedBy, "as", operator(), "name recorded as the decision maker")
	return cmd
}

func resumeCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Continue a session from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, opts.cfgPath, true)
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.engine.Resume(ctx, args[0])
			return a.finish(console.New(cmd.InOrStdin(), cmd.OutOrStdout()), out, err)
		},
	}
}

func statusCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, opts.cfgPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			cp, err := a.engine.Status(ctx, args[0])
			if err != nil {
				return err
			}
			console.New(cmd.InOrStdin(), cmd.OutOrStdout()).Checkpoint(cp)
			return nil
		},
	}
}

func sessionsCMD(opts *rootOptions) *cobra.Command {
	var (
		stages []string
		prune  bool
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filter := make([]session_models.Stage, 0, len(stages))
			for _, s := range stages {
				st := session_models.Stage(s)
				if !st.Valid() {
					return fmt.Errorf("unknown stage %q", s)
				}
				filter = append(filter, st)
			}
			a, err := loadApp(ctx, opts.cfgPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if prune {
				p, ok := a.store.(interface {
					PruneExpired(ctx context.Context) (int64, error)
				})
				if !ok {
					return fmt.Errorf("storage type %q expires sessions on its own", a.cfg.Storage.SessionStore)
				}
				n, err := p.PruneExpired(ctx)
				if err != nil {
					return err
				}
				a.logger.Printf("pruned %d expired sessions", n)
			}
			cps, err := a.engine.Sessions(ctx, filter...)
			if err != nil {
				return err
			}
			console.New(cmd.InOrStdin(), cmd.OutOrStdout()).Checkpoints(cps)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&stages, "stage", nil, "only sessions in these stages")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete expired sessions first (postgres storage)")
	return cmd
}

// finish reports an outcome and maps it to an exit code: 0 done, 2 rejected,
// 1 failure.
func (a *app) finish(con *console.Console, out pipeline.Outcome, err error) error {
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	switch out.Stage {
	case session_models.StageRejected:
		a.logger.Printf("plan rejected, terminating session %s", out.SessionID)
		return &exitError{code: 2}
	case session_models.StageDone:
		con.Itinerary(*out.Itinerary)
		format, err := render.ParseFormat(a.cfg.Output.Format)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		path, err := render.Save(*out.Itinerary, a.cfg.Output.Dir, format, time.Now())
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		con.Saved(path)
	}
	return nil
}
