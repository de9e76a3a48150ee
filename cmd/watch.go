package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/progress"
	"github.com/sells-group/audience-cli/internal/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>...",
	Short: "Follow the progress of one or more lookalike jobs until they finish",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "watch")
		if err != nil {
			return err
		}
		defer env.Close()

		return watchJobs(ctx, env.Store, env.Progress, cmd.OutOrStdout(), args, nil)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// lockedWriter serializes writes from concurrent watchers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// watchJobs follows every job concurrently until all complete or ctx is
// cancelled. Cancellation is not an error. seeds holds progress already known
// to the caller, merged with whatever the store has recorded.
func watchJobs(ctx context.Context, st store.Store, mgr *progress.Manager, out io.Writer, jobIDs []string, seeds map[string]model.ProgressSample) error {
	out = &lockedWriter{w: out}
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range jobIDs {
		g.Go(func() error {
			return watchJob(gctx, st, mgr, out, id, seeds[id])
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func watchJob(ctx context.Context, st store.Store, mgr *progress.Manager, out io.Writer, jobID string, initial model.ProgressSample) error {
	a, err := st.GetAudience(ctx, jobID)
	switch {
	case err == nil:
		initial = progress.Merge(initial, a.Progress)
	case errors.Is(err, store.ErrNotFound):
		zap.L().Debug("watching job without audience record", zap.String("job_id", jobID))
	default:
		return err
	}

	t := mgr.Attach(ctx, jobID, initial)
	defer t.Close()

	for p := range t.Updates() {
		fmt.Fprintln(out, formatProgress(p)) //nolint:errcheck
	}

	final := t.Progress()
	if !final.Terminal() {
		return ctx.Err()
	}
	fmt.Fprintf(out, "%s\tcomplete\n", jobID) //nolint:errcheck
	return nil
}

func formatProgress(p model.JobProgress) string {
	if p.Indeterminate() {
		return fmt.Sprintf("%s\t%d processed\t(total unknown)", p.JobID, p.Processed)
	}
	return fmt.Sprintf("%s\t%d/%d\t%.1f%%", p.JobID, p.Processed, p.Total, p.Percent())
}
