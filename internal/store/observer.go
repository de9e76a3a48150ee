package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/model"
)

// ProgressRecorder returns a callback that raises the stored progress of a
// job. Jobs without an audience row are ignored; other failures are logged.
func ProgressRecorder(st Store) func(model.JobProgress) {
	log := zap.L().With(zap.String("component", "store.progress"))
	return func(p model.JobProgress) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := st.UpdateAudienceProgress(ctx, p.JobID, p.ProgressSample)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			log.Debug("progress for unknown audience", zap.String("job_id", p.JobID))
		default:
			log.Warn("failed to record progress", zap.String("job_id", p.JobID), zap.Error(err))
		}
	}
}
