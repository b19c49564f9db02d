package revalidate

import (
	"context"
	"fmt"

	"github.com/dvloznov/welth/internal/jobs"
)

// QueuedNotifier defers invalidations to the background job queue so a slow
// broker never holds up a request.
type QueuedNotifier struct {
	publisher jobs.Publisher
}

// NewQueuedNotifier creates a notifier that enqueues revalidate_views jobs.
func NewQueuedNotifier(p jobs.Publisher) *QueuedNotifier {
	return &QueuedNotifier{publisher: p}
}

// Invalidate implements Notifier.
func (n *QueuedNotifier) Invalidate(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	job, err := jobs.NewJob(jobs.JobTypeRevalidateViews, Invalidation{Paths: paths})
	if err != nil {
		return err
	}
	// The write has committed; a cancelled request must not drop the job.
	if err := n.publisher.Publish(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("QueuedNotifier.Invalidate: %w", err)
	}
	return nil
}

// JobHandler returns the handler that delivers queued invalidations to target.
func JobHandler(target Notifier) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.Job) error {
		var inv Invalidation
		if err := job.Decode(&inv); err != nil {
			return err
		}
		return target.Invalidate(ctx, inv.Paths...)
	}
}
