package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/influix/influix/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Processor runs one pending insight and fails it once its job gives up.
type Processor interface {
	Process(ctx context.Context, insightID string) error
	Abandon(insightID, reason string) error
}

// Worker processes insight_generate jobs from the job queue.
type Worker struct {
	store       JobStore
	processor   Processor
	poll        time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0 it defaults to 500ms;
// concurrency below 1 is treated as 1.
func NewWorker(store JobStore, processor Processor, pollInterval time.Duration, concurrency int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		store:       store,
		processor:   processor,
		poll:        pollInterval,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// Run starts the configured number of polling loops and blocks until ctx is
// cancelled and every in-flight job has returned.
func (w *Worker) Run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single insight_generate job.
// Returns true if a job was processed (regardless of success/failure).
// When the last allowed attempt fails, the job's insight is failed too.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeGenerate})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	insightID, err := jobInsightID(job)
	if err == nil {
		err = w.processor.Process(ctx, insightID)
	}
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
			return true, nil
		}
		if insightID != "" && job.Attempts+1 >= job.MaxAttempts {
			reason := fmt.Sprintf("gave up after %d attempts: %v", job.Attempts+1, err)
			if abandonErr := w.processor.Abandon(insightID, reason); abandonErr != nil {
				return true, fmt.Errorf("abandoning insight %s: %w", insightID, abandonErr)
			}
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func jobInsightID(job *storage.Job) (string, error) {
	var payload generatePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}
	if payload.InsightID == "" {
		return "", fmt.Errorf("payload has no insight_id")
	}
	return payload.InsightID, nil
}
