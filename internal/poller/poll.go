package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-portal/internal/importer"
)

// UpdateFunc receives every snapshot the poller observes
type UpdateFunc func(job importer.ImportJob)

// Poll follows a job until it reaches a terminal stage and returns the final
// snapshot.
//
// Transient failures (network errors, unexpected statuses, a missing token)
// are retried; after maxFailures in a row the last known snapshot is closed
// out as failed with a synthetic database error. When the attempt ceiling is
// reached the same happens with a local timeout error. ErrNotTracked is
// returned when the server reports no such job.
func (c *Client) Poll(ctx context.Context, jobID string, onUpdate UpdateFunc) (importer.ImportJob, error) {
	last := importer.ImportJob{ID: jobID, Stage: importer.StageValidating, Errors: []importer.ImportError{}}
	failures := 0

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		job, err := c.Status(ctx, jobID)
		switch {
		case err == nil:
			failures = 0
			last = job
			if onUpdate != nil {
				onUpdate(job)
			}
			if job.IsComplete() {
				return job, nil
			}
		case errors.Is(err, ErrNotTracked):
			return last, err
		case ctx.Err() != nil:
			return last, ctx.Err()
		default:
			failures++
			c.logger.Warn("import status poll failed", "job_id", jobID, "attempt", attempt, "consecutive_failures", failures, "error", err)
			if failures >= c.maxFailures {
				return c.giveUp(last, fmt.Sprintf("lost contact with the import: %v", err)), nil
			}
		}

		if attempt == c.maxAttempts {
			break
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}

	waited := time.Duration(c.maxAttempts) * c.interval
	return c.giveUp(last, fmt.Sprintf("import did not finish within %s", waited)), nil
}

// giveUp turns the last snapshot into a terminal one so callers always see an outcome
func (c *Client) giveUp(last importer.ImportJob, message string) importer.ImportJob {
	job := last.Clone()
	job.Errors = append(job.Errors, importer.ImportError{
		EntryIndex: importer.BatchLevel,
		Message:    message,
		Type:       importer.ErrorTypeDatabase,
	})
	job.Stage = importer.StageFailed
	finished := c.now()
	job.FinishedAt = &finished
	return job
}
