package backupctl

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/edvin/tenantvault/internal/jobs"
)

// JobStatus fetches the status of a job.
func (c *Client) JobStatus(jobID string) (*jobs.JobStatus, error) {
	resp, err := c.Get("/api/v1/jobs/" + url.PathEscape(jobID))
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	var st jobs.JobStatus
	if err := resp.Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// WaitJob polls a job every interval until it reaches a terminal state or
// ctx is done.
func (c *Client) WaitJob(ctx context.Context, jobID string, interval time.Duration) (*jobs.JobStatus, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.JobStatus(jobID)
		if err != nil {
			return nil, err
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("wait for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}
