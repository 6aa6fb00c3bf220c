package backupctl

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edvin/tenantvault/internal/jobs"
)

// RestorePlan is a YAML file of restores to run one after another.
type RestorePlan struct {
	APIURL   string           `yaml:"api_url"`
	APIKey   string           `yaml:"api_key"`
	Restores []RestoreRequest `yaml:"restores"`
}

// LoadRestorePlan reads and checks a plan file. The API key falls back to
// TENANTVAULT_API_KEY.
func LoadRestorePlan(path string) (*RestorePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan RestorePlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if plan.APIKey == "" {
		plan.APIKey = os.Getenv("TENANTVAULT_API_KEY")
	}
	if plan.APIURL == "" {
		plan.APIURL = "http://localhost:8080"
	}
	if len(plan.Restores) == 0 {
		return nil, fmt.Errorf("plan %s has no restores", path)
	}
	for i, r := range plan.Restores {
		if r.Target == "" {
			return nil, fmt.Errorf("restore %d: target is required", i+1)
		}
		if r.AsOf != "" {
			if _, err := time.Parse(time.RFC3339, r.AsOf); err != nil {
				return nil, fmt.Errorf("restore %d: as_of: %w", i+1, err)
			}
		}
	}
	return &plan, nil
}

// ApplyRestorePlan submits each restore of the plan and waits for it before
// starting the next. It stops at the first restore that does not succeed.
func ApplyRestorePlan(ctx context.Context, path string, timeout time.Duration) error {
	plan, err := LoadRestorePlan(path)
	if err != nil {
		return err
	}
	if plan.APIKey == "" {
		return fmt.Errorf("no API key: set api_key in the plan or TENANTVAULT_API_KEY")
	}
	client := NewClient(plan.APIURL, plan.APIKey)

	for i, req := range plan.Restores {
		created, err := client.CreateRestore(req)
		if err != nil {
			return fmt.Errorf("restore %d: %w", i+1, err)
		}
		fmt.Printf("Restore %d: batch %s, job %s\n", i+1, created.BatchID, created.JobID)

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		st, err := client.WaitJob(waitCtx, created.JobID, 2*time.Second)
		cancel()
		if err != nil {
			return fmt.Errorf("restore %d: %w", i+1, err)
		}
		if st.State != jobs.StateSuccess {
			return fmt.Errorf("restore %d: job %s ended %s: %s", i+1, st.ID, st.State, st.Error)
		}
		if st.Restore != nil {
			fmt.Printf("  completed %d, failed %d\n", st.Restore.Completed, st.Restore.Failed)
			if st.Restore.Failed > 0 {
				return fmt.Errorf("restore %d: %d tenants failed", i+1, st.Restore.Failed)
			}
		}
	}
	return nil
}
