package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/edvin/tenantvault/internal/backupctl"
	"github.com/edvin/tenantvault/internal/jobs"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	case "jobs":
		err = runJobs(os.Args[2:])
	case "storage":
		err = runStorage(os.Args[2:])
	case "dr":
		err = runDR(os.Args[2:])
	case "self-service":
		err = runSelfService(os.Args[2:])
	case "download":
		err = runDownload(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every API command takes.
func commonFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	apiURL := fs.String("api", envOr("TENANTVAULT_API_URL", "http://localhost:8080"), "Backup service base URL")
	apiKey := fs.String("key", os.Getenv("TENANTVAULT_API_KEY"), "API key (default: TENANTVAULT_API_KEY)")
	return fs, apiURL, apiKey
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func subcommand(args []string, usage string) (string, []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: "+usage)
		os.Exit(1)
	}
	return args[0], args[1:]
}

func printJSON(resp *backupctl.Response) error {
	var v any
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		fmt.Println(string(resp.Body))
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printValue(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// waitIfAsked blocks on a created job when -wait was given.
func waitIfAsked(client *backupctl.Client, created *backupctl.Created, wait bool, timeout time.Duration) error {
	if err := printValue(created); err != nil {
		return err
	}
	if !wait {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	st, err := client.WaitJob(ctx, created.JobID, 2*time.Second)
	if err != nil {
		return err
	}
	return printValue(st)
}

func runBackup(args []string) error {
	cmd, rest := subcommand(args, "backupctl backup create|list|get|cancel|verify ...")
	fs, apiURL, apiKey := commonFlags("backup " + cmd)
	switch cmd {
	case "create":
		scope := fs.String("scope", "tenant", "Backup scope: tenant or platform")
		tenant := fs.String("tenant", "", "Tenant ID (tenant scope)")
		wait := fs.Bool("wait", false, "Wait for the backup job to finish")
		timeout := fs.Duration("timeout", 30*time.Minute, "Timeout for -wait")
		fs.Parse(rest)
		client := backupctl.NewClient(*apiURL, *apiKey)
		created, err := client.CreateBackup(*scope, *tenant)
		if err != nil {
			return err
		}
		return waitIfAsked(client, created, *wait, *timeout)

	case "list":
		scope := fs.String("scope", "", "Filter by scope")
		tenant := fs.String("tenant", "", "Filter by tenant ID")
		status := fs.String("status", "", "Filter by status")
		limit := fs.Int("limit", 50, "Maximum number of backups")
		fs.Parse(rest)
		resp, err := backupctl.NewClient(*apiURL, *apiKey).ListBackups(map[string]string{
			"scope": *scope, "tenant_id": *tenant, "status": *status,
		}, *limit)
		if err != nil {
			return err
		}
		return printJSON(resp)

	case "get", "cancel", "verify":
		provider := fs.String("provider", "", "Provider to verify against (verify only)")
		fs.Parse(rest)
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: backupctl backup %s <backup-id>", cmd)
		}
		client := backupctl.NewClient(*apiURL, *apiKey)
		var resp *backupctl.Response
		var err error
		switch cmd {
		case "get":
			resp, err = client.GetBackup(fs.Arg(0))
		case "cancel":
			resp, err = client.CancelBackup(fs.Arg(0))
		default:
			resp, err = client.VerifyBackup(fs.Arg(0), *provider)
		}
		if err != nil {
			return err
		}
		return printJSON(resp)
	}
	return fmt.Errorf("unknown backup command %q", cmd)
}

func runRestore(args []string) error {
	cmd, rest := subcommand(args, "backupctl restore create|apply|list|points ...")
	fs, apiURL, apiKey := commonFlags("restore " + cmd)
	switch cmd {
	case "create":
		target := fs.String("target", "tenant", "Restore target: tenant or all")
		tenant := fs.String("tenant", "", "Tenant ID (target tenant)")
		backupID := fs.String("backup", "", "Backup ID (target tenant)")
		asOf := fs.String("as-of", "", "RFC 3339 point in time (target all)")
		skip := fs.Bool("skip-validation", false, "Skip the checksum check before restoring")
		wait := fs.Bool("wait", false, "Wait for the restore job to finish")
		timeout := fs.Duration("timeout", 2*time.Hour, "Timeout for -wait")
		fs.Parse(rest)
		client := backupctl.NewClient(*apiURL, *apiKey)
		created, err := client.CreateRestore(backupctl.RestoreRequest{
			Target:         *target,
			TenantID:       *tenant,
			BackupID:       *backupID,
			AsOf:           *asOf,
			SkipValidation: *skip,
		})
		if err != nil {
			return err
		}
		return waitIfAsked(client, created, *wait, *timeout)

	case "apply":
		file := fs.String("f", "", "Path to restore plan YAML file (required)")
		timeout := fs.Duration("timeout", 2*time.Hour, "Timeout per restore")
		fs.Parse(rest)
		if *file == "" {
			return fmt.Errorf("-f flag is required")
		}
		return backupctl.ApplyRestorePlan(context.Background(), *file, *timeout)

	case "list":
		tenant := fs.String("tenant", "", "Filter by tenant ID")
		batch := fs.String("batch", "", "Filter by batch ID")
		limit := fs.Int("limit", 50, "Maximum number of restores")
		fs.Parse(rest)
		resp, err := backupctl.NewClient(*apiURL, *apiKey).ListRestores(map[string]string{
			"tenant_id": *tenant, "batch_id": *batch,
		}, *limit)
		if err != nil {
			return err
		}
		return printJSON(resp)

	case "points":
		provider := fs.String("provider", "", "Only points stored on this provider")
		limit := fs.Int("limit", 50, "Maximum number of points")
		fs.Parse(rest)
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: backupctl restore points <tenant-id>")
		}
		resp, err := backupctl.NewClient(*apiURL, *apiKey).RestorePoints(fs.Arg(0), *provider, *limit)
		if err != nil {
			return err
		}
		return printJSON(resp)
	}
	return fmt.Errorf("unknown restore command %q", cmd)
}

func runJobs(args []string) error {
	cmd, rest := subcommand(args, "backupctl jobs get|wait <job-id>")
	fs, apiURL, apiKey := commonFlags("jobs " + cmd)
	timeout := fs.Duration("timeout", 30*time.Minute, "Timeout for wait")
	interval := fs.Duration("interval", 2*time.Second, "Poll interval for wait")
	fs.Parse(rest)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: backupctl jobs %s <job-id>", cmd)
	}
	client := backupctl.NewClient(*apiURL, *apiKey)

	switch cmd {
	case "get":
		st, err := client.JobStatus(fs.Arg(0))
		if err != nil {
			return err
		}
		return printValue(st)
	case "wait":
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		st, err := client.WaitJob(ctx, fs.Arg(0), *interval)
		if err != nil {
			return err
		}
		if err := printValue(st); err != nil {
			return err
		}
		if st.State != jobs.StateSuccess {
			return fmt.Errorf("job %s ended %s", st.ID, st.State)
		}
		return nil
	}
	return fmt.Errorf("unknown jobs command %q", cmd)
}

func runStorage(args []string) error {
	cmd, rest := subcommand(args, "backupctl storage usage|health|strategy|reset")
	fs, apiURL, apiKey := commonFlags("storage " + cmd)
	fs.Parse(rest)
	client := backupctl.NewClient(*apiURL, *apiKey)

	var resp *backupctl.Response
	var err error
	switch cmd {
	case "usage":
		resp, err = client.StorageUsage()
	case "health":
		resp, err = client.StorageHealth()
	case "reset":
		resp, err = client.ResetUsage()
	case "strategy":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: backupctl storage strategy PRIMARY_ONLY|SECONDARY_FALLBACK|DUAL_UPLOAD")
		}
		resp, err = client.SetFailoverStrategy(fs.Arg(0))
	default:
		return fmt.Errorf("unknown storage command %q", cmd)
	}
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runDR(args []string) error {
	cmd, rest := subcommand(args, "backupctl dr backup|verify|health")
	fs, apiURL, apiKey := commonFlags("dr " + cmd)
	wait := fs.Bool("wait", false, "Wait for the job to finish")
	timeout := fs.Duration("timeout", time.Hour, "Timeout for -wait")
	limit := fs.Int("limit", 10, "Number of recent platform backups to verify")
	fs.Parse(rest)
	client := backupctl.NewClient(*apiURL, *apiKey)

	switch cmd {
	case "backup":
		created, err := client.CreatePlatformBackup()
		if err != nil {
			return err
		}
		return waitIfAsked(client, created, *wait, *timeout)
	case "verify":
		created, err := client.VerifyRecent(*limit)
		if err != nil {
			return err
		}
		return waitIfAsked(client, created, *wait, *timeout)
	case "health":
		resp, err := client.DRHealth()
		if err != nil {
			return err
		}
		return printJSON(resp)
	}
	return fmt.Errorf("unknown dr command %q", cmd)
}

func runSelfService(args []string) error {
	cmd, rest := subcommand(args, "backupctl self-service cleanup -days N [-delete-records]")
	if cmd != "cleanup" {
		return fmt.Errorf("unknown self-service command %q", cmd)
	}
	fs, apiURL, apiKey := commonFlags("self-service cleanup")
	days := fs.Int("days", 7, "Remove artifacts whose token expired more than this many days ago")
	deleteRecords := fs.Bool("delete-records", false, "Also delete the stored artifact and catalog record")
	wait := fs.Bool("wait", false, "Wait for the job to finish")
	timeout := fs.Duration("timeout", 30*time.Minute, "Timeout for -wait")
	fs.Parse(rest)
	client := backupctl.NewClient(*apiURL, *apiKey)
	created, err := client.CleanupSelfService(*days, *deleteRecords)
	if err != nil {
		return err
	}
	return waitIfAsked(client, created, *wait, *timeout)
}

func runDownload(args []string) error {
	fs, apiURL, _ := commonFlags("download")
	out := fs.String("o", "", "Output file (required)")
	fs.Parse(args)
	if fs.NArg() < 1 || *out == "" {
		return fmt.Errorf("usage: backupctl download -o <file> <token>")
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	defer f.Close()
	n, err := backupctl.NewClient(*apiURL, "").Download(backupctl.DownloadPath(fs.Arg(0)), f)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d bytes to %s\n", n, *out)
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  backupctl backup create -scope tenant|platform [-tenant ID] [-wait]
  backupctl backup list [-scope S] [-tenant ID] [-status S] [-limit N]
  backupctl backup get|cancel <backup-id>
  backupctl backup verify [-provider primary|secondary] <backup-id>
  backupctl restore create -target tenant|all [-tenant ID -backup ID] [-as-of T] [-wait]
  backupctl restore apply -f <restore-plan.yaml>
  backupctl restore list [-tenant ID] [-batch ID]
  backupctl restore points [-provider P] <tenant-id>
  backupctl jobs get|wait <job-id>
  backupctl storage usage|health|reset
  backupctl storage strategy PRIMARY_ONLY|SECONDARY_FALLBACK|DUAL_UPLOAD
  backupctl dr backup|verify|health [-wait]
  backupctl self-service cleanup -days N [-delete-records] [-wait]
  backupctl download -o <file> <token>

Flags:
  -api string       Backup service base URL (default: $TENANTVAULT_API_URL or http://localhost:8080)
  -key string       API key (default: $TENANTVAULT_API_KEY)`)
}
