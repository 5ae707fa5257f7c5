// Command importctl validates and uploads property batches, imports single
// listings and follows the resulting jobs until they finish.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rental-portal/internal/auth"
	"rental-portal/internal/calendar"
	"rental-portal/internal/config"
	"rental-portal/internal/importer"
	"rental-portal/internal/logging"
	"rental-portal/internal/poller"
	"rental-portal/internal/scraper"
)

const usage = `usage: importctl [flags] <command> [args]

commands:
  validate FILE                 check a batch file without importing it
  import FILE                   upload a batch file and wait for the import
  import-url URL [--ical URL]   import one external listing
  token TENANT [--ttl 24h]      mint a bearer token from JWT_SECRET

flags:
`

func main() {
	var (
		baseURL  = flag.String("api", config.GetEnv("IMPORT_API_URL", "http://localhost:8084"), "import API base URL")
		token    = flag.String("token", os.Getenv("IMPORT_API_TOKEN"), "bearer token (defaults to $IMPORT_API_TOKEN)")
		interval = flag.Duration("interval", poller.DefaultInterval, "status poll interval")
		attempts = flag.Int("attempts", poller.DefaultMaxAttempts, "maximum status polls")
		jsonOut  = flag.Bool("json", false, "print the final job as JSON")
		level    = flag.String("log-level", "info", "log level")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logging.NewWithWriter(os.Stderr, logging.Config{Level: *level})
	slog.SetDefault(logger)

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := poller.NewClient(*baseURL, poller.StaticToken(*token),
		poller.WithLogger(logger),
		poller.WithClassifier(scraper.NewClassifier(config.DefaultConfig().Scraper.ListingHosts)),
		poller.WithPolling(*interval, *attempts, poller.DefaultMaxFailures),
	)
	app := &cli{client: client, logger: logger, jsonOut: *jsonOut}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "validate":
		err = app.validate(ctx, args)
	case "import":
		err = app.importFile(ctx, args)
	case "import-url":
		err = app.importURL(ctx, args)
	case "token":
		err = mintToken(args)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

type cli struct {
	client  *poller.Client
	logger  *slog.Logger
	jsonOut bool
}

func (c *cli) validate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("validate takes exactly one file")
	}
	result, err := c.client.ValidateFile(ctx, args[0])
	if err != nil {
		return err
	}
	if !result.Valid {
		for _, msg := range result.Errors {
			fmt.Println("  -", msg)
		}
		return fmt.Errorf("%s is not a valid batch (%d problems)", args[0], len(result.Errors))
	}
	fmt.Printf("%s is valid\n", args[0])
	return nil
}

func (c *cli) importFile(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("import takes exactly one file")
	}
	started, err := c.client.StartImport(ctx, args[0])
	if err != nil {
		return err
	}
	job, err := c.follow(ctx, started)
	if err != nil {
		return err
	}
	return c.report(job)
}

func (c *cli) importURL(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import-url", flag.ContinueOnError)
	ical := fs.String("ical", "", "iCal feed to attach to the imported property")
	frequency := fs.Int("sync-frequency", 60, "calendar sync frequency in minutes")

	// the URL may come before or after the flags
	var listingURL string
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		listingURL, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if listingURL == "" && fs.NArg() > 0 {
		listingURL = fs.Arg(0)
	}
	if listingURL == "" {
		return errors.New("import-url needs a listing URL")
	}

	started, err := c.client.StartURLImport(ctx, listingURL)
	if err != nil {
		return err
	}
	job, err := c.follow(ctx, started)
	if err != nil {
		return err
	}

	if *ical != "" && job.Stage == importer.StageCompleted && len(job.CreatedIDs) > 0 {
		req := calendar.Request{
			PropertyID:    job.CreatedIDs[0],
			ICalURL:       *ical,
			SyncFrequency: *frequency,
		}
		// best effort, the import itself already succeeded
		if err := c.client.ConfigureCalendarSync(ctx, req); err == nil {
			c.logger.Info("calendar sync configured", "property_id", req.PropertyID)
		}
	}
	return c.report(job)
}

// follow returns the finished job, polling when the server answered before completion
func (c *cli) follow(ctx context.Context, started *poller.StartResult) (importer.ImportJob, error) {
	if started.Completed && started.Result != nil {
		return *started.Result, nil
	}

	c.logger.Info("import started", "job_id", started.JobID)
	lastStage := importer.Stage("")
	return c.client.Poll(ctx, started.JobID, func(job importer.ImportJob) {
		if job.Stage != lastStage {
			lastStage = job.Stage
			c.logger.Info("import progress", "stage", job.Stage,
				"completed", job.CompletedCount, "failed", job.FailedCount, "total", job.Total)
		}
	})
}

func (c *cli) report(job importer.ImportJob) error {
	if c.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(job); err != nil {
			return err
		}
	} else {
		printSummary(job)
	}

	if job.Stage == importer.StageFailed {
		return fmt.Errorf("import %s failed", job.ID)
	}
	return nil
}

func printSummary(job importer.ImportJob) {
	fmt.Println("============================================")
	fmt.Printf("Job:       %s (%s)\n", job.ID, job.Kind)
	fmt.Printf("Stage:     %s\n", job.Stage)
	fmt.Printf("Total:     %d\n", job.Total)
	fmt.Printf("Imported:  %d\n", job.CompletedCount)
	fmt.Printf("Failed:    %d (skipped %d)\n", job.FailedCount, job.SkippedCount)
	if job.FinishedAt != nil {
		fmt.Printf("Duration:  %s\n", job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}
	if len(job.Errors) > 0 {
		fmt.Println("Errors:")
		for _, e := range job.Errors {
			where := "batch"
			if e.EntryIndex != importer.BatchLevel {
				where = fmt.Sprintf("entry %d", e.EntryIndex)
				if e.EntryTitle != "" {
					where += " (" + e.EntryTitle + ")"
				}
			}
			if e.Field != "" {
				where += " " + e.Field
			}
			fmt.Printf("  [%s] %s: %s\n", e.Type, where, e.Message)
		}
	}
	fmt.Println("============================================")
}

func mintToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")

	var tenant string
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		tenant, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if tenant == "" {
		return errors.New("token needs a tenant id")
	}

	tokens, err := auth.NewTokenService(os.Getenv("JWT_SECRET"), config.GetEnv("JWT_ISSUER", config.DefaultConfig().Auth.Issuer))
	if err != nil {
		return err
	}
	signed, err := tokens.GenerateToken(tenant, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}
