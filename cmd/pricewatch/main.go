// Command pricewatch runs the batch extraction pipeline: it streams jobs
// from the configured jobs file, fetches each page, extracts and validates
// fields against the domain's stored pattern, records the attempt in the
// pattern's stats, and appends valid observations to price history.
//
// Usage:
//
//	pricewatch -config configs/pipelines/sample.json
//
// Validate a config without running:
//
//	pricewatch -config configs/pipelines/sample.json -validate
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"pricewatch/internal/metrics/datadog"
	"pricewatch/internal/pipeline"

	// register all backends with the storage factory.
	// config specifies which to use but we build in support for all of them.
	_ "pricewatch/internal/storage/all"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run is split out from main so the command can be unit tested without
// spawning an OS process.
//
// It returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pricewatch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfgPath := fs.String("config", "configs/pipelines/sample.json", "pipeline config JSON path")
	validateOnly := fs.Bool("validate", false, "validate the configuration and exit")
	verbose := fs.Bool("v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := pipeline.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	logger := log.New(stderr, "", log.LstdFlags)

	if *validateOnly {
		logger.Printf("configuration is valid: %v", *cfgPath)
		return 0
	}

	runner := pipeline.NewDefaultRunner(cfg.Source.FetchTimeoutDuration())
	runner.Logger = logger

	// Datadog backend:
	//   - buffers metrics and submits periodically
	//   - submits one final time at shutdown (Close())
	if cfg.Metrics.Datadog {
		jobName := cfg.Metrics.JobName
		if jobName == "" {
			jobName = cfg.Job
		}

		flushEvery := time.Duration(0)
		if cfg.Metrics.FlushEvery != "" {
			flushEvery, err = time.ParseDuration(cfg.Metrics.FlushEvery)
			if err != nil {
				fmt.Fprintf(stderr, "metrics.flush_every: %v\n", err)
				return 2
			}
		}

		// Extra tags come from config, complementing the backend-enforced
		// env:<...> tag.
		extraTags := datadog.ParseTagsCSV(cfg.Metrics.TagsCSV)

		b := datadog.NewBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       extraTags,
			FlushEvery: flushEvery,
		})
		runner.Metrics = b

		// Close() stops the periodic flush loop and then performs a final
		// Flush(). This is the clean shutdown path for the Datadog backend.
		defer func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
		}()

		if *verbose {
			logger.Printf("metrics: backend=datadog job_name=%v tags=%v", jobName, extraTags)
		}
	}

	start := time.Now()
	if *verbose {
		logger.Printf("pipeline: jobs=%s storage=%s workers=%d",
			cfg.Source.JobsFile, cfg.Storage.Kind, cfg.Runtime.Workers)
	}

	sum, err := runner.Run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "pipeline: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	if err := enc.Encode(sum); err != nil {
		fmt.Fprintf(stderr, "encode summary: %v\n", err)
		return 1
	}

	if *verbose {
		logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	if sum.Errors > 0 {
		return 1
	}
	return 0
}
