// Package ingest implements the ingest command: one-shot runs of the image
// ingestion pipeline from the command line, either for explicit URLs or for
// hot queries that earned promotion.
package ingest

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cardexhq/cardex-go/internal/conf"
	"github.com/cardexhq/cardex-go/internal/service"
)

// Command creates the ingest command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [url...]",
		Short: "Run the image ingestion pipeline once",
		Long: "Fetch, validate and durably store the given image URLs. " +
			"With no arguments, promote hot queries that passed the promotion threshold instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), settings, args)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the ingest command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&settings.Promotion.BatchLimit, "batch", viper.GetInt("promotion.batchlimit"), "Maximum hot queries promoted in one run")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

func runIngest(ctx context.Context, settings *conf.Settings, urls []string) error {
	svc, err := service.Build(settings)
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(urls) > 0 {
		return ingestURLs(ctx, svc, urls)
	}
	return promoteHotQueries(ctx, svc)
}

func ingestURLs(ctx context.Context, svc *service.Service, urls []string) error {
	var failed int
	for _, candidateURL := range urls {
		entry, err := svc.Pipeline.Ingest(ctx, candidateURL)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAILED  %s: %v\n", candidateURL, err)
			continue
		}
		fmt.Printf("%s  %s -> %s\n", entry.Status, candidateURL, entry.StoragePath)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d ingests failed", failed, len(urls))
	}
	return nil
}

func promoteHotQueries(ctx context.Context, svc *service.Service) error {
	counters, err := svc.Tracker.SelectPromotable()
	if err != nil {
		return fmt.Errorf("failed to select hot queries: %w", err)
	}
	if len(counters) == 0 {
		fmt.Println("no hot queries eligible for promotion")
		return nil
	}

	var failed int
	for i := range counters {
		counter := &counters[i]
		if err := svc.Tracker.MarkScheduled(counter.QueryHash); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAILED  %s: %v\n", counter.Query, err)
			continue
		}

		set, err := svc.Images.Lookup(ctx, counter.Query)
		if err != nil || set.TopURL == "" {
			failed++
			fmt.Fprintf(os.Stderr, "FAILED  %s: no viable candidate (%v)\n", counter.Query, err)
			continue
		}

		entry, err := svc.Pipeline.Ingest(ctx, set.TopURL)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAILED  %s: %v\n", counter.Query, err)
			continue
		}
		fmt.Printf("%s  %q -> %s\n", entry.Status, counter.Query, entry.StoragePath)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d promotions failed", failed, len(counters))
	}
	return nil
}
