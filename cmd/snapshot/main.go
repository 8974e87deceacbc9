// Command snapshot fetches the current statistics from a disease.sh-compatible
// API, prints the ranked table, and optionally writes the payloads as JSON
// fixtures for tests and cmd/validate.
//
// Usage:
//
//	go run ./cmd/snapshot -top 20
//	go run ./cmd/snapshot -out-dir testdata/fixtures -last-days 30
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/couchcryptid/outbreak-tracker/internal/adapter/diseasesh"
	"github.com/couchcryptid/outbreak-tracker/internal/domain"
	"github.com/couchcryptid/outbreak-tracker/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Fixture file names shared with cmd/validate.
const (
	worldwideFile  = "all.json"
	countriesFile  = "countries.json"
	historicalFile = "historical.json"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	baseURL := flag.String("base-url", "https://disease.sh/v3/covid-19", "statistics API base URL")
	outDir := flag.String("out-dir", "", "directory to write JSON fixtures to (optional)")
	lastDays := flag.Int("last-days", 30, "days of history to fetch for the timeline fixture")
	top := flag.Int("top", 10, "number of ranked rows to print (0 for all)")
	timeout := flag.Duration("timeout", 15*time.Second, "per-request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := diseasesh.NewClient(*baseURL, *timeout, observability.NewUnregisteredMetrics(), logger)

	var (
		worldwide domain.MetricSet
		countries []domain.RawRecord
		timeline  domain.Timeline
	)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() (err error) {
		worldwide, err = client.Worldwide(ctx)
		return err
	})
	g.Go(func() (err error) {
		countries, err = client.Countries(ctx)
		return err
	})
	g.Go(func() (err error) {
		timeline, err = client.Historical(ctx, *lastDays)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch statistics: %w", err)
	}

	ds := domain.BuildDataset(countries)
	printSummary(os.Stdout, worldwide, ds, *top)

	if *outDir == "" {
		return nil
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", *outDir, err)
	}
	fixtures := map[string]any{
		worldwideFile:  worldwide,
		countriesFile:  countries,
		historicalFile: timeline,
	}
	for name, v := range fixtures {
		path := filepath.Join(*outDir, name)
		if err := writeJSON(path, v); err != nil {
			return err
		}
		log.Printf("wrote %s", path)
	}
	return nil
}

func printSummary(w io.Writer, worldwide domain.MetricSet, ds domain.Dataset, top int) {
	fmt.Fprintf(w, "Worldwide: %s cases, %s recovered, %s deaths\n",
		domain.FormatCount(worldwide.Cases),
		domain.FormatCount(worldwide.Recovered),
		domain.FormatCount(worldwide.Deaths))
	fmt.Fprintf(w, "Regions: %d (fetched %s)\n\n", len(ds.Regions), ds.FetchedAt.Format(time.RFC3339))

	rows := domain.BuildTable(ds.Ranked)
	if top > 0 && top < len(rows) {
		rows = rows[:top]
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tRegion\tCode\tCases\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", r.Rank, r.Name, r.Code, r.Cases)
	}
	tw.Flush() //nolint:errcheck // stdout
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil { //nolint:gosec // fixture output
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
