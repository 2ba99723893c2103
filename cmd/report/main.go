// Command report prints the tracked runs of an experiment and, when a
// database is configured, the label distribution of served predictions.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/your-org/colony-strength/internal/dbwriter"
	"github.com/your-org/colony-strength/internal/tracking"
	"github.com/your-org/colony-strength/pkg/logger"
)

// metricPlaces is the precision metrics are printed with.
const metricPlaces = 4

func main() {
	_ = godotenv.Load()

	trackingURI := flag.String("tracking-uri", envOr("TRACKING_URI", os.Getenv("MLFLOW_TRACKING_URI")), "tracking URI")
	experiment := flag.String("experiment", "", "experiment name")
	showParams := flag.Bool("params", false, "print the parameters of every run")
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL of the prediction log (optional)")
	since := flag.Duration("since", 24*time.Hour, "window of the label distribution")
	flag.Parse()
	logger.SetGlobalLogLevel(envOr("LOG_LEVEL", "warn"))

	if *experiment == "" {
		logger.Fatal("--experiment is required.")
	}

	ctx := context.Background()
	store, err := tracking.Open(ctx, *trackingURI)
	if err != nil {
		logger.Fatalf("Failed to open tracking store: %v", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, *experiment)
	if err != nil {
		logger.Fatalf("Failed to list runs: %v", err)
	}
	if err := writeRuns(os.Stdout, runs, *showParams); err != nil {
		logger.Fatalf("Failed to write report: %v", err)
	}

	if *databaseURL == "" {
		return
	}
	dbpool, err := pgxpool.New(ctx, *databaseURL)
	if err != nil {
		logger.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()

	shares, err := dbwriter.NewRepository(dbpool).LabelDistribution(ctx, time.Now().Add(-*since))
	if err != nil {
		logger.Fatalf("Failed to load label distribution: %v", err)
	}
	fmt.Fprintf(os.Stdout, "\nPredictions in the last %s\n", *since)
	if err := writeLabelShares(os.Stdout, shares); err != nil {
		logger.Fatalf("Failed to write report: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// writeRuns prints one row per run with its metrics in fixed precision.
func writeRuns(w io.Writer, runs []*tracking.Run, withParams bool) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs found.")
		return err
	}
	metricNames := collectMetricNames(runs)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := append([]string{"RUN ID", "NAME", "STATUS", "STARTED", "DURATION"}, metricNames...)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range runs {
		row := []string{r.ID, r.Name, string(r.Status), r.StartTime.UTC().Format(time.RFC3339), duration(r)}
		for _, name := range metricNames {
			v, ok := r.Metrics[name]
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, decimal.NewFromFloat(v).StringFixed(metricPlaces))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !withParams {
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "\n%s (%s)\n", r.Name, r.ID)
		keys := make([]string, 0, len(r.Params))
		for k := range r.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s = %s\n", k, r.Params[k])
		}
	}
	return nil
}

func collectMetricNames(runs []*tracking.Run) []string {
	seen := make(map[string]struct{})
	for _, r := range runs {
		for k := range r.Metrics {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func duration(r *tracking.Run) string {
	if r.EndTime == nil {
		return "-"
	}
	return r.EndTime.Sub(r.StartTime).Round(time.Millisecond).String()
}

// writeLabelShares prints the label distribution with shares as percentages.
func writeLabelShares(w io.Writer, shares []dbwriter.LabelShare) error {
	if len(shares) == 0 {
		_, err := fmt.Fprintln(w, "No predictions logged.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL VERSION\tLABEL\tCOUNT\tSHARE")
	hundred := decimal.NewFromInt(100)
	for _, s := range shares {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s%%\n", s.ModelVersion, s.Label, s.Count, s.Share.Mul(hundred).StringFixed(2))
	}
	return tw.Flush()
}
