// Command export writes the prediction log of a time window as CSV.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/your-org/colony-strength/internal/csvwriter"
	"github.com/your-org/colony-strength/internal/dbwriter"
	"github.com/your-org/colony-strength/pkg/logger"
)

const timeLayout = "2006-01-02 15:04:05"

func main() {
	_ = godotenv.Load()

	// --- Argument Parsing ---
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL of the prediction log")
	startTimeStr := flag.String("start", "", "Start time for the export window (YYYY-MM-DD HH:MM:SS, UTC)")
	endTimeStr := flag.String("end", "", "End time for the export window (YYYY-MM-DD HH:MM:SS, UTC)")
	flag.Parse()
	logger.SetGlobalLogLevel("info")

	if *startTimeStr == "" || *endTimeStr == "" {
		logger.Fatal("Both --start and --end flags are required.")
	}
	if *databaseURL == "" {
		logger.Fatal("--database-url or DATABASE_URL is required.")
	}
	start, end, err := parseWindow(*startTimeStr, *endTimeStr)
	if err != nil {
		logger.Fatal(err)
	}

	// --- Database Connection ---
	ctx := context.Background()
	dbpool, err := pgxpool.New(ctx, *databaseURL)
	if err != nil {
		logger.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()

	logger.Infof("Exporting predictions from %s to %s...", start.Format(timeLayout), end.Format(timeLayout))
	records, err := dbwriter.NewRepository(dbpool).FetchPredictions(ctx, start, end)
	if err != nil {
		logger.Fatalf("Failed to query predictions: %v", err)
	}
	if err := writeCSV(os.Stdout, records); err != nil {
		logger.Fatalf("Failed to write CSV: %v", err)
	}
	logger.Infof("Successfully exported %d rows.", len(records))
}

func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse(timeLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(timeLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end must be after --start")
	}
	return start, end, nil
}

func writeCSV(w io.Writer, records []dbwriter.PredictionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvwriter.Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(csvwriter.Row(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
