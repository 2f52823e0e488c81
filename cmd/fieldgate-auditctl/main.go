package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/veridata/fieldgate/pkg/audit"
)

// auditctl is the operator tool for the audit trail: it exports entries,
// verifies the hash chain and summarizes activity without going through
// the API server.
func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	var err error
	switch os.Args[1] {
	case "export":
		err = runExport(logger, os.Args[2:])
	case "verify":
		err = runVerify(logger, os.Args[2:])
	case "stats":
		err = runStats(logger, os.Args[2:])
	case "erase":
		err = runErase(logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: fieldgate-auditctl <export|verify|stats> [flags]")
	fmt.Fprintln(os.Stderr, "  export  Export audit entries as json, ndjson or csv")
	fmt.Fprintln(os.Stderr, "  verify  Verify the audit trail hash chain")
	fmt.Fprintln(os.Stderr, "  stats   Summarize audit activity")
	fmt.Fprintln(os.Stderr, "  erase   Permanently remove entries, recording the erasure on the trail")
}

// openWriter connects to the audit database named by -db or the
// FIELDGATE_POSTGRES_URL environment variable.
func openWriter(dbURL string) (*audit.DBWriter, *sql.DB, error) {
	if dbURL == "" {
		dbURL = os.Getenv("FIELDGATE_POSTGRES_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database URL required (-db or FIELDGATE_POSTGRES_URL)")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	writer, err := audit.NewDBWriter(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return writer, db, nil
}

func runExport(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbURL := fs.String("db", "", "Postgres connection string")
	format := fs.String("format", "ndjson", "Export format: json, ndjson or csv")
	out := fs.String("out", "", "Output file (defaults to stdout)")
	resourceType := fs.String("type", "", "Filter by resource type")
	resourceID := fs.String("id", "", "Filter by resource id")
	actorID := fs.String("actor", "", "Filter by actor id")
	outcome := fs.String("outcome", "", "Filter by outcome: success, failure or blocked")
	since := fs.String("since", "", "Only entries at or after this RFC3339 time")
	until := fs.String("until", "", "Only entries before this RFC3339 time")
	limit := fs.Int("limit", 0, "Maximum entries to export (0 means no limit)")
	fs.Parse(args)

	filter := audit.SearchFilter{
		ResourceType: *resourceType,
		ResourceID:   *resourceID,
		ActorID:      *actorID,
		Limit:        *limit,
	}
	if *outcome != "" {
		o := audit.Outcome(*outcome)
		filter.Outcome = &o
	}
	var err error
	if filter.StartTime, err = parseTimeFlag(*since); err != nil {
		return fmt.Errorf("invalid -since: %w", err)
	}
	if filter.EndTime, err = parseTimeFlag(*until); err != nil {
		return fmt.Errorf("invalid -until: %w", err)
	}

	writer, db, err := openWriter(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := writer.Search(context.Background(), filter)
	if err != nil {
		return err
	}

	var dest io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		dest = f
	}

	if err := audit.Export(dest, entries, audit.ExportFormat(*format)); err != nil {
		return err
	}
	logger.Infof("Exported %d entries", len(entries))
	return nil
}

func runVerify(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dbURL := fs.String("db", "", "Postgres connection string")
	fs.Parse(args)

	writer, db, err := openWriter(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := writer.VerifyChain(context.Background())
	if err != nil {
		return err
	}

	logger.Infof("Checked %d entries", report.Entries)
	if !report.Intact {
		logger.Errorf("Chain broken at seq %d: %s", report.BrokenSeq, report.Detail)
		os.Exit(1)
	}
	logger.Info("Chain intact")
	return nil
}

func runStats(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dbURL := fs.String("db", "", "Postgres connection string")
	since := fs.String("since", "", "Only entries at or after this RFC3339 time")
	until := fs.String("until", "", "Only entries before this RFC3339 time")
	fs.Parse(args)

	start, err := parseTimeFlag(*since)
	if err != nil {
		return fmt.Errorf("invalid -since: %w", err)
	}
	end, err := parseTimeFlag(*until)
	if err != nil {
		return fmt.Errorf("invalid -until: %w", err)
	}

	writer, db, err := openWriter(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := writer.GetStats(context.Background(), start, end)
	if err != nil {
		return err
	}

	fmt.Printf("Total entries:   %d\n", stats.TotalEntries)
	fmt.Printf("Unique actors:   %d\n", stats.UniqueActors)
	fmt.Printf("Denials:         %d\n", stats.Denials)
	fmt.Printf("Restored writes: %d\n", stats.RestoredWrites)
	fmt.Println("By action:")
	for action, count := range stats.ByAction {
		fmt.Printf("  %-10s %d\n", action, count)
	}
	fmt.Println("By resource type:")
	for resourceType, count := range stats.ByResourceType {
		fmt.Printf("  %-12s %d\n", resourceType, count)
	}
	return nil
}

// runErase is the right-to-erasure path for the trail itself. It is admin
// territory: the tool runs against the database directly, and the acting
// administrator is named on the meta entry it leaves behind.
func runErase(logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	dbURL := fs.String("db", "", "Postgres connection string")
	actorID := fs.String("actor", "", "Administrator id recorded on the erasure entry (required)")
	resourceType := fs.String("type", "", "Erase entries for this resource type")
	resourceID := fs.String("id", "", "Erase entries for this resource id")
	operationID := fs.String("operation", "", "Erase the entry with this operation id")
	subjectID := fs.String("subject", "", "Erase entries recorded for this actor id")
	since := fs.String("since", "", "Only entries at or after this RFC3339 time")
	until := fs.String("until", "", "Only entries before this RFC3339 time")
	fs.Parse(args)

	if *actorID == "" {
		return fmt.Errorf("-actor is required")
	}

	filter := audit.SearchFilter{
		ResourceType: *resourceType,
		ResourceID:   *resourceID,
		OperationID:  *operationID,
		ActorID:      *subjectID,
	}
	var err error
	if filter.StartTime, err = parseTimeFlag(*since); err != nil {
		return fmt.Errorf("invalid -since: %w", err)
	}
	if filter.EndTime, err = parseTimeFlag(*until); err != nil {
		return fmt.Errorf("invalid -until: %w", err)
	}

	writer, db, err := openWriter(*dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	removed, err := writer.Erase(context.Background(), *actorID, filter)
	if err != nil {
		return err
	}
	logger.Infof("Erased %d entries", removed)
	return nil
}

func parseTimeFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
