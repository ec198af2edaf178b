package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/mutation-controller/internal/lineage"
)

// #region main

func main() {
	dir := flag.String("dir", "", "path to a JSONL lineage directory")
	dbPath := flag.String("db", "", "path to a SQLite lineage database")
	domain := flag.String("domain", string(lineage.DomainMutation), "stream to list")
	last := flag.Int("last", 20, "show N most recent records")
	top := flag.Int("top", 0, "rank the N best retained forks instead of listing")
	summary := flag.Bool("summary", false, "show record counts per stream")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if (*dir == "") == (*dbPath == "") {
		fmt.Fprintln(os.Stderr, "usage: inspect (--dir path | --db path) [--domain name] [--last N] [--top N] [--summary] [--json]")
		os.Exit(2)
	}

	reader, closeFn, err := open(*dir, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open lineage: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	ctx := context.Background()
	switch {
	case *summary:
		err = runSummaryMode(ctx, reader, *jsonOut)
	case *top > 0:
		err = runTopMode(ctx, reader, *top, *jsonOut)
	default:
		err = runListMode(ctx, reader, lineage.Domain(*domain), *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func open(dir, dbPath string) (lineage.Reader, func(), error) {
	if dir != "" {
		s, err := lineage.NewJSONLSink(dir)
		return s, func() {}, err
	}
	s, err := lineage.NewSQLiteSink(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// #endregion main

// #region list-mode

func runListMode(ctx context.Context, r lineage.Reader, domain lineage.Domain, last int, jsonOut bool) error {
	raw, err := r.ReadAll(ctx, domain)
	if err != nil {
		return err
	}
	if last > 0 && len(raw) > last {
		raw = raw[len(raw)-last:]
	}
	if len(raw) == 0 {
		fmt.Fprintf(os.Stderr, "no %s records found\n", domain)
		return nil
	}

	switch domain {
	case lineage.DomainMutation:
		rows := lineage.Decode[lineage.LineageEntry](raw)
		if jsonOut {
			return printJSON(rows)
		}
		printLineageTable(rows)
	case lineage.DomainRetention:
		rows := lineage.Decode[lineage.RetentionEntry](raw)
		if jsonOut {
			return printJSON(rows)
		}
		printRetentionTable(rows)
	default:
		if jsonOut {
			return printJSON(raw)
		}
		for _, line := range raw {
			fmt.Println(string(line))
		}
	}
	return nil
}

func printLineageTable(rows []lineage.LineageEntry) {
	fmt.Printf("%-10s  %-40s  %-7s  %6s  %s\n", "Mutation", "Strategy", "Result", "Risk", "Time")
	fmt.Printf("%-10s+-%-40s+-%-7s+-%6s+-%s\n", "----------", "----------------------------------------", "-------", "------", "--------------------")
	for _, r := range rows {
		risk := "-"
		if r.RiskFactor != nil {
			risk = fmt.Sprintf("%.3f", *r.RiskFactor)
		}
		fmt.Printf("%-10s  %-40s  %-7s  %6s  %s\n",
			shortID(r.MutationID), truncate(r.Strategy, 40), r.Result, risk, r.Timestamp.Format("2006-01-02T15:04:05Z"))
	}
}

// #endregion list-mode

// #region top-mode

func runTopMode(ctx context.Context, r lineage.Reader, n int, jsonOut bool) error {
	raw, err := r.ReadAll(ctx, lineage.DomainRetention)
	if err != nil {
		return err
	}
	rank := lineage.NewTopK(n)
	for _, e := range lineage.Decode[lineage.RetentionEntry](raw) {
		if e.Survived {
			rank.Offer(e)
		}
	}
	rows := rank.Top(n)
	if jsonOut {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no retained forks found")
		return nil
	}
	printRetentionTable(rows)
	return nil
}

func printRetentionTable(rows []lineage.RetentionEntry) {
	fmt.Printf("%-24s  %7s  %-10s  %6s  %-8s  %s\n", "Fork", "Score", "Emotion", "Regret", "Survived", "Time")
	fmt.Printf("%-24s+-%7s+-%-10s+-%6s+-%-8s+-%s\n", "------------------------", "-------", "----------", "------", "--------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-24s  %7.3f  %-10s  %6.3f  %-8t  %s\n",
			truncate(r.ForkID, 24), r.Score, r.Emotion, r.Regret, r.Survived, r.Timestamp.Format("2006-01-02T15:04:05Z"))
	}
}

// #endregion top-mode

// #region summary-mode

type summaryRow struct {
	Domain  lineage.Domain `json:"domain"`
	Records int            `json:"records"`
	Corrupt int            `json:"corrupt,omitempty"`
}

// corruptCounter is implemented by sinks that can report skipped records.
type corruptCounter interface {
	Corrupt(ctx context.Context, domain lineage.Domain) (int, error)
}

func runSummaryMode(ctx context.Context, r lineage.Reader, jsonOut bool) error {
	rows := make([]summaryRow, 0, len(lineage.Domains))
	for _, d := range lineage.Domains {
		raw, err := r.ReadAll(ctx, d)
		if err != nil {
			return err
		}
		row := summaryRow{Domain: d, Records: len(raw)}
		if cc, ok := r.(corruptCounter); ok {
			if row.Corrupt, err = cc.Corrupt(ctx, d); err != nil {
				return err
			}
		}
		rows = append(rows, row)
	}
	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-20s  %8s  %s\n", "Stream", "Records", "Corrupt")
	for _, row := range rows {
		fmt.Printf("%-20s  %8d  %d\n", row.Domain, row.Records, row.Corrupt)
	}
	return nil
}

// #endregion summary-mode

// #region output

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "~"
	}
	return s
}

// #endregion output
