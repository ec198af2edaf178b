package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/mutation-controller/internal/lineage"
	"github.com/danielpatrickdp/mutation-controller/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	jsonOut := flag.Bool("json", false, "output results and summary as JSON")
	dumpDir := flag.String("dump", "", "write the replayed lineage streams as JSONL into this directory")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--json] [--dump dir]")
		os.Exit(2)
	}
	os.Exit(run(*fixturePath, *jsonOut, *dumpDir))
}

// #endregion main

// #region run

func run(path string, jsonOut bool, dumpDir string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	ctx := context.Background()
	results, sink, err := replay.Replay(ctx, f.StartState, f.Ticks, f.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}
	if dumpDir != "" {
		if err := dump(ctx, sink, dumpDir); err != nil {
			fmt.Fprintf(os.Stderr, "dump lineage: %v\n", err)
			return 2
		}
	}

	diffs := f.Mismatches(results)
	summary := replay.Summarize(results)
	if jsonOut {
		data, err := json.MarshalIndent(struct {
			Description string          `json:"description"`
			Results     []replay.Result `json:"results"`
			Summary     replay.Summary  `json:"summary"`
			Mismatches  []string        `json:"mismatches"`
		}{f.Description, results, summary, diffs}, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal json: %v\n", err)
			return 2
		}
		fmt.Println(string(data))
	} else {
		printTable(results)
		for _, d := range diffs {
			fmt.Printf("DIFF %s\n", d)
		}
		fmt.Printf("\nSummary: %d cycles, %d accepted, %d rejected, %d no-op, %d forced, %d retained, %d overrides, %d diverge\n",
			summary.Cycles, summary.Accepted, summary.Rejected, summary.NoOps, summary.Forced, summary.Retained, summary.Overrides, len(diffs))
	}

	if len(diffs) > 0 {
		return 1
	}
	return 0
}

// dump copies every stream the replay produced into a JSONL directory so it
// can be browsed with inspect.
func dump(ctx context.Context, src *lineage.MemorySink, dir string) error {
	dst, err := lineage.NewJSONLSink(dir)
	if err != nil {
		return err
	}
	for _, d := range lineage.Domains {
		raw, err := src.ReadAll(ctx, d)
		if err != nil {
			return err
		}
		for _, r := range raw {
			if err := dst.Append(ctx, d, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// #endregion run

// #region output

func printTable(results []replay.Result) {
	fmt.Printf("%-6s| %-9s| %-9s| %-9s| %-12s| %-7s| %s\n", "Cycle", "Thought", "Fork", "Route", "Mutator", "Reflex", "Override")
	fmt.Printf("%-6s+%-10s+%-10s+%-10s+%-13s+%-8s+%s\n",
		"------", "----------", "----------", "----------", "-------------", "--------", "--------")
	for _, r := range results {
		mut := r.Mutator
		if mut == "" {
			mut = "-"
		}
		fmt.Printf("%-6d| %-9s| %-9s| %-9s| %-12s| %-7t| %t\n", r.Cycle, r.Thought, r.Fork, r.Route, mut, r.Reflex, r.Override)
	}
}

// #endregion output
