// Package main runs the built-in clinical drills against an in-process engine
// with a scripted oracle and reports a pass/fail summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/scenario"
)

func main() {
	only := flag.String("drill", "", "Run only the named drills (comma separated)")
	out := flag.String("out", "", "Write results as JSON to this file")
	verbose := flag.Bool("v", false, "Log engine activity")
	flag.Parse()

	log := logger.NewNop()
	if *verbose {
		l, err := logger.NewLogger("debug", "console", "scenario-runner")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		log = l
		defer log.Sync()
	}

	drills := selectDrills(scenario.Drills(), *only)
	if len(drills) == 0 {
		fmt.Fprintf(os.Stderr, "no drill matches %q\n", *only)
		os.Exit(2)
	}

	fmt.Println("RHENAL DRILL SUITE")
	fmt.Println(strings.Repeat("=", 60))

	runner := scenario.NewRunner(log, nil)
	results := runner.RunAll(context.Background(), drills)

	passed, failed := 0, 0
	for i, r := range results {
		mark := "PASS"
		if r.Passed {
			passed++
		} else {
			mark = "FAIL"
			failed++
		}
		fmt.Printf("[%s] %-20s %6s  %s\n", mark, r.Name, r.Duration.Round(1e6), drills[i].Description)
		if !r.Passed {
			fmt.Printf("       %s\n", r.Reason)
		}
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Passed: %d  Failed: %d\n", passed, failed)

	if *out != "" {
		data, _ := json.MarshalIndent(results, "", "  ")
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Println("Results saved to " + *out)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func selectDrills(all []scenario.Drill, only string) []scenario.Drill {
	if only == "" {
		return all
	}
	want := make(map[string]bool)
	for _, n := range strings.Split(only, ",") {
		want[strings.TrimSpace(n)] = true
	}
	var out []scenario.Drill
	for _, d := range all {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out
}
