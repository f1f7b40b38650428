package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/nos-project/nosboot/pkg/failurestore"
)

// runListCmd implements `bootreport list`.
func runListCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		storePath string
		limit     int
	)
	cmd.StringVar(&storePath, "store", "", "Path to the SQLite failure store (REQUIRED)")
	cmd.IntVar(&limit, "limit", 20, "Maximum number of failures to list")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if storePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -store is required")
		return 2
	}

	store, err := failurestore.Open(storePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	failures, err := store.List(context.Background(), limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if len(failures) == 0 {
		_, _ = fmt.Fprintln(stdout, "no failures recorded")
		return 0
	}
	for _, f := range failures {
		_, _ = fmt.Fprintf(stdout, "%s  attempt %d  %-22s  %s\n",
			f.RecordedAt.Format("2006-01-02 15:04:05"), f.Attempt, f.Stage, f.SessionID)
	}
	return 0
}

// runPruneCmd implements `bootreport prune`.
func runPruneCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("prune", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		storePath string
		keep      int
	)
	cmd.StringVar(&storePath, "store", "", "Path to the SQLite failure store (REQUIRED)")
	cmd.IntVar(&keep, "keep", 50, "Number of newest failures to keep")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if storePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -store is required")
		return 2
	}

	store, err := failurestore.Open(storePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	deleted, err := store.Prune(context.Background(), keep)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "pruned %d failure(s)\n", deleted)
	return 0
}
