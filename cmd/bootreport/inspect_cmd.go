package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nos-project/nosboot/pkg/report"
)

// runInspectCmd implements `bootreport inspect`.
//
// It decodes an exported YAML report, validates it against the report
// schema, and prints a summary with the canonical digest.
//
// Exit codes:
//
//	0 = report is valid
//	1 = report fails schema validation
//	2 = runtime error
func runInspectCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("inspect", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var reportFile string
	cmd.StringVar(&reportFile, "report", "", "Path to an exported YAML report (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if reportFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -report is required")
		return 2
	}

	raw, err := os.ReadFile(reportFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read report: %v\n", err)
		return 2
	}
	r, err := report.DecodeYAML(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if err := validateReport(r); err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid: %v\n", err)
		return 1
	}

	digest, err := r.Digest()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: digest: %v\n", err)
		return 2
	}

	printSummary(stdout, r, digest)
	return 0
}

func printSummary(w io.Writer, r *report.Report, digest string) {
	_, _ = fmt.Fprintf(w, "session:  %s (attempt %d)\n", r.SessionID, r.Attempt)
	_, _ = fmt.Fprintf(w, "stage:    %s (%d%%)\n", r.Stage, r.Progress)
	_, _ = fmt.Fprintf(w, "firmware: %s\n", r.Firmware)
	if r.Protocol != "" {
		_, _ = fmt.Fprintf(w, "protocol: %s\n", r.Protocol)
	}
	for _, g := range r.Checklist {
		mark := " "
		if g.Passed {
			mark = "x"
		}
		_, _ = fmt.Fprintf(w, "  [%s] %s\n", mark, g.Name)
	}
	for _, e := range r.Errors {
		_, _ = fmt.Fprintf(w, "error at %q: %s\n", e.Stage, e.Message)
	}
	ready := "no"
	if r.Ready {
		ready = "yes"
	}
	_, _ = fmt.Fprintf(w, "ready:    %s\n", ready)
	_, _ = fmt.Fprintf(w, "digest:   %s\n", digest)
}
