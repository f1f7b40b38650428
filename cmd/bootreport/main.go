// Command bootreport works with boot session reports: it simulates boot
// attempts against kernel image files, inspects exported reports, and
// manages the local failure store.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "simulate":
		return runSimulateCmd(args[2:], stdout, stderr)
	case "inspect":
		return runInspectCmd(args[2:], stdout, stderr)
	case "list":
		return runListCmd(args[2:], stdout, stderr)
	case "prune":
		return runPruneCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "bootreport: unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: bootreport <command> [flags]

Commands:
  simulate   run a simulated boot attempt against a kernel image file
  inspect    validate and summarize an exported report
  list       list stored failure reports
  prune      delete all but the newest stored failures`)
}
