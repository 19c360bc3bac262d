package simnet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"mcsotdma/internal/statstore"
)

// RunCLI handles subcommand execution before the main run mode's flags
// are parsed: a manual subcommand switch with no flag library, falling
// through to false when nothing matches so main can fall back to its
// normal flag-parsed run. "run" is deliberately absent here: starting a
// simulation needs the full flag set main.go parses, not a bare
// subcommand.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("mcsotdma simulator %s\n", Version)
		return true
	case "runs":
		return cliRuns(dbPath)
	case "stats":
		return cliStats(args[1:], dbPath)
	default:
		return false
	}
}

func cliRuns(dbPath string) bool {
	st, err := statstore.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening stat store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ids, err := st.RunIDs(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Println("No runs recorded.")
		return true
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return true
}

func cliStats(args []string, dbPath string) bool {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: simnet stats <run-id> [--json]\n")
		os.Exit(1)
	}
	runID := args[0]
	asJSON := len(args) > 1 && args[1] == "--json"

	st, err := statstore.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening stat store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	run, err := st.Run(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	snaps, err := st.Snapshots(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if asJSON {
		out, _ := json.MarshalIndent(snaps, "", "  ")
		fmt.Println(string(out))
		return true
	}
	fmt.Println(statstore.Summary(run, snaps))
	return true
}
