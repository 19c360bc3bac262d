package simnet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mcsotdma/internal/statstore"
)

func cliDBSetup(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "simnet.db")
	st, err := statstore.Open(dbPath)
	if err != nil {
		t.Fatalf("open stat store: %v", err)
	}
	st.Close()
	return dbPath
}

func cliDBWithRun(t *testing.T, label string, snaps ...statstore.Snapshot) (dbPath, runID string) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "simnet.db")
	st, err := statstore.Open(dbPath)
	if err != nil {
		t.Fatalf("open stat store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	runID, err = st.StartRun(ctx, label, time.Now())
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	for _, sn := range snaps {
		if err := st.RecordSnapshot(ctx, runID, sn); err != nil {
			t.Fatalf("record snapshot: %v", err)
		}
	}
	return dbPath, runID
}

func TestRunCLIVersionReturnsTrue(t *testing.T) {
	if !RunCLI([]string{"version"}, "not-used.db") {
		t.Error("RunCLI(version) should return true")
	}
}

func TestRunCLIUnknownSubcommandReturnsFalse(t *testing.T) {
	if RunCLI([]string{"nonexistent-cmd"}, "not-used.db") {
		t.Error("RunCLI(unknown) should return false")
	}
}

func TestRunCLIEmptyArgsReturnsFalse(t *testing.T) {
	if RunCLI([]string{}, "not-used.db") {
		t.Error("RunCLI([]) should return false")
	}
}

func TestRunCLINilArgsReturnsFalse(t *testing.T) {
	if RunCLI(nil, "not-used.db") {
		t.Error("RunCLI(nil) should return false")
	}
}

func TestRunCLIRunSubcommandIsAbsent(t *testing.T) {
	if RunCLI([]string{"run"}, "not-used.db") {
		t.Error(`RunCLI("run") should return false: full simulation runs go through main's flag set`)
	}
}

func TestCLIRunsEmptyDB(t *testing.T) {
	dbPath := cliDBSetup(t)
	if !RunCLI([]string{"runs"}, dbPath) {
		t.Error("RunCLI(runs) should return true")
	}
}

func TestCLIRunsListsRecordedRuns(t *testing.T) {
	dbPath, runID := cliDBWithRun(t, "demo")
	if !RunCLI([]string{"runs"}, dbPath) {
		t.Error("RunCLI(runs) should return true")
	}
	_ = runID
}

func TestCLIStatsKnownRun(t *testing.T) {
	dbPath, runID := cliDBWithRun(t, "demo", statstore.Snapshot{NodeID: 1, Collisions: 2})
	if !RunCLI([]string{"stats", runID}, dbPath) {
		t.Error("RunCLI(stats <id>) should return true")
	}
}

func TestCLIStatsJSONFlag(t *testing.T) {
	dbPath, runID := cliDBWithRun(t, "demo", statstore.Snapshot{NodeID: 1, Collisions: 2})
	if !RunCLI([]string{"stats", runID, "--json"}, dbPath) {
		t.Error("RunCLI(stats <id> --json) should return true")
	}
}
