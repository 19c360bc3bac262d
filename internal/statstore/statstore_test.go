package statstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStartRunAndRecordSnapshot(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "mcsotdma.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	started := time.UnixMilli(1_700_000_000_000).UTC()
	runID, err := st.StartRun(context.Background(), "two-node-sanity", started)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if runID == "" {
		t.Fatal("expected a non-empty generated run ID")
	}

	snap := Snapshot{
		NodeID:                 1,
		Collisions:             3,
		ExceededMaxAttempts:    1,
		ThirdPartyRequestsRcvd: 2,
		LinksEstablished:       1,
	}
	if err := st.RecordSnapshot(context.Background(), runID, snap); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}

	snaps, err := st.Snapshots(context.Background(), runID)
	if err != nil {
		t.Fatalf("load snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0] != snap {
		t.Fatalf("snapshot round-trip mismatch: got %+v, want %+v", snaps[0], snap)
	}

	run, err := st.Run(context.Background(), runID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Label != "two-node-sanity" || !run.StartedAt.Equal(started) {
		t.Fatalf("unexpected run metadata: %+v", run)
	}
	if !run.EndedAt.IsZero() {
		t.Fatalf("expected zero EndedAt before FinishRun, got %v", run.EndedAt)
	}
}

func TestRecordSnapshotUpsertsOnRepeat(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "mcsotdma.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	runID, err := st.StartRun(context.Background(), "r", time.Now().UTC())
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	first := Snapshot{NodeID: 1, Collisions: 1}
	second := Snapshot{NodeID: 1, Collisions: 5}
	if err := st.RecordSnapshot(context.Background(), runID, first); err != nil {
		t.Fatalf("record first snapshot: %v", err)
	}
	if err := st.RecordSnapshot(context.Background(), runID, second); err != nil {
		t.Fatalf("record second snapshot: %v", err)
	}

	snaps, err := st.Snapshots(context.Background(), runID)
	if err != nil {
		t.Fatalf("load snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected upsert to keep exactly 1 row, got %d", len(snaps))
	}
	if snaps[0].Collisions != 5 {
		t.Fatalf("Collisions = %d, want 5 (overwritten)", snaps[0].Collisions)
	}
}

func TestFinishRunStampsEndTime(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "mcsotdma.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	started := time.UnixMilli(1_700_000_000_000).UTC()
	ended := started.Add(5 * time.Minute)
	runID, err := st.StartRun(context.Background(), "r", started)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := st.FinishRun(context.Background(), runID, ended); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	run, err := st.Run(context.Background(), runID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if !run.EndedAt.Equal(ended) {
		t.Fatalf("EndedAt = %v, want %v", run.EndedAt, ended)
	}
}

func TestFinishRunUnknownIDReturnsErrRunNotFound(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "mcsotdma.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	err = st.FinishRun(context.Background(), "nonexistent", time.Now())
	if err != ErrRunNotFound {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestRunUnknownIDReturnsErrRunNotFound(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "mcsotdma.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.Run(context.Background(), "nonexistent")
	if err != ErrRunNotFound {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestRunIDsOrdersMostRecentFirst(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "mcsotdma.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	base := time.UnixMilli(1_700_000_000_000).UTC()
	first, err := st.StartRun(context.Background(), "first", base)
	if err != nil {
		t.Fatalf("start first run: %v", err)
	}
	second, err := st.StartRun(context.Background(), "second", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("start second run: %v", err)
	}

	ids, err := st.RunIDs(context.Background())
	if err != nil {
		t.Fatalf("run ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != second || ids[1] != first {
		t.Fatalf("RunIDs() = %v, want [%s %s]", ids, second, first)
	}
}

func TestSummaryAggregatesAcrossNodes(t *testing.T) {
	t.Parallel()

	started := time.UnixMilli(1_700_000_000_000).UTC()
	run := Run{ID: "12345678-abcd-ef00-0000-000000000000", Label: "demo", StartedAt: started, EndedAt: started.Add(time.Minute)}
	snaps := []Snapshot{
		{NodeID: 1, Collisions: 2, LinksEstablished: 1},
		{NodeID: 2, Collisions: 3, LinksEstablished: 2},
	}
	summary := Summary(run, snaps)
	if summary == "" {
		t.Fatal("expected non-empty summary")
	}
	for _, want := range []string{"demo", "12345678", "2 nodes", "5 collisions", "3 links established"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary %q missing %q", summary, want)
		}
	}
}
