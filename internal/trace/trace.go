// Package trace records one simulation run's per-slot protocol events to
// a JSON-lines file, so a run can be replayed or diffed after the fact.
// Grounded on recording.go's ChannelRecorder lifecycle (Start/Feed/Stop,
// mutex-guarded state, an auto-stop timer, an Info() summary) with the
// OGG/Opus container swapped for a line-delimited JSON event log.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxRecordingDuration bounds how long a trace file can grow before it
// auto-stops, mirroring a runaway simulation that never calls Stop.
const maxRecordingDuration = 2 * time.Hour

// Kind enumerates the protocol events a Recorder captures.
type Kind string

const (
	KindLinkEstablished Kind = "link_established"
	KindLinkTornDown    Kind = "link_torn_down"
	KindCollision       Kind = "collision"
	KindDutyThrottled   Kind = "duty_cycle_throttled"
	KindDMEDropped      Kind = "dme_dropped"
	KindChannelError    Kind = "channel_error_dropped"
)

// Event is one recorded occurrence at a given slot, for a given node.
type Event struct {
	Slot   int64          `json:"slot"`
	NodeID int32          `json:"node_id"`
	Kind   Kind           `json:"kind"`
	Peer   int32          `json:"peer,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Info summarizes a recording, completed or in progress.
type Info struct {
	ID        string `json:"id"`
	RunLabel  string `json:"run_label"`
	StartedAt int64  `json:"started_at"`
	StoppedAt int64  `json:"stopped_at"`
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	Events    uint64 `json:"events"`
}

// Recorder appends Events to a JSON-lines file for the duration of one
// simulation run. simnet's Simulation calls RecordEvent once per counter
// increment it observes after each slot.
type Recorder struct {
	mu        sync.Mutex
	runLabel  string
	startedAt time.Time
	stoppedAt time.Time
	file      *os.File
	w         *bufio.Writer
	enc       *json.Encoder
	stopped   bool
	maxTimer  *time.Timer
	stopFn    func()
	events    uint64
}

// StartRecorder begins recording a run's events to dataDir/traces.
// stopFn, if non-nil, is called if the max recording duration is reached
// before Stop.
func StartRecorder(runLabel, dataDir string, stopFn func()) (*Recorder, error) {
	dir := filepath.Join(dataDir, "traces")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create traces dir: %w", err)
	}

	now := time.Now()
	filename := fmt.Sprintf("%s_%s.jsonl", runLabel, now.Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	w := bufio.NewWriter(f)

	r := &Recorder{
		runLabel:  runLabel,
		startedAt: now,
		file:      f,
		w:         w,
		enc:       json.NewEncoder(w),
		stopFn:    stopFn,
	}

	r.maxTimer = time.AfterFunc(maxRecordingDuration, func() {
		slog.Warn("trace recorder: max duration reached, auto-stopping", "run", runLabel)
		r.Stop()
		if stopFn != nil {
			stopFn()
		}
	})

	slog.Info("trace recorder started", "run", runLabel, "file", filename)
	return r, nil
}

// RecordEvent appends one event to the trace file. A no-op once Stop has
// been called.
func (r *Recorder) RecordEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.events++
	if err := r.enc.Encode(ev); err != nil {
		slog.Warn("trace recorder: write failed", "run", r.runLabel, "err", err)
	}
}

// Stop flushes and closes the trace file. Safe to call multiple times.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	r.stoppedAt = time.Now()
	if r.maxTimer != nil {
		r.maxTimer.Stop()
	}
	if r.w != nil {
		_ = r.w.Flush()
	}
	if r.file != nil {
		_ = r.file.Close()
	}
	slog.Info("trace recorder stopped", "run", r.runLabel, "events", r.events)
}

// Info returns metadata about this recording.
func (r *Recorder) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := Info{
		ID:        filepath.Base(r.file.Name()),
		RunLabel:  r.runLabel,
		StartedAt: r.startedAt.UnixMilli(),
		FileName:  filepath.Base(r.file.Name()),
		Events:    r.events,
	}
	if r.stopped {
		info.StoppedAt = r.stoppedAt.UnixMilli()
		if fi, err := os.Stat(r.file.Name()); err == nil {
			info.FileSize = fi.Size()
		}
	}
	return info
}

// FilePath returns the full path of the trace file.
func (r *Recorder) FilePath() string {
	return r.file.Name()
}

// ReadEvents replays every event from a trace file in order, for
// post-run inspection or a dashboard "load run" action.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	var out []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode trace event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
