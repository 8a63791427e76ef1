// Package filestore writes run output as CSV part files partitioned by run:
//
//	<root>/run=<id>/posts/hashtag=<tag>/part-00001.csv
//	<root>/run=<id>/signals/part-00001.csv
//	<root>/run=<id>/report.json
//
// Part files are written to a temp file and renamed into place, so readers
// never see a partial file. Existing parts are never rewritten.
package filestore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/faults"
	"github.com/sawpanic/hashsignal/internal/store"
)

const sinkName = "file"

var unsafePath = regexp.MustCompile(`[^a-zA-Z0-9_\-]+`)

// Store is safe for concurrent use
type Store struct {
	root string

	mu sync.Mutex
}

// New creates a store rooted at dir, creating it if needed
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) Name() string { return sinkName }

func (s *Store) Close() error { return nil }

// RunDir is the partition directory of a run
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, "run="+safe(runID))
}

func safe(part string) string {
	part = unsafePath.ReplaceAllString(part, "_")
	if part == "" {
		return "_"
	}
	return part
}

type pending struct {
	tmp  string
	dest string
}

// Append writes the batch's posts and signals as new part files. Either all
// parts of the batch land or none do.
func (s *Store) Append(ctx context.Context, b store.Batch) error {
	if b.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &faults.StorageWriteError{Sink: sinkName, Op: "append", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.RunDir(b.RunID)
	var parts []pending
	cleanup := func() {
		for _, p := range parts {
			_ = os.Remove(p.tmp)
		}
	}

	if len(b.Posts) > 0 {
		rows := make([][]string, len(b.Posts))
		for i, p := range b.Posts {
			rows[i] = store.PostRecord(p)
		}
		p, err := s.stage(filepath.Join(run, "posts", "hashtag="+safe(b.Hashtag)), store.PostColumns, rows)
		if err != nil {
			cleanup()
			return err
		}
		parts = append(parts, p)
	}
	if len(b.Signals) > 0 {
		rows := make([][]string, len(b.Signals))
		for i, sig := range b.Signals {
			rows[i] = store.SignalRecord(sig)
		}
		p, err := s.stage(filepath.Join(run, "signals"), store.SignalColumns, rows)
		if err != nil {
			cleanup()
			return err
		}
		parts = append(parts, p)
	}

	var done []string
	for _, p := range parts {
		if err := os.Rename(p.tmp, p.dest); err != nil {
			cleanup()
			for _, d := range done {
				_ = os.Remove(d)
			}
			return &faults.StorageWriteError{Sink: sinkName, Op: "rename", Err: err}
		}
		done = append(done, p.dest)
	}
	log.Debug().Str("run_id", b.RunID).Str("hashtag", b.Hashtag).
		Int("posts", len(b.Posts)).Int("signals", len(b.Signals)).
		Strs("files", done).Msg("Batch written")
	return nil
}

// stage writes rows to a temp file next to the next free part name
func (s *Store) stage(dir string, header []string, rows [][]string) (pending, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pending{}, &faults.StorageWriteError{Sink: sinkName, Op: "mkdir", Err: err}
	}
	dest, err := nextPart(dir)
	if err != nil {
		return pending{}, &faults.StorageWriteError{Sink: sinkName, Op: "list", Err: err}
	}

	f, err := os.CreateTemp(dir, ".part-*.tmp")
	if err != nil {
		return pending{}, &faults.StorageWriteError{Sink: sinkName, Op: "create", Err: err}
	}
	fail := func(op string, err error) (pending, error) {
		f.Close()
		os.Remove(f.Name())
		return pending{}, &faults.StorageWriteError{Sink: sinkName, Op: op, Err: err}
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fail("write", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return pending{}, &faults.StorageWriteError{Sink: sinkName, Op: "close", Err: err}
	}
	return pending{tmp: f.Name(), dest: dest}, nil
}

// nextPart returns the first part-NNNNN.csv name not yet taken
func nextPart(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	highest := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "part-") || !strings.HasSuffix(name, ".csv") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "part-"), ".csv")); err == nil && n > highest {
			highest = n
		}
	}
	return filepath.Join(dir, fmt.Sprintf("part-%05d.csv", highest+1)), nil
}

// WriteReport stores v as report.json in the run partition, replacing any
// earlier report of the same run
func (s *Store) WriteReport(runID string, v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &faults.StorageWriteError{Sink: sinkName, Op: "mkdir", Err: err}
	}
	f, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return "", &faults.StorageWriteError{Sink: sinkName, Op: "create", Err: err}
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", &faults.StorageWriteError{Sink: sinkName, Op: "write", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", &faults.StorageWriteError{Sink: sinkName, Op: "close", Err: err}
	}
	dest := filepath.Join(dir, "report.json")
	if err := os.Rename(f.Name(), dest); err != nil {
		os.Remove(f.Name())
		return "", &faults.StorageWriteError{Sink: sinkName, Op: "rename", Err: err}
	}
	return dest, nil
}

// Parts lists the committed part files under a run, relative to its partition
func (s *Store) Parts(runID string) ([]string, error) {
	run := s.RunDir(runID)
	var out []string
	err := filepath.WalkDir(run, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), "part-") && strings.HasSuffix(d.Name(), ".csv") {
			rel, _ := filepath.Rel(run, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ store.Writer = (*Store)(nil)
