// Package capture persists captured frames to disk off the request path.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamlens/streamlens/internal/logger"
)

type snapshot struct {
	name string
	data []byte
}

// Store writes captured frames as JPEG files under a single directory. Disk
// writes happen on a dedicated goroutine so a slow disk never blocks the
// capture path.
type Store struct {
	dir       string
	snapshots chan snapshot
	closeOnce sync.Once
	wg        sync.WaitGroup

	written atomic.Uint64
	failed  atomic.Uint64
	seq     atomic.Uint64
}

// Status reports the store's write counters.
type Status struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Pending int    `json:"pending"`
}

// NewStore creates the directory if needed and starts the writer.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	s := &Store{
		dir:       dir,
		snapshots: make(chan snapshot, 16),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// Save enqueues a frame for persistence and returns its filename. It fails
// rather than blocks when the writer is backed up.
func (s *Store) Save(jpegData []byte) (string, error) {
	// The sequence suffix keeps burst captures from colliding on the
	// timestamp.
	name := fmt.Sprintf("frame_%s_%04d.jpg", time.Now().Format("20060102_150405"), s.seq.Add(1))
	data := make([]byte, len(jpegData))
	copy(data, jpegData)

	select {
	case s.snapshots <- snapshot{name: name, data: data}:
		return name, nil
	default:
		s.failed.Add(1)
		return "", fmt.Errorf("snapshot writer is backed up")
	}
}

// List returns stored snapshot filenames, newest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Open reads a stored snapshot by name. Names carrying path separators are
// rejected.
func (s *Store) Open(name string) ([]byte, error) {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid snapshot name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Status returns the write counters.
func (s *Store) Status() Status {
	return Status{
		Written: s.written.Load(),
		Failed:  s.failed.Load(),
		Pending: len(s.snapshots),
	}
}

// Close drains pending writes and stops the writer.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.snapshots)
	})
	s.wg.Wait()
	return nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for snap := range s.snapshots {
		path := filepath.Join(s.dir, snap.name)
		if err := os.WriteFile(path, snap.data, 0o644); err != nil {
			s.failed.Add(1)
			logger.Error("Capture", "Failed to write %s: %v", snap.name, err)
			continue
		}
		s.written.Add(1)
		logger.Debug("Capture", "Wrote %s (%d bytes)", snap.name, len(snap.data))
	}
}
