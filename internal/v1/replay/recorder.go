package replay

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
)

const (
	// FileExt is the on-disk extension of replay files.
	FileExt = ".phirarec"

	// DefaultRetention is how long replay files live before the cleanup
	// sweep removes them.
	DefaultRetention = 7 * 24 * time.Hour

	cleanupInterval = time.Hour
)

// Entry describes one stored replay file.
type Entry struct {
	ChartID   int32 `json:"chartId"`
	Timestamp int64 `json:"timestamp"`
	RecordID  int32 `json:"recordId"`
	Size      int64 `json:"size"`
}

// Recorder stores replay files under <base>/<userId>/<chartId>/<unix>.phirarec.
// It is safe for concurrent use; writes from the game-end hook and reads from
// the admin surface share one mutex.
type Recorder struct {
	mu      sync.Mutex
	base    string
	enabled bool
	now     func() time.Time
}

// NewRecorder builds a recorder rooted at base. The directory is created on
// first write, not here.
func NewRecorder(base string, enabled bool) *Recorder {
	return &Recorder{base: base, enabled: enabled, now: time.Now}
}

// Enabled reports whether game-end recording is on.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetEnabled toggles game-end recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
}

// OnGameEnd writes one replay file per player that finished the game. It has
// the signature of the registry's game-end hook. Failures are logged, never
// propagated: a full disk must not take down the game loop.
func (r *Recorder) OnGameEnd(room game.RoomSnapshot, chart game.Chart, records map[int32]int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	ts := r.now().Unix()
	ctx := logging.WithRoom(context.Background(), room.ID)
	for userID, recordID := range records {
		if err := r.writeLocked(userID, chart.ID, recordID, ts); err != nil {
			logging.Error(ctx, "replay write failed",
				zap.Int32("user_id", userID), zap.Error(err))
			continue
		}
		logging.Debug(ctx, "replay recorded",
			zap.Int32("user_id", userID), zap.Int32("chart_id", chart.ID))
	}
}

func (r *Recorder) writeLocked(userID, chartID, recordID int32, ts int64) error {
	dir := filepath.Join(r.base, strconv.FormatInt(int64(userID), 10), strconv.FormatInt(int64(chartID), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data := AppendHeader(nil, Header{ChartID: chartID, UserID: userID, RecordID: recordID})
	path := filepath.Join(dir, strconv.FormatInt(ts, 10)+FileExt)
	return os.WriteFile(path, data, 0o644)
}

// List returns every replay stored for a user, newest first.
func (r *Recorder) List(userID int32) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userDir := filepath.Join(r.base, strconv.FormatInt(int64(userID), 10))
	charts, err := os.ReadDir(userDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, chartDir := range charts {
		if !chartDir.IsDir() {
			continue
		}
		chartID, err := strconv.ParseInt(chartDir.Name(), 10, 32)
		if err != nil {
			continue
		}
		files, err := os.ReadDir(filepath.Join(userDir, chartDir.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			ts, ok := parseTimestamp(f.Name())
			if !ok {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			entry := Entry{ChartID: int32(chartID), Timestamp: ts, Size: info.Size()}
			if data, err := os.ReadFile(filepath.Join(userDir, chartDir.Name(), f.Name())); err == nil {
				if h, _, err := ParseHeader(data); err == nil {
					entry.RecordID = h.RecordID
				}
			}
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })
	return entries, nil
}

// Open reads a single replay file and returns its header plus payload.
func (r *Recorder) Open(userID, chartID int32, ts int64) (Header, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path(userID, chartID, ts))
	if err != nil {
		return Header{}, nil, err
	}
	h, offset, err := ParseHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	return h, data[offset:], nil
}

// Delete removes one replay file, pruning directories left empty.
func (r *Recorder) Delete(userID, chartID int32, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.path(userID, chartID, ts)
	if err := os.Remove(path); err != nil {
		return err
	}
	// Best effort: Remove refuses non-empty directories.
	chartDir := filepath.Dir(path)
	if os.Remove(chartDir) == nil {
		os.Remove(filepath.Dir(chartDir))
	}
	return nil
}

// FilePath returns the on-disk location of one replay file. The file may or
// may not exist.
func (r *Recorder) FilePath(userID, chartID int32, ts int64) string {
	return r.path(userID, chartID, ts)
}

func (r *Recorder) path(userID, chartID int32, ts int64) string {
	return filepath.Join(r.base,
		strconv.FormatInt(int64(userID), 10),
		strconv.FormatInt(int64(chartID), 10),
		strconv.FormatInt(ts, 10)+FileExt)
}

// CleanupOlderThan removes replay files past the retention window and returns
// how many it deleted.
func (r *Recorder) CleanupOlderThan(retention time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-retention).Unix()
	removed := 0
	err := filepath.WalkDir(r.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ts, ok := parseTimestamp(d.Name())
		if !ok || ts >= cutoff {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	return removed, err
}

// StartCleanupSweeper runs the retention sweep hourly until ctx is cancelled.
func (r *Recorder) StartCleanupSweeper(ctx context.Context, wg *sync.WaitGroup, retention time.Duration) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.CleanupOlderThan(retention)
				if err != nil {
					logging.Error(ctx, "replay cleanup failed", zap.Error(err))
				} else if n > 0 {
					logging.Info(ctx, "replay cleanup removed old files", zap.Int("count", n))
				}
			}
		}
	}()
}

func parseTimestamp(name string) (int64, bool) {
	if !strings.HasSuffix(name, FileExt) {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSuffix(name, FileExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
