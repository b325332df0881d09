package agent

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger is the minimal logging seam for the agent.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// WatcherOptions configures a Watcher. Zero values get defaults.
type WatcherOptions struct {
	// Dir is the spool directory the capture pipeline writes JPEG files
	// into.
	Dir string
	// Uploader pushes settled frames to the relay.
	Uploader *Uploader
	// SettleDelay is how long a file must stay quiet after its last
	// write before it is uploaded, so partially written frames are never
	// sent. Default 250ms.
	SettleDelay time.Duration
	// RemoveAfterUpload deletes spool files once uploaded.
	RemoveAfterUpload bool
	Logger            Logger
}

// Watcher follows a spool directory and uploads each JPEG frame after
// its writes settle. On start it uploads the most recently modified
// existing frame so a viewer gets a snapshot before the next capture.
type Watcher struct {
	dir               string
	uploader          *Uploader
	settleDelay       time.Duration
	removeAfterUpload bool
	logger            Logger

	mu      sync.Mutex
	pending map[string]*pendingUpload
	wg      sync.WaitGroup
}

// pendingUpload tracks one armed settle window. Only the callback chain
// itself replaces the timer; a fired timer is never Reset, so each armed
// path holds exactly one WaitGroup slot no matter how writes interleave
// with the deadline.
type pendingUpload struct {
	timer *time.Timer
	due   time.Time
}

func NewWatcher(opts WatcherOptions) *Watcher {
	settleDelay := opts.SettleDelay
	if settleDelay <= 0 {
		settleDelay = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Watcher{
		dir:               opts.Dir,
		uploader:          opts.Uploader,
		settleDelay:       settleDelay,
		removeAfterUpload: opts.RemoveAfterUpload,
		logger:            logger,
		pending:           map[string]*pendingUpload{},
	}
}

// Run watches the spool directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	w.uploadExistingLatest(ctx)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isJPEG(event.Name) {
				continue
			}
			w.scheduleUpload(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch error: %v", err)
		case <-ctx.Done():
			w.drainPending()
			w.wg.Wait()
			return ctx.Err()
		}
	}
}

// scheduleUpload arms the settle window for path; each further write
// pushes the deadline back until the file goes quiet.
func (w *Watcher) scheduleUpload(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	due := time.Now().Add(w.settleDelay)
	if entry, ok := w.pending[path]; ok {
		entry.due = due
		return
	}
	w.wg.Add(1)
	entry := &pendingUpload{due: due}
	entry.timer = time.AfterFunc(w.settleDelay, func() { w.settled(ctx, path) })
	w.pending[path] = entry
}

// settled runs when a settle timer fires. If the file was written again
// since the timer was armed, it arms a fresh timer for the remainder
// instead of uploading; cancelled entries just release their slot.
func (w *Watcher) settled(ctx context.Context, path string) {
	w.mu.Lock()
	entry, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		w.wg.Done()
		return
	}
	if remaining := time.Until(entry.due); remaining > 0 {
		entry.timer = time.AfterFunc(remaining, func() { w.settled(ctx, path) })
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()
	defer w.wg.Done()
	w.upload(ctx, path)
}

func (w *Watcher) upload(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if err := w.uploader.UploadFile(ctx, path); err != nil {
		w.logger.Printf("upload failed for %s: %v", filepath.Base(path), err)
		return
	}
	w.logger.Printf("uploaded %s", filepath.Base(path))
	if w.removeAfterUpload {
		if err := os.Remove(path); err != nil {
			w.logger.Printf("remove failed for %s: %v", filepath.Base(path), err)
		}
	}
}

func (w *Watcher) uploadExistingLatest(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Printf("spool scan failed: %v", err)
		return
	}
	type candidate struct {
		path    string
		modTime time.Time
	}
	candidates := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isJPEG(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path:    filepath.Join(w.dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})
	w.upload(ctx, candidates[0].path)
}

func (w *Watcher) drainPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, entry := range w.pending {
		if entry.timer.Stop() {
			w.wg.Done()
		}
		// A timer that already fired finds its entry gone and releases
		// its own slot in settled.
		delete(w.pending, path)
	}
}

func isJPEG(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jpg" || ext == ".jpeg"
}
