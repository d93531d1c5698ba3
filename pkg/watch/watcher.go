// Package watch re-runs jobs whose files change
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/invoker/pkg/build"
	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/types"
	"github.com/poltergeist/invoker/pkg/utils"
)

// DefaultSettlingDelay is the quiet period before a changed job is re-run
const DefaultSettlingDelay = 500 * time.Millisecond

// Change is a settled set of file changes in one job. Last is the time
// of the latest event.
type Change struct {
	Job   *types.BuildJob
	Paths []string
	Last  time.Time
}

// Watcher maps file system events under the projects directory to jobs
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   logger.Logger
	root     string
	jobDirs  map[string]*types.BuildJob
	selector *utils.PathSelector
	settling time.Duration
	changes  chan Change

	mu      sync.Mutex
	pending map[string]*pendingChange
	done    chan struct{}
	wg      sync.WaitGroup
}

type pendingChange struct {
	timer *time.Timer
	paths map[string]bool
	last  time.Time
}

// Exclusions returns the patterns ignored for the given configuration:
// build logs, filtered POMs, build output and the reports directory when
// it lies below the projects directory. Other files written by hook
// scripts are not known up front; the runner ignores changes made while
// a job ran instead.
func Exclusions(cfg *types.InvokerConfig) []string {
	exclusions := []string{
		"**/" + build.LogFileName,
		"**/interpolated-*",
		"**/target/**",
	}
	if cfg.FilteredPomPrefix != "" {
		exclusions = append(exclusions, "**/"+cfg.FilteredPomPrefix+"*")
	}
	if cfg.ReportsDirectory != "" && cfg.ProjectsDirectory != "" {
		rel, err := filepath.Rel(cfg.ProjectsDirectory, cfg.ReportsDirectory)
		if err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			rel = filepath.ToSlash(rel)
			exclusions = append(exclusions, rel, rel+"/**")
		}
	}
	return exclusions
}

// NewWatcher creates a watcher for jobs below root
func NewWatcher(log logger.Logger, root string, jobs []*types.BuildJob, exclusions []string) (*Watcher, error) {
	selector, err := utils.NewPathSelector([]string{"**"}, exclusions, true)
	if err != nil {
		return nil, fmt.Errorf("invalid watch exclusions: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:  watcher,
		logger:   log,
		root:     root,
		jobDirs:  make(map[string]*types.BuildJob, len(jobs)),
		selector: selector,
		settling: DefaultSettlingDelay,
		changes:  make(chan Change, len(jobs)+1),
		pending:  make(map[string]*pendingChange),
		done:     make(chan struct{}),
	}
	for _, job := range jobs {
		w.jobDirs[JobDir(root, job)] = job
	}
	return w, nil
}

// JobDir returns the directory holding a job's files
func JobDir(root string, job *types.BuildJob) string {
	path := filepath.FromSlash(job.Project)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path
	}
	return filepath.Dir(path)
}

// SetSettlingDelay sets the delay for event settling
func (w *Watcher) SetSettlingDelay(delay time.Duration) {
	w.mu.Lock()
	w.settling = delay
	w.mu.Unlock()
}

// Changes delivers settled job changes
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Start watches every job directory and processes events until ctx is
// done or the watcher is closed.
func (w *Watcher) Start(ctx context.Context) error {
	dirs := make([]string, 0, len(w.jobDirs))
	for dir := range w.jobDirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		if err := w.addDirectory(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.wg.Add(1)
	go w.processEvents(ctx)

	w.logger.Info(fmt.Sprintf("Started watching %d jobs in %s", len(dirs), w.root))
	return nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	w.mu.Lock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = make(map[string]*pendingChange)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// addDirectory watches dir and its subdirectories
func (w *Watcher) addDirectory(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if w.isExcluded(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn(fmt.Sprintf("Failed to watch directory %s: %v", path, err))
			return nil
		}
		w.logger.Debug(fmt.Sprintf("Watching directory: %s", path))
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.isExcluded(event.Name) {
				continue
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addDirectory(event.Name); err != nil {
						w.logger.Warn(fmt.Sprintf("Failed to watch new directory %s: %v", event.Name, err))
					}
				}
			}

			if event.Op == fsnotify.Chmod {
				continue
			}
			w.record(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(fmt.Sprintf("Watcher error: %v", err))
		}
	}
}

// record adds path to the pending change of its job and restarts the
// job's settling timer
func (w *Watcher) record(path string) {
	dir, job := w.jobFor(path)
	if job == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	now := time.Now()
	if p, ok := w.pending[dir]; ok {
		p.paths[path] = true
		p.last = now
		p.timer.Reset(w.settling)
		return
	}

	p := &pendingChange{paths: map[string]bool{path: true}, last: now}
	p.timer = time.AfterFunc(w.settling, func() { w.flush(dir, job) })
	w.pending[dir] = p
}

func (w *Watcher) flush(dir string, job *types.BuildJob) {
	w.mu.Lock()
	p, ok := w.pending[dir]
	if ok {
		delete(w.pending, dir)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	paths := make([]string, 0, len(p.paths))
	for path := range p.paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	select {
	case w.changes <- Change{Job: job, Paths: paths, Last: p.last}:
	case <-w.done:
	}
}

// jobFor returns the job whose directory is the longest prefix of path
func (w *Watcher) jobFor(path string) (string, *types.BuildJob) {
	var bestDir string
	var best *types.BuildJob
	for dir, job := range w.jobDirs {
		if path != dir && !strings.HasPrefix(path, dir+string(filepath.Separator)) {
			continue
		}
		if len(dir) > len(bestDir) {
			bestDir = dir
			best = job
		}
	}
	return bestDir, best
}

func (w *Watcher) isExcluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	return w.selector.IsExcluded(filepath.ToSlash(rel))
}
