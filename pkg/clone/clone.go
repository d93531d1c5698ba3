// Package clone copies job directories to a work directory and filters
// their POMs there.
package clone

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/poltergeist/invoker/pkg/interpolate"
	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/types"
	"github.com/poltergeist/invoker/pkg/utils"
)

// Options controls a clone
type Options struct {
	Source string
	Target string
	// AllFiles copies the whole source directory including VCS files.
	AllFiles bool
	// Clean removes the target before copying.
	Clean            bool
	LocalRepository  string
	FilterProperties map[string]string
}

// Cloner copies projects for a run
type Cloner struct {
	fsu  *utils.FileSystemUtils
	log  logger.Logger
	opts Options
}

// New creates a cloner. A nil fs means the OS filesystem.
func New(fs afero.Fs, log logger.Logger, opts Options) *Cloner {
	return &Cloner{fsu: utils.NewFileSystemUtils(fs), log: log, opts: opts}
}

// Clone copies the directories of jobs from the source to the target and
// interpolates each job's POM in place. It returns the number of copied
// files.
func (c *Cloner) Clone(jobs []*types.BuildJob) (int, error) {
	if c.opts.Target == "" {
		return 0, nil
	}
	if filepath.Clean(c.opts.Source) == filepath.Clean(c.opts.Target) {
		return 0, fmt.Errorf("cannot clone %s onto itself", c.opts.Source)
	}

	if c.opts.Clean && c.fsu.Exists(c.opts.Target) {
		c.log.Info(fmt.Sprintf("Cleaning %s", c.opts.Target))
		if err := c.fsu.RemoveAll(c.opts.Target); err != nil {
			return 0, fmt.Errorf("failed to clean %s: %w", c.opts.Target, err)
		}
	}
	if err := c.fsu.EnsureDirectory(c.opts.Target); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", c.opts.Target, err)
	}

	var keep func(string, bool) bool
	if !c.opts.AllFiles {
		excludes, err := utils.NewPatternMatcher(utils.GetDefaultExcludes())
		if err != nil {
			return 0, err
		}
		keep = func(rel string, _ bool) bool { return !excludes.Match(rel) }
	}

	copied := 0
	if c.opts.AllFiles {
		n, err := c.fsu.CopyTree(c.opts.Source, c.opts.Target, keep)
		if err != nil {
			return copied, fmt.Errorf("failed to clone projects: %w", err)
		}
		copied += n
	} else {
		for _, dir := range c.projectDirs(jobs) {
			src := filepath.Join(c.opts.Source, filepath.FromSlash(dir))
			dst := filepath.Join(c.opts.Target, filepath.FromSlash(dir))
			n, err := c.fsu.CopyTree(src, dst, keep)
			if err != nil {
				return copied, fmt.Errorf("failed to clone %s: %w", dir, err)
			}
			copied += n
		}
	}

	for _, job := range jobs {
		if filepath.IsAbs(job.Project) || !strings.HasSuffix(job.Project, ".xml") {
			continue
		}
		pom := filepath.Join(c.opts.Target, filepath.FromSlash(job.Project))
		if !c.fsu.IsFile(pom) {
			continue
		}
		values := interpolate.ValueSource(filepath.Dir(pom), c.opts.LocalRepository, c.opts.FilterProperties)
		if err := interpolate.New(values).FilterFile(c.fsu.Fs(), pom, pom); err != nil {
			return copied, err
		}
	}

	c.log.Info(fmt.Sprintf("Cloned %d files to %s", copied, c.opts.Target))
	return copied, nil
}

// projectDirs returns the job directories to copy, dropping directories
// nested inside another one in the list.
func (c *Cloner) projectDirs(jobs []*types.BuildJob) []string {
	var dirs []string
	for _, job := range jobs {
		if filepath.IsAbs(job.Project) {
			continue
		}
		dir := job.Project
		if c.fsu.IsFile(filepath.Join(c.opts.Source, filepath.FromSlash(dir))) {
			dir = path.Dir(dir)
		}
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var out []string
	for _, dir := range dirs {
		if len(out) > 0 {
			last := out[len(out)-1]
			if dir == last || last == "." || strings.HasPrefix(dir, last+"/") {
				continue
			}
		}
		out = append(out, dir)
	}
	return out
}
