// Package discovery finds the jobs below a projects directory
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/types"
	"github.com/poltergeist/invoker/pkg/utils"
)

// PomFileName is the project descriptor looked up in matched directories
const PomFileName = "pom.xml"

// Options controls which jobs are discovered
type Options struct {
	Includes      []string
	Excludes      []string
	SetupIncludes []string
	// Pom short-circuits scanning and yields exactly this job.
	Pom string
	// InvokerTest is a comma-separated pattern list; "!" entries exclude.
	InvokerTest  string
	SettingsFile string
}

// OptionsFromConfig extracts discovery options from the run configuration
func OptionsFromConfig(cfg *types.InvokerConfig) Options {
	return Options{
		Includes:      cfg.PomIncludes,
		Excludes:      cfg.PomExcludes,
		SetupIncludes: cfg.SetupIncludes,
		Pom:           cfg.Pom,
		InvokerTest:   cfg.InvokerTest,
		SettingsFile:  cfg.SettingsFile,
	}
}

// Discoverer scans a projects directory for jobs
type Discoverer struct {
	fs   afero.Fs
	fsu  *utils.FileSystemUtils
	log  logger.Logger
	opts Options
}

// New creates a discoverer. A nil fs means the OS filesystem.
func New(fs afero.Fs, log logger.Logger, opts Options) *Discoverer {
	fsu := utils.NewFileSystemUtils(fs)
	return &Discoverer{fs: fsu.Fs(), fsu: fsu, log: log, opts: opts}
}

// Discover returns the jobs below projectsDir: setup jobs first, then
// normal or direct jobs, each group sorted by path. A path matched as both
// setup and normal job is a setup job.
func (d *Discoverer) Discover(projectsDir string) ([]*types.BuildJob, error) {
	if d.opts.Pom != "" {
		return []*types.BuildJob{types.NewBuildJob(filepath.ToSlash(d.opts.Pom), types.JobTypeNormal)}, nil
	}

	if !d.fsu.IsDirectory(projectsDir) {
		d.log.Warn(fmt.Sprintf("Projects directory does not exist: %s", projectsDir))
		return nil, nil
	}

	excludes := append([]string{}, d.opts.Excludes...)
	if rel, ok := d.settingsExclude(projectsDir); ok {
		excludes = append(excludes, rel)
	}

	includes := d.opts.Includes
	jobType := types.JobTypeNormal
	if d.opts.InvokerTest != "" {
		testIncludes, testExcludes := ParseInvokerTest(d.opts.InvokerTest)
		includes = testIncludes
		excludes = append(excludes, testExcludes...)
		jobType = types.JobTypeDirect
	}

	setupJobs, err := d.scan(projectsDir, d.opts.SetupIncludes, excludes)
	if err != nil {
		return nil, err
	}
	otherJobs, err := d.scan(projectsDir, includes, excludes)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(setupJobs)+len(otherJobs))
	jobs := make([]*types.BuildJob, 0, len(setupJobs)+len(otherJobs))
	for _, project := range setupJobs {
		seen[project] = true
		jobs = append(jobs, types.NewBuildJob(project, types.JobTypeSetup))
	}
	for _, project := range otherJobs {
		if seen[project] {
			continue
		}
		seen[project] = true
		jobs = append(jobs, types.NewBuildJob(project, jobType))
	}

	d.log.Debug("Discovered jobs",
		logger.WithField("setup", len(setupJobs)),
		logger.WithField("total", len(jobs)))

	return jobs, nil
}

// scan walks root and returns the sorted, unique job paths matched by
// includes and not by excludes. Matched directories become dir/pom.xml
// when that file exists.
func (d *Discoverer) scan(root string, includes, excludes []string) ([]string, error) {
	if len(includes) == 0 {
		return nil, nil
	}

	selector, err := utils.NewPathSelector(includes, excludes, true)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool)
	err = afero.Walk(d.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := utils.RelativeSlashPath(root, path)
		if err != nil || rel == "." {
			return err
		}

		if info.IsDir() && selector.IsExcluded(rel) {
			return filepath.SkipDir
		}
		if !selector.Selects(rel) {
			return nil
		}

		if info.IsDir() && d.fsu.IsFile(filepath.Join(path, PomFileName)) {
			rel += "/" + PomFileName
			if selector.IsExcluded(rel) {
				return nil
			}
		}
		found[rel] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan projects directory %s: %w", root, err)
	}

	projects := make([]string, 0, len(found))
	for p := range found {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return projects, nil
}

func (d *Discoverer) settingsExclude(projectsDir string) (string, bool) {
	if d.opts.SettingsFile == "" {
		return "", false
	}
	rel, err := utils.RelativeSlashPath(projectsDir, d.opts.SettingsFile)
	if err != nil || rel == "." || strings.HasPrefix(rel, "../") || rel == ".." || filepath.IsAbs(rel) {
		return "", false
	}
	return rel, true
}

// ParseInvokerTest splits an invokerTest value into include and exclude
// patterns. Entries starting with '!' are excludes. A bare name selects
// the directory of that name.
func ParseInvokerTest(value string) (includes, excludes []string) {
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if strings.HasPrefix(token, "!") {
			if p := strings.TrimSpace(token[1:]); p != "" {
				excludes = append(excludes, p)
			}
			continue
		}
		includes = append(includes, token)
	}
	return includes, excludes
}
