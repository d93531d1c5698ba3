// Package report writes and reads BUILD-<job>.xml files and renders run
// reports.
package report

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/poltergeist/invoker/pkg/types"
	"github.com/poltergeist/invoker/pkg/utils"
)

// SummaryFileName is the plain-text list of unsuccessful jobs
const SummaryFileName = "invoker-summary.txt"

const (
	filePrefix = "BUILD-"
	fileSuffix = ".xml"
)

var nameReplacer = strings.NewReplacer("/", "_", "\\", "_", " ", "_")

// FileName returns the report file name for a job path
func FileName(project string) string {
	name := nameReplacer.Replace(project)
	name = strings.TrimSuffix(name, "_pom.xml")
	return filePrefix + name + fileSuffix
}

// Store reads and writes reports in one directory
type Store struct {
	fsu *utils.FileSystemUtils
	dir string
}

// NewStore creates a store for dir. A nil fs means the OS filesystem.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fsu: utils.NewFileSystemUtils(fs), dir: dir}
}

// Dir returns the reports directory
func (s *Store) Dir() string {
	return s.dir
}

// Write writes the report of one finished job and returns its path
func (s *Store) Write(job *types.BuildJob) (string, error) {
	data, err := xml.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report for %s: %w", job.Project, err)
	}

	path := filepath.Join(s.dir, FileName(job.Project))
	content := append([]byte(xml.Header), data...)
	content = append(content, '\n')
	if err := s.fsu.WriteFile(path, content); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return path, nil
}

// Read parses one report file
func (s *Store) Read(path string) (*types.BuildJob, error) {
	data, err := s.fsu.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}

	job := &types.BuildJob{}
	if err := xml.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	if job.Project == "" {
		return nil, fmt.Errorf("report %s has no project", path)
	}

	// unknown values are left as they are; session validation turns them
	// into errors
	if r, err := types.ParseResult(string(job.Result)); err == nil {
		job.Result = r
	}
	if t, err := types.ParseJobType(string(job.Type)); err == nil {
		job.Type = t
	}
	return job, nil
}

// ReadAll parses every BUILD-*.xml file in the directory, sorted by
// project. A missing directory yields no jobs.
func (s *Store) ReadAll() ([]*types.BuildJob, error) {
	if !s.fsu.IsDirectory(s.dir) {
		return nil, nil
	}

	paths, err := afero.Glob(s.fsu.Fs(), filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	jobs := make([]*types.BuildJob, 0, len(paths))
	for _, path := range paths {
		job, err := s.Read(path)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Project < jobs[j].Project })
	return jobs, nil
}

// WriteSummaryFile writes one line per unsuccessful job and returns the
// file path.
func (s *Store) WriteSummaryFile(jobs []*types.BuildJob) (string, error) {
	var b strings.Builder
	for _, job := range jobs {
		if job.Result == types.ResultSuccess {
			continue
		}
		fmt.Fprintf(&b, "%s [%s]  %s\n", strings.ToUpper(string(job.Result)), job.Project, job.FailureMessage)
	}

	path := filepath.Join(s.dir, SummaryFileName)
	if err := s.fsu.WriteFile(path, []byte(b.String())); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return path, nil
}
