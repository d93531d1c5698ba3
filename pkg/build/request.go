// Package build forks the build tool for one invocation of a job.
package build

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/poltergeist/invoker/pkg/properties"
)

// DefaultExecutable is used when no build tool is configured
const DefaultExecutable = "mvn"

// Request describes one forked build. It is built per invocation and not
// retained once the process exited.
type Request struct {
	BaseDirectory string
	// PomFile is passed with -f; empty for POM-less jobs.
	PomFile    string
	Goals      []string
	Profiles   []string
	Properties map[string]string

	LocalRepository string
	SettingsFile    string

	ShowErrors      bool
	Debug           bool
	ShowVersion     bool
	NonRecursive    bool
	Offline         bool
	FailureBehavior properties.FailureBehavior

	Executable  string
	MavenHome   string
	JavaHome    string
	MavenOpts   string
	Environment map[string]string

	Timeout time.Duration
}

// Command returns the executable and the leading arguments that belong to
// it. The executable is split shell-style, so "./mvnw -q" works.
func (r *Request) Command() (string, []string, error) {
	executable := r.Executable
	if strings.TrimSpace(executable) == "" {
		executable = DefaultExecutable
	}

	parts, err := shlex.Split(executable)
	if err != nil {
		return "", nil, fmt.Errorf("invalid build executable %q: %w", executable, err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("invalid build executable %q", executable)
	}

	name := parts[0]
	hasDir := strings.ContainsAny(name, `/\`)
	switch {
	case filepath.IsAbs(name):
	case hasDir:
		name = filepath.Join(r.BaseDirectory, name)
	case r.MavenHome != "":
		name = filepath.Join(r.MavenHome, "bin", name)
	}
	return name, parts[1:], nil
}

// Args returns the build tool arguments for this request
func (r *Request) Args() []string {
	args := []string{"-B"}

	if r.PomFile != "" {
		args = append(args, "-f", r.PomFile)
	}
	if r.SettingsFile != "" {
		args = append(args, "-s", r.SettingsFile)
	}
	if r.LocalRepository != "" {
		args = append(args, "-Dmaven.repo.local="+r.LocalRepository)
	}
	if r.ShowErrors {
		args = append(args, "-e")
	}
	if r.Debug {
		args = append(args, "-X")
	}
	if r.ShowVersion {
		args = append(args, "-V")
	}
	if r.NonRecursive {
		args = append(args, "-N")
	}
	if r.Offline {
		args = append(args, "-o")
	}

	switch r.FailureBehavior {
	case properties.FailFast:
		args = append(args, "--fail-fast")
	case properties.FailAtEnd:
		args = append(args, "--fail-at-end")
	case properties.FailNever:
		args = append(args, "--fail-never")
	}

	if len(r.Profiles) > 0 {
		args = append(args, "-P", strings.Join(r.Profiles, ","))
	}

	keys := make([]string, 0, len(r.Properties))
	for k := range r.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("-D%s=%s", k, r.Properties[k]))
	}

	return append(args, r.Goals...)
}

// Env returns the process environment: the current environment, then the
// configured variables, then MAVEN_OPTS, JAVA_HOME and M2_HOME. Later
// entries win.
func (r *Request) Env() []string {
	env := os.Environ()

	keys := make([]string, 0, len(r.Environment))
	for k := range r.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+r.Environment[k])
	}

	if r.MavenOpts != "" {
		env = append(env, "MAVEN_OPTS="+r.MavenOpts)
	}
	if r.JavaHome != "" {
		env = append(env, "JAVA_HOME="+r.JavaHome)
	}
	if r.MavenHome != "" {
		env = append(env, "M2_HOME="+r.MavenHome)
	}
	return env
}

// CommandLine renders the full command for logs
func (r *Request) CommandLine() string {
	name, pre, err := r.Command()
	if err != nil {
		return r.Executable
	}
	parts := append([]string{name}, pre...)
	parts = append(parts, r.Args()...)
	for i, p := range parts {
		if strings.ContainsAny(p, " \t\"'") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	return strings.Join(parts, " ")
}
