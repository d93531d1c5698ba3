package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/invoker/pkg/session"
	"github.com/poltergeist/invoker/pkg/types"
)

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

// parse returns the named subcommand with args parsed, ready for loadConfig
func parse(t *testing.T, c *CLI, args ...string) (*CLI, func() (*types.InvokerConfig, error)) {
	t.Helper()
	cmd, rest, err := c.rootCmd.Find(args)
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(rest))
	return c, func() (*types.InvokerConfig, error) { return c.loadConfig(cmd) }
}

func TestLoadConfig_Defaults(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer
	_, load := parse(t, NewCLIWithOutput(nil, &out, &out), "run", "--project-root", root)

	cfg, err := load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "it"), cfg.ProjectsDirectory)
	assert.Equal(t, []string{"package"}, cfg.Goals)
	assert.Equal(t, 1, cfg.ParallelThreads)
	assert.Equal(t, types.LogLevelInfo, cfg.Logging.Level)
}

func TestLoadConfig_Precedence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "invoker.yaml"), `
projectsDirectory: it
parallelThreads: 2
goals: [verify]
ignoreFailures: true
`, 0o644)
	t.Setenv("INVOKER_PARALLEL_THREADS", "3")
	t.Setenv("INVOKER_METRICS_FILE", "target/metrics.prom")

	var out bytes.Buffer
	c, load := parse(t, NewCLIWithOutput(nil, &out, &out),
		"run", "--project-root", root, "--goal", "clean", "--goal", "install", "-v")

	cfg, err := load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "it"), cfg.ProjectsDirectory, "file value")
	assert.Equal(t, 3, cfg.ParallelThreads, "env over file")
	assert.Equal(t, []string{"clean", "install"}, cfg.Goals, "flag over file")
	assert.True(t, cfg.IgnoreFailures)
	assert.Equal(t, filepath.Join(root, "target", "metrics.prom"), cfg.MetricsFile)
	assert.Equal(t, types.LogLevelDebug, cfg.Logging.Level)
	assert.Equal(t, filepath.Join(root, "invoker.yaml"), c.configUsed)
}

func TestLoadConfig_FlagOverEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv("INVOKER_PARALLEL_THREADS", "3")

	var out bytes.Buffer
	_, load := parse(t, NewCLIWithOutput(nil, &out, &out), "run", "--project-root", root, "-T", "5", "--log-level", "warn")

	cfg, err := load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ParallelThreads)
	assert.Equal(t, types.LogLevelWarn, cfg.Logging.Level)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "ci", "settings.json")
	writeFile(t, path, `{"projectsDirectory": "tests", "invokerTest": "it0001"}`, 0o644)

	var out bytes.Buffer
	_, load := parse(t, NewCLIWithOutput(nil, &out, &out), "run", "--project-root", root, "--config", path)

	cfg, err := load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "tests"), cfg.ProjectsDirectory)
	assert.Equal(t, "it0001", cfg.InvokerTest)
}

func TestLoadConfig_Invalid(t *testing.T) {
	root := t.TempDir()

	var out bytes.Buffer
	_, load := parse(t, NewCLIWithOutput(nil, &out, &out), "run", "--project-root", root, "-T", "0")
	_, err := load()
	assert.ErrorContains(t, err, "parallelThreads")

	writeFile(t, filepath.Join(root, "invoker.toml"), "parallelThreads = 2\n", 0o644)
	_, load = parse(t, NewCLIWithOutput(nil, &out, &out), "run", "--project-root", root)
	_, err = load()
	assert.ErrorContains(t, err, "unsupported config file")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cfg := NewConfig()
	cfg.Version = "1.4.0"

	require.NoError(t, NewCLIWithOutput(cfg, &out, &out).Execute([]string{"version"}))
	assert.Equal(t, "invoker v1.4.0\n", out.String())
}

const fakeMaven = `#!/bin/sh
case "$*" in
  *--version*) echo "Apache Maven 3.9.6"; exit 0 ;;
esac
echo "[INFO] args: $*"
echo "[INFO] BUILD SUCCESS"
exit 0
`

func setupProjects(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake build tool is a shell script")
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bin", "mvn"), fakeMaven, 0o755)
	writeFile(t, filepath.Join(root, "invoker.yaml"), fmt.Sprintf(`
mavenExecutable: %q
javaVersion: "17"
localRepositoryPath: target/repo
`, filepath.Join(root, "bin", "mvn")), 0o644)

	it := filepath.Join(root, "src", "it")
	writeFile(t, filepath.Join(it, "it0001", "pom.xml"), "<project/>", 0o644)
	writeFile(t, filepath.Join(it, "it0002", "pom.xml"), "<project/>", 0o644)
	writeFile(t, filepath.Join(it, "it0002", "invoker.properties"), "invoker.buildResult = failure\n", 0o644)
	writeFile(t, filepath.Join(it, "it0003", "pom.xml"), "<project/>", 0o644)
	writeFile(t, filepath.Join(it, "it0003", "selector.js"), "false", 0o644)
	return root
}

func TestRunVerifyReport(t *testing.T) {
	root := setupProjects(t)

	var out bytes.Buffer
	err := NewCLIWithOutput(nil, &out, &out).Execute([]string{"run", "--project-root", root})
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrBuildFailures), "unexpected error %v", err)
	assert.Contains(t, out.String(), "Passed: 1, Failed: 1, Errors: 0, Skipped: 1")

	log, readErr := os.ReadFile(filepath.Join(root, "src", "it", "it0001", "build.log"))
	require.NoError(t, readErr)
	assert.Contains(t, string(log), "BUILD SUCCESS")

	out.Reset()
	err = NewCLIWithOutput(nil, &out, &out).Execute([]string{"verify", "--project-root", root})
	assert.True(t, errors.Is(err, session.ErrBuildFailures))
	assert.Contains(t, out.String(), "it0002/pom.xml")

	out.Reset()
	require.NoError(t, NewCLIWithOutput(nil, &out, &out).Execute([]string{"verify", "--project-root", root, "--ignore-failures"}))

	out.Reset()
	require.NoError(t, NewCLIWithOutput(nil, &out, &out).Execute([]string{"report", "--project-root", root, "-o", "json"}))
	var doc reportDocument
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, 3, doc.Count)
	assert.Equal(t, 1, doc.Successes)
	assert.Equal(t, 1, doc.Skipped)
	require.Len(t, doc.Jobs, 3)
	assert.Equal(t, types.ResultFailureBuild, doc.Jobs[1].Result)

	out.Reset()
	require.NoError(t, NewCLIWithOutput(nil, &out, &out).Execute([]string{"report", "--project-root", root}))
	assert.Contains(t, out.String(), "it0003/pom.xml")

	err = NewCLIWithOutput(nil, &out, &out).Execute([]string{"report", "--project-root", root, "-o", "xml"})
	assert.ErrorContains(t, err, "unknown format")
}

func TestRun_IgnoreFailures(t *testing.T) {
	root := setupProjects(t)

	var out bytes.Buffer
	err := NewCLIWithOutput(nil, &out, &out).Execute([]string{"run", "--project-root", root, "--ignore-failures", "-T", "2"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "ignoring failures")
}

func TestVerify_NoReports(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, NewCLIWithOutput(nil, &out, &out).Execute([]string{"verify", "--project-root", root}))
	assert.Contains(t, out.String(), "No reports found")
}

func TestInstallCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pom.xml"), `<project>
  <groupId>org.example</groupId>
  <artifactId>widget</artifactId>
  <version>0.1</version>
</project>`, 0o644)
	writeFile(t, filepath.Join(root, "target", "widget-0.1.jar"), "PK", 0o644)

	var out bytes.Buffer
	err := NewCLIWithOutput(nil, &out, &out).Execute([]string{
		"install", "--project-root", root,
		"--file", "target/widget-0.1.jar",
		"--local-repository", "target/repo",
	})
	require.NoError(t, err)

	dir := filepath.Join(root, "target", "repo", "org", "example", "widget", "0.1")
	assert.FileExists(t, filepath.Join(dir, "widget-0.1.pom"))
	assert.FileExists(t, filepath.Join(dir, "widget-0.1.jar"))
}
