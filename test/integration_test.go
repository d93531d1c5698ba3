//go:build integration

package integration_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/invoker/pkg/config"
	"github.com/poltergeist/invoker/pkg/invoker"
	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/report"
	"github.com/poltergeist/invoker/pkg/session"
	"github.com/poltergeist/invoker/pkg/types"
)

// fakeMaven appends the job directory to an order file and fails in
// directories holding a "broken" marker
const fakeMaven = `#!/bin/sh
case "$*" in
  *--version*) echo "Apache Maven 3.9.6"; exit 0 ;;
esac
echo "$(basename "$PWD")" >> %q
echo "[INFO] args: $*"
if [ -f broken ]; then
  echo "[ERROR] BUILD FAILURE"
  exit 1
fi
echo "[INFO] BUILD SUCCESS"
`

func write(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

// TestEndToEndRun runs real processes through the whole pipeline: setup
// jobs first, hooks, reports and verification of the written reports.
func TestEndToEndRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("fake build tool is a shell script")
	}

	root := t.TempDir()
	orderFile := filepath.Join(root, "order.txt")
	mvn := filepath.Join(root, "bin", "mvn")
	write(t, mvn, fmt.Sprintf(fakeMaven, orderFile), 0o755)

	manager := config.NewManager()
	cfg := manager.GetDefaultConfig()
	cfg.MavenExecutable = mvn
	cfg.JavaVersion = "17"
	cfg.LocalRepositoryPath = "target/repo"
	cfg.ParallelThreads = 3
	cfg.MetricsFile = "target/metrics.prom"
	require.NoError(t, manager.ValidateConfig(cfg))
	require.NoError(t, manager.ResolvePaths(cfg, root))

	it := cfg.ProjectsDirectory
	write(t, filepath.Join(it, "setup-parent", "pom.xml"), "<project/>", 0o644)
	for _, name := range []string{"it0001", "it0002", "it0003"} {
		write(t, filepath.Join(it, name, "pom.xml"), "<project/>", 0o644)
	}
	write(t, filepath.Join(it, "it0001", "postbuild.lua"), `
local f = io.open(basedir .. "/build.log", "r")
local log = f:read("*a")
f:close()
return string.find(log, "BUILD SUCCESS") ~= nil
`, 0o644)
	write(t, filepath.Join(it, "it0002", "broken"), "", 0o644)
	write(t, filepath.Join(it, "it0003", "invoker.properties"), "invoker.os.family = !unix\n", 0o644)
	write(t, filepath.Join(it, "it0004", "pom.xml"), "<project/>", 0o644)
	write(t, filepath.Join(it, "it0004", "invoker.properties"), "invoker.goals = clean\ninvoker.goals.2 = verify\n", 0o644)

	inv := invoker.New(cfg, logger.NewNopLogger())
	sess, err := inv.Run(context.Background())
	require.NoError(t, err)

	results := map[string]types.Result{}
	for _, job := range sess.Jobs() {
		results[job.Project] = job.Result
	}
	assert.Equal(t, map[string]types.Result{
		"setup-parent/pom.xml": types.ResultSuccess,
		"it0001/pom.xml":       types.ResultSuccess,
		"it0002/pom.xml":       types.ResultFailureBuild,
		"it0003/pom.xml":       types.ResultSkipped,
		"it0004/pom.xml":       types.ResultSuccess,
	}, results)

	order, err := os.ReadFile(orderFile)
	require.NoError(t, err)
	lines := strings.Fields(string(order))
	require.NotEmpty(t, lines)
	assert.Equal(t, "setup-parent", lines[0], "setup jobs run before the others")
	assert.NotContains(t, lines, "it0003")
	assert.Equal(t, 2, strings.Count(string(order), "it0004"), "one build per invocation")

	failure := errors.Is(sess.HandleFailures(logger.NewNopLogger(), false), session.ErrBuildFailures)
	assert.True(t, failure)

	reports, err := report.NewStore(nil, cfg.ReportsDirectory).ReadAll()
	require.NoError(t, err)
	assert.Len(t, reports, 5)
	verified := session.New(reports...)
	passed, failed, errored, skipped := verified.Counts()
	assert.Equal(t, []int{3, 1, 0, 1}, []int{passed, failed, errored, skipped})

	metrics, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "invoker_parallel_threads 3")
}
