package report_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/invoker/pkg/report"
	"github.com/poltergeist/invoker/pkg/types"
)

const dir = "/work/target/invoker-reports"

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"it0001/pom.xml":       "BUILD-it0001.xml",
		"group/it 2/pom.xml":   "BUILD-group_it_2.xml",
		`win\it0003\pom.xml`:   "BUILD-win_it0003.xml",
		"pomless":              "BUILD-pomless.xml",
		"it0004/other-pom.xml": "BUILD-it0004_other-pom.xml.xml",
	}
	for project, want := range tests {
		assert.Equal(t, want, report.FileName(project), project)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := report.NewStore(fs, dir)

	job := &types.BuildJob{
		Project:        "it0001/pom.xml",
		Type:           types.JobTypeSetup,
		Result:         types.ResultFailurePreHook,
		Name:           "Seed repository",
		Description:    "Installs the parent <pom> & friends",
		FailureMessage: "The pre-build script returned false.",
	}
	job.SetElapsed(1234567 * time.Microsecond)

	path, err := store.Write(job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "BUILD-it0001.xml"), path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "<?xml"))
	assert.Contains(t, string(data), `time="1.235"`)

	got, err := store.Read(path)
	require.NoError(t, err)
	if diff := cmp.Diff(job, got, cmpopts.IgnoreFields(types.BuildJob{}, "XMLName")); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ReadAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := report.NewStore(fs, dir)

	for _, project := range []string{"it0002/pom.xml", "it0001/pom.xml"} {
		j := types.NewBuildJob(project, types.JobTypeNormal)
		j.Result = types.ResultSuccess
		_, err := store.Write(j)
		require.NoError(t, err)
	}
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	jobs, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "it0001/pom.xml", jobs[0].Project)
	assert.Equal(t, types.ResultSuccess, jobs[1].Result)
}

func TestStore_ReadAllMissingDirectory(t *testing.T) {
	jobs, err := report.NewStore(afero.NewMemMapFs(), "/none").ReadAll()
	assert.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestStore_ReadNormalizesAndRejects(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := report.NewStore(fs, dir)

	legacy := filepath.Join(dir, "BUILD-legacy.xml")
	require.NoError(t, afero.WriteFile(fs, legacy,
		[]byte(`<build-job project="legacy/pom.xml" result="SUCCESS" time="0.5"/>`), 0o644))
	job, err := store.Read(legacy)
	require.NoError(t, err)
	assert.Equal(t, types.ResultSuccess, job.Result)
	assert.Equal(t, types.JobTypeNormal, job.Type)

	broken := filepath.Join(dir, "BUILD-broken.xml")
	require.NoError(t, afero.WriteFile(fs, broken, []byte(`<build-job`), 0o644))
	_, err = store.Read(broken)
	assert.Error(t, err)

	anonymous := filepath.Join(dir, "BUILD-anonymous.xml")
	require.NoError(t, afero.WriteFile(fs, anonymous, []byte(`<build-job result="success"/>`), 0o644))
	_, err = store.Read(anonymous)
	assert.Error(t, err)
}

func TestStore_WriteSummaryFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := report.NewStore(fs, dir)

	jobs := []*types.BuildJob{
		{Project: "it0001/pom.xml", Result: types.ResultSuccess},
		{Project: "it0002/pom.xml", Result: types.ResultFailureBuild, FailureMessage: "The build exited with code 1."},
		{Project: "it0003/pom.xml", Result: types.ResultSkipped, FailureMessage: "Skipped due to OS"},
	}

	path, err := store.WriteSummaryFile(jobs)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	want := "FAILURE-BUILD [it0002/pom.xml]  The build exited with code 1.\n" +
		"SKIPPED [it0003/pom.xml]  Skipped due to OS\n"
	assert.Equal(t, want, string(data))
}

func TestSummarize(t *testing.T) {
	jobs := []*types.BuildJob{
		{Project: "a", Result: types.ResultSuccess, Time: 1},
		{Project: "b", Result: types.ResultSuccess, Time: 2},
		{Project: "c", Result: types.ResultSkipped, Time: 0},
		{Project: "d", Result: types.ResultError, Time: 1},
	}

	totals := report.Summarize(jobs)
	assert.Equal(t, 4, totals.Count)
	assert.Equal(t, 2, totals.Successes)
	assert.Equal(t, 1, totals.Failures)
	assert.Equal(t, 1, totals.Skipped)
	assert.InDelta(t, 66.67, totals.SuccessRate(), 0.01)
	assert.Equal(t, 4*time.Second, totals.TotalTime)
	assert.Equal(t, time.Second, totals.AverageTime())

	assert.Zero(t, report.Summarize(nil).SuccessRate())
}

func TestRender(t *testing.T) {
	jobs := []*types.BuildJob{
		{Project: "it0001/pom.xml", Type: types.JobTypeNormal, Result: types.ResultSuccess, Time: 1.5, Name: "Basic"},
		{Project: "it0002/pom.xml", Type: types.JobTypeNormal, Result: types.ResultFailureBuild, Time: 0.25, FailureMessage: "exit 1"},
	}

	var buf bytes.Buffer
	report.RenderSummary(&buf, jobs)
	report.RenderJobs(&buf, jobs)

	out := buf.String()
	for _, want := range []string{"SUCCESS RATE", "50.0%", "1.750s", "Basic", "it0002/pom.xml", "failure-build", "0.250s", "exit 1"} {
		assert.Contains(t, out, want)
	}
}
