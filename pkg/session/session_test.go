package session_test

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/session"
	"github.com/poltergeist/invoker/pkg/types"
)

func init() {
	color.NoColor = true
}

func job(project string, result types.Result, message string) *types.BuildJob {
	j := types.NewBuildJob(project, types.JobTypeNormal)
	j.Result = result
	j.FailureMessage = message
	return j
}

func mixedSession() *session.Session {
	return session.New(
		job("it0001/pom.xml", types.ResultSuccess, ""),
		job("it0002/pom.xml", types.ResultFailureBuild, "The build exited with code 1."),
		job("it0003/pom.xml", types.ResultSkipped, "Skipped due to OS"),
		job("it0004/pom.xml", types.ResultError, "cannot fork"),
		job("it0005/pom.xml", types.ResultFailurePostHook, "The post-build script returned false."),
		job("it0006/pom.xml", types.ResultSuccess, ""),
	)
}

func TestSession_Partitions(t *testing.T) {
	s := mixedSession()

	passed, failed, errored, skipped := s.Counts()
	assert.Equal(t, 2, passed)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, errored)
	assert.Equal(t, 1, skipped)

	assert.Equal(t, "it0003/pom.xml", s.Skipped()[0].Project)
	assert.Equal(t, "it0004/pom.xml", s.Errors()[0].Project)

	// partitions follow later additions
	s.AddJob(job("it0007/pom.xml", types.ResultSkipped, ""))
	assert.Len(t, s.Skipped(), 2)
	assert.Len(t, s.Jobs(), 7)
}

func TestSession_ConcurrentAdd(t *testing.T) {
	s := session.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddJob(job("it/pom.xml", types.ResultSuccess, ""))
			_ = s.Successful()
		}()
	}
	wg.Wait()

	passed, _, _, _ := s.Counts()
	assert.Equal(t, 50, passed)
}

func TestSession_Validate(t *testing.T) {
	s := session.New(
		job("it0001/pom.xml", types.ResultSuccess, ""),
		job("it0002/pom.xml", "", ""),
		job("it0003/pom.xml", "exploded", ""),
	)

	assert.Equal(t, 2, s.Validate())
	_, _, errored, _ := s.Counts()
	assert.Equal(t, 2, errored)
	assert.Equal(t, "The job did not record a result.", s.Errors()[0].FailureMessage)
	assert.Equal(t, 0, s.Validate())
}

func TestSession_Summary(t *testing.T) {
	summary := mixedSession().Summary()

	for _, want := range []string{
		"Build Summary:\n  Passed: 2, Failed: 2, Errors: 1, Skipped: 1\n",
		"The following builds were skipped:\n*  it0003/pom.xml: Skipped due to OS\n",
		"The following builds finished with error:\n*  it0004/pom.xml: cannot fork\n",
		"The following builds failed:\n*  it0002/pom.xml: The build exited with code 1.\n*  it0005/pom.xml",
	} {
		assert.Contains(t, summary, want)
	}
	assert.True(t, strings.HasPrefix(summary, "-------------------------------------------------\n"))
}

func TestSession_LogSummary(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	mixedSession().LogSummary(log, true)
	assert.Empty(t, buf.String())

	mixedSession().LogSummary(log, false)
	assert.Contains(t, buf.String(), "Passed: 2, Failed: 2, Errors: 1, Skipped: 1")
	assert.Contains(t, buf.String(), "Total time:")
}

func TestSession_HandleFailures(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	err := mixedSession().HandleFailures(log, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrBuildFailures))
	assert.Contains(t, err.Error(), "2 builds failed and 1 build errored")

	assert.NoError(t, mixedSession().HandleFailures(log, true))
	assert.Contains(t, buf.String(), "ignoring failures")

	clean := session.New(job("it0001/pom.xml", types.ResultSuccess, ""), job("it0002/pom.xml", types.ResultSkipped, ""))
	assert.NoError(t, clean.HandleFailures(log, false))
}
