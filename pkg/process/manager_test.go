package process

import (
	"bytes"
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/invoker/pkg/logger"
)

func TestManager_TracksRunningJobs(t *testing.T) {
	m := NewManager(logger.NewNopLogger())

	m.JobStarted("it0002/pom.xml")
	m.JobStarted("it0001/pom.xml")
	assert.Equal(t, []string{"it0001/pom.xml", "it0002/pom.xml"}, m.Running())

	m.JobFinished("it0002/pom.xml")
	assert.Equal(t, []string{"it0001/pom.xml"}, m.Running())
}

func TestManager_FirstSignalWaitsSecondExits(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(logger.CreateLoggerWithOutput("", "info", &buf))

	exitCode := -1
	m.exit = func(code int) { exitCode = code }

	var order []int
	m.RegisterShutdownHandler(func() { order = append(order, 1) })
	m.RegisterShutdownHandler(func() { order = append(order, 2) })

	m.JobStarted("it0001/pom.xml")
	m.HandleSignal(syscall.SIGINT)

	assert.Equal(t, -1, exitCode, "the first signal must not exit")
	assert.Equal(t, []int{2, 1}, order)
	assert.Contains(t, buf.String(), "waiting for 1 running jobs")
	assert.Contains(t, buf.String(), "it0001/pom.xml")

	m.HandleSignal(syscall.SIGINT)
	assert.Equal(t, ExitCodeInterrupted, exitCode)
	assert.Equal(t, []int{2, 1}, order, "handlers run once")
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(logger.NewNopLogger())

	var beats, shutdowns int32
	m.SetHeartbeat(10*time.Millisecond, func() { atomic.AddInt32(&beats, 1) })
	m.RegisterShutdownHandler(func() { atomic.AddInt32(&shutdowns, 1) })

	m.Start(context.Background())
	require.True(t, m.running)

	m.sigChan <- syscall.SIGTERM
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&shutdowns) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&beats) > 0 }, time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.running)
	m.Stop()
}

func TestManager_LogRunning(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(logger.CreateLoggerWithOutput("", "info", &buf))

	heartbeat := m.LogRunning()
	heartbeat()
	assert.Empty(t, buf.String())

	m.JobStarted("it0003/pom.xml")
	heartbeat()
	assert.Contains(t, buf.String(), "Still running: it0003/pom.xml")
}
