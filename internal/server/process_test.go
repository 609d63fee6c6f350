//go:build !windows

package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessManagerConsole(t *testing.T) {
	pm := NewProcessManager(ProcessConfig{
		Executable:  "sh",
		Args:        []string{"-c", `echo ready; while read line; do echo "got $line"; [ "$line" = stop ] && exit 0; done`},
		WorkDir:     t.TempDir(),
		StopTimeout: 2 * time.Second,
	})

	sink := &lineSink{}
	require.NoError(t, pm.Start(context.Background(), sink.add))
	assert.True(t, pm.IsRunning())
	assert.NotZero(t, pm.PID())
	assert.Error(t, pm.Start(context.Background(), sink.add))

	waitLines(t, sink, []string{"ready"})
	require.NoError(t, pm.WriteLine("list"))
	waitLines(t, sink, []string{"ready", "got list"})

	require.NoError(t, pm.Stop())
	select {
	case <-pm.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.False(t, pm.IsRunning())
	assert.Zero(t, pm.PID())
	assert.Equal(t, 0, pm.ExitCode())
	assert.Error(t, pm.WriteLine("list"))
}

func TestProcessManagerStopKillsStuckProcess(t *testing.T) {
	pm := NewProcessManager(ProcessConfig{
		Executable:  "sh",
		Args:        []string{"-c", "trap '' TERM; while true; do sleep 1; done"},
		StopTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, pm.Start(context.Background(), nil))
	require.NoError(t, pm.Stop())

	select {
	case <-pm.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process was not killed")
	}
	assert.False(t, pm.IsRunning())
}

func TestProcessManagerNotRunning(t *testing.T) {
	pm := NewProcessManager(ProcessConfig{Executable: "sh"})
	assert.NoError(t, pm.Stop())
	assert.NoError(t, pm.Kill())
	assert.Zero(t, pm.PID())
	_, ok := pm.Occupation()
	assert.False(t, ok)
}
