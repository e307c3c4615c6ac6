package browserpool

import (
	"bufio"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeLoopbackPort_ReturnsUsablePort(t *testing.T) {
	port, err := freeLoopbackPort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	// A second call also succeeds: the listener from the first call was
	// already closed, so the probe does not keep the port bound.
	port2, err := freeLoopbackPort()
	require.NoError(t, err)
	assert.Greater(t, port2, 0)
}

func TestProcessExists(t *testing.T) {
	assert.True(t, processExists(os.Getpid()))

	// PID 0 is never a real user process on Linux.
	assert.False(t, processExists(0))
}

func TestReadDebuggerURL_FindsPrefixedLine(t *testing.T) {
	input := "Starting up\nDevTools listening on ws://127.0.0.1:9222/devtools/browser/abc-123\n"
	r := bufio.NewReader(strings.NewReader(input))

	url, err := readDebuggerURL(r, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc-123", url)
}

func TestReadDebuggerURL_StreamEndsWithoutURL(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("some startup noise\nmore noise\n"))

	_, err := readDebuggerURL(r, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser exited before reporting a debugger URL")
}

func TestReadDebuggerURL_TimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := bufio.NewReader(pr)

	_, err := readDebuggerURL(r, 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestReadProcMemoryKB_ReadsOwnProcess(t *testing.T) {
	kb, err := readProcMemoryKB(os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, kb, uint64(0))
}

func TestReadProcMemoryKB_UnknownPidIsAnError(t *testing.T) {
	_, err := readProcMemoryKB(-1)
	require.Error(t, err)
}

func TestReadProcCPUTicks_ReadsOwnProcess(t *testing.T) {
	utime, stime, err := readProcCPUTicks(os.Getpid())
	require.NoError(t, err)
	// Can't assert a nonzero value deterministically (a fresh test process
	// may not have burned a whole tick yet), just that parsing succeeded.
	_ = utime
	_ = stime
}

func TestReadProcCPUTicks_UnknownPidIsAnError(t *testing.T) {
	_, _, err := readProcCPUTicks(-1)
	require.Error(t, err)
}

func TestInstance_SampleResources_AccumulatesAcrossTicks(t *testing.T) {
	inst := &Instance{ID: "self", PID: os.Getpid()}

	last := inst.sampleResources(nil)
	require.NotNil(t, last)
	mem, _ := inst.ResourceUsage()
	assert.Greater(t, mem, 0.0)

	time.Sleep(10 * time.Millisecond)
	last2 := inst.sampleResources(last)
	require.NotNil(t, last2)
	mem2, cpu2 := inst.ResourceUsage()
	assert.Greater(t, mem2, 0.0)
	assert.GreaterOrEqual(t, cpu2, 0.0)
}
