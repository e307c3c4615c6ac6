// Package browserpool owns browser subprocess lifecycle: launching,
// health-watching, and tearing down individual browser instances, and the
// capacity-bounded pool that multiplexes them across sessions.
package browserpool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	apxerrors "sessionhost/errors"
	"sessionhost/logger"
)

// clockTicksPerSecond is USER_HZ on every Linux target this runs on (it has
// been 100 on x86/arm64 for the life of /proc/pid/stat); there is no portable
// sysconf(_SC_CLK_TCK) in the standard library to read it at runtime.
const clockTicksPerSecond = 100

// Instance owns exactly one live browser process: its handle, its debugger
// endpoint, its scoped user-data directory, and the poller/watchdog tasks
// that must run for the duration of its life.
type Instance struct {
	ID          string
	DebuggerURL string
	PID         int
	UserDataDir string

	process    *os.Process
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	pollerDone chan struct{}
	watchdogWG sync.WaitGroup

	// container-launcher bookkeeping; empty for a process-launched instance.
	containerID string
	container   *ContainerLauncher

	resourceMu sync.Mutex
	memoryMB   float64
	cpuPercent float64

	closeOnce sync.Once
}

// resourceSample is one /proc/<pid>/stat reading, kept around so the next
// tick can turn the delta in CPU ticks into a percentage.
type resourceSample struct {
	utime     uint64
	stime     uint64
	sampledAt time.Time
}

// ResourceUsage returns the watchdog's most recent memory/CPU reading. Zero
// values mean no sample has landed yet (container-launched instances never
// populate this; their /proc lives in a different namespace).
func (i *Instance) ResourceUsage() (memoryMB, cpuPercent float64) {
	i.resourceMu.Lock()
	defer i.resourceMu.Unlock()
	return i.memoryMB, i.cpuPercent
}

func (i *Instance) setResourceUsage(memoryMB, cpuPercent float64) {
	i.resourceMu.Lock()
	i.memoryMB = memoryMB
	i.cpuPercent = cpuPercent
	i.resourceMu.Unlock()
}

// LaunchOptions configures a process-launcher Launch call.
type LaunchOptions struct {
	BrowserBinary    string
	InDocker         bool
	WatchdogInterval time.Duration
}

// DefaultBrowserBinary is used when the configuration leaves BrowserBinary
// empty. It matches the binary name chromedp and most headless-shell
// images install on PATH.
const DefaultBrowserBinary = "chromium"

// Launch starts a new browser subprocess and returns a ready-to-proxy
// Instance, following spec.md §4.1's launch algorithm: scoped temp dir,
// free port probe, flag construction (including the IN_DOCKER branch),
// spawn, debugger-URL capture, poller start, watchdog start.
func Launch(ctx context.Context, id string, opts LaunchOptions) (*Instance, error) {
	userDataDir, err := os.MkdirTemp("", "sessionhost-profile-")
	if err != nil {
		return nil, apxerrors.E(apxerrors.Internal, "failed to create user-data directory", err)
	}

	port, err := freeLoopbackPort()
	if err != nil {
		os.RemoveAll(userDataDir)
		return nil, apxerrors.E(apxerrors.Internal, "NoFreePort", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", userDataDir),
		"--no-sandbox",
	}
	if opts.InDocker {
		args = append(args,
			"--headless=new",
			"--disable-gpu",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
		)
	}
	args = append(args, "about:blank")

	binary := opts.BrowserBinary
	if binary == "" {
		binary = DefaultBrowserBinary
	}

	launchCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(launchCtx, binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		os.RemoveAll(userDataDir)
		return nil, apxerrors.E(apxerrors.Internal, "LaunchFailed", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		cancel()
		os.RemoveAll(userDataDir)
		return nil, apxerrors.E(apxerrors.Internal, "LaunchFailed", err)
	}
	if cmd.Process == nil {
		cancel()
		_ = cmd.Wait()
		os.RemoveAll(userDataDir)
		return nil, apxerrors.E(apxerrors.Internal, "NoPid", fmt.Errorf("process did not report a PID"))
	}

	reader := bufio.NewReader(stdout)
	debuggerURL, err := readDebuggerURL(reader, 20*time.Second)
	if err != nil {
		cancel()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		os.RemoveAll(userDataDir)
		return nil, apxerrors.E(apxerrors.Internal, "LaunchFailed", err)
	}

	inst := &Instance{
		ID:          id,
		DebuggerURL: debuggerURL,
		PID:         cmd.Process.Pid,
		UserDataDir: userDataDir,
		process:     cmd.Process,
		cmd:         cmd,
		cancel:      cancel,
		pollerDone:  make(chan struct{}),
	}

	inst.startPoller(reader)

	interval := opts.WatchdogInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	inst.startWatchdog(interval)

	return inst, nil
}

// startPoller consumes the browser's stdout (its control channel, once the
// debugger-URL line has already been drained) until the stream ends or
// errs. spec.md requires this to run before any proxy session is attempted;
// an error here is logged and only terminates the poller itself.
func (i *Instance) startPoller(stdout *bufio.Reader) {
	go func() {
		defer close(i.pollerDone)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			logger.Debug("browser output", zap.String("id", i.ID), zap.String("line", scanner.Text()))
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("poller task ended with error", zap.String("id", i.ID), zap.Error(err))
		}
	}()
}

// startWatchdog samples the process's liveness, memory, and CPU every
// interval until it disappears, mirroring the Rust watchdog_loop's
// sysinfo-based sampling. Samples are logged at debug level and exposed via
// Pool.ResourceUsage / the /metrics gauges; nothing here acts on a sample —
// it is observation only, per spec.md §4.1 step 7 / §9.
func (i *Instance) startWatchdog(interval time.Duration) {
	i.watchdogWG.Add(1)
	go func() {
		defer i.watchdogWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var last *resourceSample
		for range ticker.C {
			if !processExists(i.PID) {
				logger.Debug("watchdog observed process exit", zap.String("id", i.ID), zap.Int("pid", i.PID))
				return
			}
			last = i.sampleResources(last)
		}
	}()
}

// sampleResources reads /proc/<pid>/status and /proc/<pid>/stat, updates the
// instance's last-known memory/CPU reading, and returns the stat sample to
// diff against next tick. CPU percent needs two samples (ticks consumed vs.
// wall time elapsed between them), so the first tick after launch always
// reports 0 for CPU.
func (i *Instance) sampleResources(last *resourceSample) *resourceSample {
	now := time.Now()

	if kb, err := readProcMemoryKB(i.PID); err == nil {
		i.setResourceUsage(float64(kb)/1024.0, i.cpuPercentLocked())
	} else {
		logger.Debug("watchdog memory sample failed", zap.String("id", i.ID), zap.Error(err))
	}

	utime, stime, err := readProcCPUTicks(i.PID)
	if err != nil {
		logger.Debug("watchdog cpu sample failed", zap.String("id", i.ID), zap.Error(err))
		return last
	}
	current := &resourceSample{utime: utime, stime: stime, sampledAt: now}

	if last != nil {
		elapsed := now.Sub(last.sampledAt).Seconds()
		if elapsed > 0 {
			ticks := float64((utime - last.utime) + (stime - last.stime))
			cpu := (ticks / clockTicksPerSecond) / elapsed * 100.0
			mem, _ := i.ResourceUsage()
			i.setResourceUsage(mem, cpu)
			logger.Debug("watchdog sampled resources", zap.String("id", i.ID), zap.Float64("memory_mb", mem), zap.Float64("cpu_percent", cpu))
		}
	}
	return current
}

// cpuPercentLocked returns the last-sampled CPU percent without discarding
// it, so a memory-only read doesn't zero out the other field.
func (i *Instance) cpuPercentLocked() float64 {
	_, cpu := i.ResourceUsage()
	return cpu
}

// startContainerWatchdog samples container liveness the same way
// startWatchdog samples a local process, for container-launched instances.
func (i *Instance) startContainerWatchdog(interval time.Duration) {
	i.watchdogWG.Add(1)
	go func() {
		defer i.watchdogWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			inspect, err := i.container.docker.ContainerInspect(context.Background(), i.containerID)
			if err != nil || !inspect.State.Running {
				logger.Debug("watchdog observed container exit", zap.String("id", i.ID))
				return
			}
		}
	}()
}

// Shutdown aborts the background tasks, force-kills the subprocess, and
// removes the temp directory. Idempotent and best-effort: individual
// failures never prevent reaching a terminal state.
func (i *Instance) Shutdown() {
	i.closeOnce.Do(func() {
		if i.cancel != nil {
			i.cancel()
		}
		if i.process != nil {
			_ = i.process.Kill()
		}
		if i.cmd != nil {
			_ = i.cmd.Wait()
		}
		if i.UserDataDir != "" {
			_ = os.RemoveAll(i.UserDataDir)
		}
		if i.container != nil && i.containerID != "" {
			i.container.destroy(i.containerID)
		}
	})
}

func readDebuggerURL(r *bufio.Reader, timeout time.Duration) (string, error) {
	type result struct {
		url string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		prefix := []byte("DevTools listening on")
		var accumulated bytes.Buffer
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				ch <- result{"", fmt.Errorf("browser exited before reporting a debugger URL:\n%s", accumulated.Bytes())}
				return
			}
			if bytes.HasPrefix(line, prefix) {
				ch <- result{string(bytes.TrimSpace(line[len(prefix):])), nil}
				return
			}
			accumulated.Write(line)
		}
	}()

	select {
	case res := <-ch:
		return res.url, res.err
	case <-time.After(timeout):
		return "", fmt.Errorf("timed out waiting for debugger URL")
	}
}

func freeLoopbackPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// readProcMemoryKB reads the VmRSS line out of /proc/<pid>/status. There is
// no gopsutil-style process-metrics dependency anywhere in this stack, and
// parsing /proc directly is the standard, dependency-free way Go programs
// read resident memory on Linux.
func readProcMemoryKB(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed VmRSS line: %q", line)
		}
		return strconv.ParseUint(fields[1], 10, 64)
	}
	return 0, fmt.Errorf("VmRSS not found in /proc/%d/status", pid)
}

// readProcCPUTicks reads the utime/stime fields (14th and 15th, 1-indexed)
// out of /proc/<pid>/stat, in clock ticks since the process started.
func readProcCPUTicks(pid int) (utime, stime uint64, err error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, 0, err
	}
	// the command name field can itself contain spaces and parens, so split
	// on the last ')' and tokenize only what follows it.
	closeParen := strings.LastIndexByte(string(data), ')')
	if closeParen < 0 {
		return 0, 0, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(string(data)[closeParen+1:])
	// fields[0] is state (3rd overall); utime is the 14th overall field, i.e.
	// fields[11] here, stime is the 15th, fields[12].
	if len(fields) < 13 {
		return 0, 0, fmt.Errorf("malformed /proc/%d/stat: too few fields", pid)
	}
	utime, err = strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	stime, err = strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return utime, stime, nil
}
