package browserpool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	apxerrors "sessionhost/errors"
	"sessionhost/logger"
	"sessionhost/utils/recovery"
)

const debuggerContainerPort = "9222/tcp"

// ContainerLauncher launches one browser per Docker container instead of
// one per local subprocess, for hosts where the browser binary isn't
// installed on PATH but a Docker daemon is reachable.
type ContainerLauncher struct {
	docker *client.Client
	image  string
}

// NewContainerLauncher connects to the local Docker daemon.
func NewContainerLauncher(image string) (*ContainerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apxerrors.E(apxerrors.Internal, "failed to connect to docker daemon", err)
	}
	return &ContainerLauncher{docker: cli, image: image}, nil
}

// Close releases the underlying Docker client connection. It does not stop
// any already-running containers; the pool's own Shutdown tears those down
// first via destroy.
func (l *ContainerLauncher) Close() error {
	return l.docker.Close()
}

// LaunchContainer starts a new container running the configured headless
// image and waits for its debugger endpoint to answer, returning an
// Instance whose watchdog observes the container instead of a local
// process. The Instance has no PID and runs no poller.
func (l *ContainerLauncher) LaunchContainer(ctx context.Context, id string, watchdogInterval time.Duration) (*Instance, error) {
	cfg := &container.Config{
		Image: l.image,
		ExposedPorts: nat.PortSet{
			debuggerContainerPort: {},
		},
		Cmd: []string{
			"--headless=new",
			"--disable-gpu",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--remote-debugging-address=0.0.0.0",
			"--remote-debugging-port=9222",
		},
	}
	hostCfg := &container.HostConfig{
		AutoRemove: true,
		PortBindings: nat.PortMap{
			debuggerContainerPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
	}

	resp, err := l.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, apxerrors.E(apxerrors.Internal, "LaunchFailed", fmt.Errorf("failed to create container: %w", err))
	}

	if err := l.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.destroy(resp.ID)
		return nil, apxerrors.E(apxerrors.Internal, "LaunchFailed", fmt.Errorf("failed to start container: %w", err))
	}

	inspect, err := l.docker.ContainerInspect(ctx, resp.ID)
	if err != nil {
		l.destroy(resp.ID)
		return nil, apxerrors.E(apxerrors.Internal, "LaunchFailed", err)
	}
	bindings := inspect.NetworkSettings.Ports[debuggerContainerPort]
	if len(bindings) == 0 {
		l.destroy(resp.ID)
		return nil, apxerrors.E(apxerrors.Internal, "NoFreePort", fmt.Errorf("no port binding published for container"))
	}
	hostPort := bindings[0].HostPort
	httpURL := fmt.Sprintf("http://localhost:%s", hostPort)

	debuggerURL, err := l.waitForDebugger(ctx, httpURL)
	if err != nil {
		l.destroy(resp.ID)
		return nil, apxerrors.E(apxerrors.Internal, "LaunchFailed", err)
	}

	inst := &Instance{
		ID:          id,
		DebuggerURL: debuggerURL,
		containerID: resp.ID,
		container:   l,
	}

	inst.pollerDone = make(chan struct{})
	close(inst.pollerDone) // the container engine owns the process's own stdout; nothing to poll here

	interval := watchdogInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	inst.startContainerWatchdog(interval)

	logger.Info("launched browser container", zap.String("id", id), zap.String("container_id", resp.ID[:12]))
	return inst, nil
}

// waitForDebugger polls the container's /json/version endpoint with
// exponential backoff until it answers, then extracts and returns the
// websocket debugger URL chrome reports there. Chrome constructs that URL
// from the Host header of the /json/version request itself, so querying
// the same host:port the caller will later dial naturally yields a
// directly-usable ws:// URL (see chromedp's modifyURL for the same trick).
func (l *ContainerLauncher) waitForDebugger(ctx context.Context, url string) (string, error) {
	retrier := recovery.NewRetrier(&recovery.RetryConfig{
		MaxAttempts:  30,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Strategy:     recovery.ExponentialBackoff,
		Jitter:       true,
		JitterFactor: 0.2,
	})

	result, err := retrier.DoWithResult(ctx, func() (interface{}, error) {
		resp, err := http.Get(url + "/json/version")
		if err != nil {
			return nil, fmt.Errorf("connection error: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("connection error: unexpected status %d", resp.StatusCode)
		}

		var payload struct {
			WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("connection error: malformed /json/version response: %w", err)
		}
		if payload.WebSocketDebuggerURL == "" {
			return nil, fmt.Errorf("connection error: /json/version response missing webSocketDebuggerUrl")
		}
		return payload.WebSocketDebuggerURL, nil
	})
	if err != nil {
		return "", fmt.Errorf("timed out waiting for container debugger endpoint: %w", err)
	}
	return result.(string), nil
}

func (l *ContainerLauncher) destroy(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = l.docker.ContainerStop(ctx, containerID, container.StopOptions{})
	_ = l.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}
