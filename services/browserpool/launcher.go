package browserpool

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Launcher abstracts the strategy used to start a browser: a local
// subprocess (the default) or a Docker container.
type Launcher interface {
	Launch(ctx context.Context) (*Instance, error)
}

// ProcessLauncherConfig adapts LaunchOptions into a Launcher.
type ProcessLauncherConfig struct {
	Opts LaunchOptions
}

func (p ProcessLauncherConfig) Launch(ctx context.Context) (*Instance, error) {
	return Launch(ctx, uuid.NewString(), p.Opts)
}

// DockerLauncherConfig adapts a ContainerLauncher into a Launcher.
type DockerLauncherConfig struct {
	Launcher         *ContainerLauncher
	WatchdogInterval time.Duration
}

func (d DockerLauncherConfig) Launch(ctx context.Context) (*Instance, error) {
	return d.Launcher.LaunchContainer(ctx, uuid.NewString(), d.WatchdogInterval)
}
