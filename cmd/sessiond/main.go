// Command sessiond runs the browser session host: it warms up a
// capacity-bounded pool of browser instances and serves the HTTP/WebSocket
// gateway that allocates, proxies, and releases them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/browser"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"sessionhost/config"
	apxhttp "sessionhost/http"
	"sessionhost/http/handlers"
	"sessionhost/logger"
	"sessionhost/services/browserpool"
	"sessionhost/services/capacity"
	"sessionhost/services/health"
	"sessionhost/services/shutdown"
)

// CLI is the command-line surface, parsed by kong.
type CLI struct {
	Config     string `help:"Path to a YAML configuration file, layered over the built-in defaults." type:"path"`
	Open       bool   `help:"Open the gateway's /healthz in a local browser once the server is listening." default:"false"`
	ShutdownTO string `help:"Maximum time to wait for graceful shutdown." default:"15s"`
}

func main() {
	var cli CLI
	kong.Parse(&cli, kong.Description("Runs the browser session host gateway."))

	conf, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(conf.LogLevel)
	defer logger.Sync()
	logger.Info("starting sessionhost", zap.String("listen", conf.Listen), zap.Int("capacity", conf.Capacity), zap.String("launcher", conf.Launcher))

	shutdownTimeout, err := time.ParseDuration(cli.ShutdownTO)
	if err != nil {
		shutdownTimeout = 15 * time.Second
	}

	launcher, cleanupLauncher, err := buildLauncher(conf)
	if err != nil {
		logger.Fatal("failed to initialize launch strategy", zap.Error(err))
	}

	// runtime holds the knobs this process is willing to hot-reload without a
	// restart: the breaker's trip threshold and the health-check interval.
	// Seeded from conf so both start in sync with the static configuration.
	runtime := config.NewRuntimeManager(conf)
	var failureThreshold atomic.Uint32
	failureThreshold.Store(conf.CircuitBreaker.FailureThreshold)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "browser-launch",
		MaxRequests: conf.CircuitBreaker.MaxRequests,
		Timeout:     conf.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold.Load()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	broadcaster := capacity.New()
	pool := browserpool.New(conf.Capacity, launcher, broadcaster, breaker)

	var prober *browserpool.Prober
	if p, err := browserpool.NewProber(); err != nil {
		logger.Warn("CDP liveness prober unavailable, detailed health checks will skip it", zap.Error(err))
	} else {
		prober = p
	}

	healthHandler := health.NewHandler(pool, broadcaster, prober)
	healthInterval := make(chan time.Duration, 1)
	if conf.Metrics.Enabled {
		healthHandler.StartBackgroundChecks(conf.Metrics.HealthCheckInterval, healthInterval)
	}

	// Every runtime update refreshes both hot-reloadable knobs: the breaker's
	// trip threshold (read directly via failureThreshold) and the health
	// check cadence (forwarded into the ticker StartBackgroundChecks owns).
	go func() {
		for rc := range runtime.Watch() {
			failureThreshold.Store(rc.CircuitBreaker.FailureThreshold)
			if conf.Metrics.Enabled {
				select {
				case healthInterval <- rc.Monitoring.HealthCheckInterval:
				default:
				}
			}
		}
	}()

	h := handlers.New(pool, broadcaster, conf.Cors.AllowedOrigins)
	server := apxhttp.NewServer(conf, h, healthHandler)

	ctx, cancel := context.WithCancel(context.Background())
	coordinator := shutdown.NewCoordinator(shutdownTimeout)
	coordinator.RegisterHandler("capacity_broadcaster", shutdown.CreateBroadcasterShutdown(broadcaster))
	if cleanupLauncher != nil {
		coordinator.RegisterHandler("launch_strategy", cleanupLauncher)
	}
	coordinator.RegisterHandler("browser_pool", shutdown.CreatePoolShutdown(pool))
	if prober != nil {
		coordinator.RegisterHandler("cdp_prober", func(context.Context) error { return prober.Close() })
	}
	coordinator.RegisterHandler("http_server", func(context.Context) error {
		cancel()
		return nil
	})
	coordinator.Start()

	go func() {
		// Warmup failure is logged but never fatal: the spec treats the
		// pool as usable (if empty) rather than the process as broken.
		warmupCtx, warmupCancel := context.WithTimeout(context.Background(), conf.LaunchTimeout*time.Duration(conf.Capacity+1))
		defer warmupCancel()
		if err := pool.Warmup(warmupCtx); err != nil {
			logger.Error("warmup failed", zap.Error(err))
		} else {
			logger.Info("warmup complete")
		}
	}()

	if cli.Open {
		go func() {
			time.Sleep(500 * time.Millisecond)
			_ = browser.OpenURL(fmt.Sprintf("http://%s/healthz", displayAddr(conf.Listen)))
		}()
	}

	if err := server.Listen(ctx, conf.Listen); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited with error", zap.Error(err))
		coordinator.Shutdown()
		os.Exit(1)
	}

	coordinator.Shutdown()
	logger.Info("shutdown complete")
}

// buildLauncher selects the process or Docker launch strategy per
// conf.Launcher, returning an optional cleanup handler (Docker needs to
// close its client).
func buildLauncher(conf *config.Config) (browserpool.Launcher, shutdown.ShutdownHandler, error) {
	switch conf.Launcher {
	case "docker":
		cl, err := browserpool.NewContainerLauncher(conf.DockerImage)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func(context.Context) error { return cl.Close() }
		return browserpool.DockerLauncherConfig{Launcher: cl, WatchdogInterval: conf.WatchdogInterval}, cleanup, nil
	default:
		opts := browserpool.LaunchOptions{
			BrowserBinary:    conf.BrowserBinary,
			InDocker:         conf.InDocker,
			WatchdogInterval: conf.WatchdogInterval,
		}
		return browserpool.ProcessLauncherConfig{Opts: opts}, nil, nil
	}
}

// displayAddr rewrites a wildcard bind address into something a local
// browser can actually dial.
func displayAddr(listen string) string {
	if len(listen) > 0 && listen[0] == '0' {
		return "localhost" + listen[len("0.0.0.0"):]
	}
	return listen
}
