package browserpool

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	apxerrors "sessionhost/errors"
)

// Prober performs an opportunistic CDP liveness check against an instance's
// debugger URL by actually attaching a Playwright client to it. This is
// deliberately not on the hot allocate/release path (the watchdog's PID
// sampling already covers that); it backs the health handler's detailed
// view, where a slower, real protocol-level check is acceptable.
type Prober struct {
	pw *playwright.Playwright
}

// NewProber starts the Playwright driver process this prober will reuse
// for every Probe call.
func NewProber() (*Prober, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, apxerrors.E(apxerrors.Internal, "failed to start playwright driver", err)
	}
	return &Prober{pw: pw}, nil
}

// Probe attaches to debuggerURL over CDP and reports whether the browser
// answered and reports itself connected.
func (p *Prober) Probe(ctx context.Context, debuggerURL string) (bool, error) {
	browser, err := p.pw.Chromium.ConnectOverCDP(debuggerURL)
	if err != nil {
		return false, fmt.Errorf("cdp connect failed: %w", err)
	}
	defer browser.Close()

	return browser.IsConnected(), nil
}

// Close stops the underlying Playwright driver process.
func (p *Prober) Close() error {
	if p.pw == nil {
		return nil
	}
	return p.pw.Stop()
}
