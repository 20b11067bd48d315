// Package browser launches or connects to Chrome and opens the pages a live
// recognizer session observes.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config configures Launch.
type Config struct {
	// Remote is the DevTools WebSocket URL of a running Chrome. Empty means
	// launch a local one.
	Remote string

	// Headful shows the browser window. Default: headless.
	Headful bool

	// Stealth opens pages through go-rod/stealth.
	Stealth bool

	// Block lists resource types to refuse (images, fonts, media, stylesheets).
	Block []string

	// Timeout bounds navigation and load. Default: 30s.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser is a connected Chrome instance.
type Browser struct {
	cfg    Config
	rod    *rod.Browser
	lnch   *launcher.Launcher
	mu     sync.Mutex
	closed bool
}

// Launch starts Chrome (or connects to cfg.Remote).
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger

	var wsURL string
	var l *launcher.Launcher
	if cfg.Remote != "" {
		wsURL = cfg.Remote
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l = launcher.New().Context(ctx).Headless(!cfg.Headful)
		// Anti-detection flag, paired with stealth pages.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		log.Info("browser: launched local chrome", "url", wsURL, "headful", cfg.Headful)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Cleanup()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}

	return &Browser{cfg: cfg, rod: b, lnch: l}, nil
}

// Rod returns the underlying handle.
func (b *Browser) Rod() *rod.Browser { return b.rod }

// Close disconnects and, for a launched Chrome, kills the process.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.lnch != nil {
		// Closing a remote browser would kill someone else's Chrome.
		err = b.rod.Close()
		b.lnch.Cleanup()
	}
	return err
}
