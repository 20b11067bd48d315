package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is an open page.
type Tab struct {
	Page *rod.Page
	URL  string
	ID   string
}

// Open creates a tab, applies stealth and resource blocking, navigates to
// pageURL and waits for load. A load timeout is logged, not fatal: dynamic
// pages often never settle, and recognizers do not need them to.
func (b *Browser) Open(ctx context.Context, pageURL string) (*Tab, error) {
	log := b.cfg.Logger

	var page *rod.Page
	var err error
	if b.cfg.Stealth {
		page, err = stealth.Page(b.rod)
	} else {
		page, err = b.rod.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(b.cfg.Block) > 0 {
		if err := applyResourceBlocking(page, b.cfg.Block); err != nil {
			log.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	log.Info("browser: page open", "url", pageURL, "stealth", b.cfg.Stealth)
	return &Tab{Page: page, URL: pageURL, ID: string(page.TargetID)}, nil
}

// HTML serialises the current document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return "<!DOCTYPE html>" + res.Value.Str(), nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
