// File: internal/browser/session.go

// Package browser implements the automation surface over a Chrome DevTools
// Protocol session. One Session owns one browser tab; a session handle is
// exclusively owned by the run that acquired it.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/samuelvinay91/uniauto/internal/config"
)

const launchTimeout = 60 * time.Second

// Session manages the allocator and tab contexts for one browser instance.
type Session struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	taskCtx     context.Context
	cancelTask  context.CancelFunc

	cfg     config.BrowserConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSession launches a browser and opens a tab. The session's lifetime is
// independent of ctx, which only bounds startup.
func NewSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	log := logger.Named("browser")

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg.BrowserCfg)...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Warnf),
	)

	s := &Session{
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		taskCtx:     taskCtx,
		cancelTask:  cancelTask,
		cfg:         cfg.BrowserCfg,
		limiter:     newActionLimiter(cfg.BrowserCfg.ActionsPerSecond),
		logger:      log,
	}

	// Launch eagerly so a broken Chrome install fails the session, not the
	// first step.
	startCtx, cancel := context.WithTimeout(taskCtx, launchTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		s.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	log.Info("Browser session started",
		zap.Bool("headless", cfg.BrowserCfg.Headless),
		zap.Int("window_width", cfg.BrowserCfg.WindowWidth),
		zap.Int("window_height", cfg.BrowserCfg.WindowHeight))

	return s, nil
}

// Surface returns the automation surface bound to this session's tab.
func (s *Session) Surface(healing config.HealingConfig) *Surface {
	return &Surface{
		session:        s,
		visualDistance: healing.VisualDistance,
		logger:         s.logger.Named("surface"),
	}
}

// Close shuts the tab and the browser down. Safe to call more than once.
func (s *Session) Close() {
	if err := chromedp.Cancel(s.taskCtx); err != nil {
		s.logger.Debug("Graceful browser shutdown failed", zap.Error(err))
	}
	s.cancelTask()
	s.cancelAlloc()
}

// wait paces an action against the session limiter.
func (s *Session) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func newActionLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// allocatorOptions translates config into Chrome launch flags, starting
// from chromedp's defaults.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		name, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}
