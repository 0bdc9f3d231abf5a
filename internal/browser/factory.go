// File: internal/browser/factory.go
package browser

import (
	"context"

	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/config"
)

// Launcher creates one browser session per run.
type Launcher struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewLauncher builds a surface factory over the given config.
func NewLauncher(cfg *config.Config, logger *zap.Logger) *Launcher {
	return &Launcher{cfg: cfg, logger: logger}
}

// NewSurface launches a browser and hands back its surface plus a release
// func that shuts the browser down.
func (l *Launcher) NewSurface(ctx context.Context) (schemas.Surface, func(), error) {
	session, err := NewSession(ctx, l.cfg, l.logger)
	if err != nil {
		return nil, nil, err
	}
	return session.Surface(l.cfg.HealingCfg), session.Close, nil
}
