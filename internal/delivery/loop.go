package delivery

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pass: то, что крутится в Loop.
type Pass interface {
	Name() string
	RunOnce(ctx context.Context) (Stats, bool)
}

// Loop запускает проход сразу и потом по тикеру, пока не отменят ctx.
func Loop(ctx context.Context, interval time.Duration, p Pass, log *zap.SugaredLogger) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	log = log.With("scheduler", p.Name())
	log.Infow("delivery scheduler started", "interval", interval)

	p.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Infow("delivery scheduler stopped")
			return nil
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}
