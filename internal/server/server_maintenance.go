package server

import (
	"context"
	"time"
)

// runJanitor purges closed ledger records older than the retention horizon.
// Open records are never touched regardless of age.
func (s *Server) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			horizon := time.Now().UTC().Add(-s.cfg.Retention)
			purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
			purged, err := s.ledger.PurgeClosedBefore(purgeCtx, horizon)
			cancel()
			if err != nil {
				s.log.Error("ledger retention purge failed", "err", err)
				continue
			}
			if purged > 0 {
				s.log.Info("purged closed ledger records", "count", purged, "horizon", horizon.Format(time.RFC3339))
			}
		}
	}
}
