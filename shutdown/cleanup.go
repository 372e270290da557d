package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// CleanupStaleFiles returns a Func that removes files in dir matching
// pattern, such as temporary files left behind by an interrupted atomic
// write. Failures are logged and never block shutdown.
func CleanupStaleFiles(logger *zap.Logger, dir, pattern string) Func {
	return func(ctx context.Context) error {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			logger.Error("Failed to list stale files", zap.String("pattern", pattern), zap.Error(err))
			return nil
		}
		if len(matches) == 0 {
			return nil
		}

		var removed, failed int
		for _, match := range matches {
			if ctx.Err() != nil {
				logger.Warn("Shutdown context cancelled during cleanup",
					zap.Int("removed", removed),
					zap.Int("remaining", len(matches)-removed-failed),
				)
				return nil
			}
			if err := os.Remove(match); err != nil {
				failed++
				logger.Warn("Failed to remove stale file",
					zap.String("file", filepath.Base(match)),
					zap.Error(err),
				)
				continue
			}
			removed++
		}

		logger.Info("Stale file cleanup complete",
			zap.String("directory", dir),
			zap.Int("removed", removed),
			zap.Int("failed", failed),
		)
		return nil
	}
}
