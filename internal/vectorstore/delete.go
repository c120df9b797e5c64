package vectorstore

import (
	"context"

	"go.uber.org/zap"
)

// deleteStrategy is one rung of the deletion ladder. Strategies are tried
// in order until one succeeds or all are exhausted.
type deleteStrategy struct {
	name string
	run  func(ctx context.Context) error
}

// runDeleteLadder executes strategies in order. Failures are logged as
// warnings and never returned: deletion is best-effort cleanup before a
// re-write, and leftover chunks are tolerable.
func runDeleteLadder(ctx context.Context, logger *zap.Logger, documentID string, strategies []deleteStrategy) error {
	for _, strat := range strategies {
		if err := strat.run(ctx); err != nil {
			logger.Warn("delete strategy failed, trying next",
				zap.String("strategy", strat.name),
				zap.String("document_id", documentID),
				zap.Error(err),
			)
			continue
		}
		logger.Debug("deleted document chunks",
			zap.String("strategy", strat.name),
			zap.String("document_id", documentID),
		)
		return nil
	}

	logger.Warn("all delete strategies exhausted, continuing anyway",
		zap.String("document_id", documentID),
		zap.Int("strategies", len(strategies)),
	)
	return nil
}
