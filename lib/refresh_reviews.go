package lib

import (
	"context"

	"github.com/fiffu/reviewwatch/lib/orchestrator"
	"go.uber.org/zap"
)

type refreshReviews struct {
	log          *zap.Logger
	touch        *clientToucher
	orchestrator *orchestrator.Orchestrator
}

// Refresh is the interactive trigger. It fails with a *orchestrator.RateLimitedError while
// the pair is cooling down.
func (svc *refreshReviews) Refresh(ctx context.Context, source, clientID string) (*orchestrator.Outcome, error) {
	if _, err := svc.touch.touch(ctx, source, clientID); err != nil {
		return nil, err
	}
	return svc.orchestrator.Trigger(ctx, source, clientID, orchestrator.OriginInteractive)
}
