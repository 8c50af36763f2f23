package lib

import (
	"context"

	"github.com/fiffu/reviewwatch/lib/clock"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/store"
	"go.uber.org/zap"
)

type registerClient struct {
	log   *zap.Logger
	store *store.Store
	clock clock.Clock
}

// RegisterClient records a device the first time it shows up and refreshes its activity
// on every later call. The ID is generated by the device; we only check its shape.
func (svc *registerClient) RegisterClient(ctx context.Context, clientID string) (*models.Client, error) {
	if err := models.ValidateClientID(clientID); err != nil {
		return nil, err
	}

	client, err := svc.store.TouchClient(ctx, clientID, svc.clock.Now())
	if err != nil {
		return nil, err
	}
	if client.FirstSeenAt.Equal(client.LastSeenAt) {
		svc.log.Sugar().Infow("Registered client", "client_id", clientID)
	}
	return client, nil
}
