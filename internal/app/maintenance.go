package app

import (
	"context"

	"go.trai.ch/docsync/internal/core/domain"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
)

// Reconcile recomputes every denormalized counter from its edges, repairs drifted ones and
// returns the corrections. Repaired entities are dropped from the cache.
func (c *Client) Reconcile(ctx context.Context) ([]domain.ReconciliationReport, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	reports, err := c.reconcile.ReconcileCounters(ctx)
	for _, r := range reports {
		c.docs.Invalidate(docKey(r.EntityCollection, r.EntityID))
	}
	return reports, err
}

// RecoverLocal uploads the items userID collected on this device that never reached the
// remote store and returns how many were uploaded.
func (c *Client) RecoverLocal(ctx context.Context, userID string) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	n, err := c.recovery.ReconcileLocalState(ctx, userID)
	if n > 0 {
		c.docs.Cache().InvalidatePrefix(domain.CollectionItems + "/")
	}
	return n, err
}

// StartRecovery runs RecoverLocal in the background; the channel closes when it ends.
func (c *Client) StartRecovery(ctx context.Context, userID string) <-chan struct{} {
	return c.recovery.Start(ctx, userID)
}

// RunCounters applies edge events from source to the denormalized counters until ctx is
// done.
func (c *Client) RunCounters(ctx context.Context, source ports.EdgeEventSource) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.counters.Run(ctx, source); err != nil && ctx.Err() == nil {
		return zerr.Wrap(err, "counter sync stopped")
	}
	return nil
}
