package storage

import (
	"bytes"
	"context"

	"github.com/JiseokYu/code-push-server/errors"
	"github.com/JiseokYu/code-push-server/health"
)

// HealthChecker verifies end-to-end readability of both backends by
// reading well-known sentinel values written during setup. A corrupted
// or missing sentinel fails ConnectionFailed.
type HealthChecker struct {
	s *Storage
}

// Check probes the document store and blob store sentinels in order and
// returns the first failure. Backend gauges are updated when metrics
// are attached.
func (h *HealthChecker) Check(ctx context.Context) error {
	if err := h.s.ready(ctx); err != nil {
		return err
	}

	docErr := h.checkDocuments(ctx)
	if h.s.metrics != nil {
		h.s.metrics.SetBackendUp("documents", docErr == nil)
	}
	if docErr != nil {
		return docErr
	}

	blobErr := h.checkBlobs(ctx)
	if h.s.metrics != nil {
		h.s.metrics.SetBackendUp("blobs", blobErr == nil)
	}
	return blobErr
}

// Report runs the probes and folds the per-backend results into an
// aggregated status for readiness endpoints.
func (h *HealthChecker) Report(ctx context.Context) health.Status {
	monitor := health.NewMonitor()

	if err := h.s.ready(ctx); err != nil {
		monitor.UpdateUnhealthy("setup", err.Error())
		return monitor.AggregateHealth("storage")
	}

	if err := h.checkDocuments(ctx); err != nil {
		monitor.UpdateUnhealthy("documents", err.Error())
	} else {
		monitor.UpdateHealthy("documents", "sentinel readable")
	}
	if err := h.checkBlobs(ctx); err != nil {
		monitor.UpdateUnhealthy("blobs", err.Error())
	} else {
		monitor.UpdateHealthy("blobs", "sentinel readable")
	}

	if h.s.metrics != nil {
		docs, _ := monitor.Get("documents")
		blobs, _ := monitor.Get("blobs")
		h.s.metrics.SetBackendUp("documents", docs.Healthy)
		h.s.metrics.SetBackendUp("blobs", blobs.Healthy)
	}
	return monitor.AggregateHealth("storage")
}

func (h *HealthChecker) checkDocuments(ctx context.Context) error {
	data, err := h.s.docs.Get(ctx, CollectionHealth, HealthSentinelID)
	if err != nil {
		// An unreadable or absent sentinel always reports ConnectionFailed,
		// even when the backend classified the read itself (a deleted
		// sentinel reads as NotFound).
		return errors.Reclassify(errors.ConnectionFailed, err, "HealthChecker", "Check", "read document sentinel")
	}
	if !bytes.Equal(data, SentinelDocument()) {
		return errors.New(errors.ConnectionFailed, "HealthChecker", "Check", "document sentinel mismatch")
	}
	return nil
}

func (h *HealthChecker) checkBlobs(ctx context.Context) error {
	data, err := h.s.blobs.Get(ctx, HealthSentinelBlobID)
	if err != nil {
		return errors.Reclassify(errors.ConnectionFailed, err, "HealthChecker", "Check", "read blob sentinel")
	}
	if !bytes.Equal(data, SentinelBlob()) {
		return errors.New(errors.ConnectionFailed, "HealthChecker", "Check", "blob sentinel mismatch")
	}
	return nil
}
