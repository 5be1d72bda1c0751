// Package worker provides async fee processing for clustered deployments.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/openmembership/bareme/internal/domain"
	"github.com/openmembership/bareme/internal/engine"
)

// Worker processes fee requests asynchronously from the EventBus. The
// membership application publishes batches of renewal pricing requests to
// bareme.fee.requested; the worker prices each fee, commits the result and
// publishes it back.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// OrgIDs is the list of organizations to process (empty = all via
	// wildcard if supported)
	OrgIDs []string

	// WorkerCount is the number of concurrent workers per organization
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing fee requests for the given organizations.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.OrgIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, orgID := range cfg.OrgIDs {
		if err := w.startOrgWorker(orgID); err != nil {
			slog.Error("failed to start worker for organization",
				"org_id", orgID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"org_count", len(cfg.OrgIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all organizations
// (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" organization ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicFeeRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startOrgWorker starts workers for a specific organization.
func (w *Worker) startOrgWorker(orgID string) error {
	sub, err := w.bus.Subscribe(w.ctx, orgID, domain.TopicFeeRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, orgID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("organization worker started",
		"org_id", orgID,
		"topic", domain.TopicFeeRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRequest(ctx, msg.OrgID, msg)
}

// processRequest prices one fee request through the engine.
func (w *Worker) processRequest(ctx context.Context, orgID string, msg *domain.Message) error {
	start := time.Now()

	var req domain.FeeRequestedEvent
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse fee request message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message organization if provided
	if req.OrgID != "" {
		orgID = req.OrgID
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing fee request",
		"tariff_id", req.TariffID,
		"fee_type_id", req.FeeTypeID,
		"org_id", orgID,
		"trace_id", traceID,
	)

	comp, err := w.engine.ComputeFee(ctx, &engine.ComputeInput{
		OrgID:     orgID,
		TariffID:  req.TariffID,
		FeeTypeID: req.FeeTypeID,
		Profile:   req.Profile,
		Context:   req.Context,
		TraceID:   traceID,
		StartTime: start,
	})
	if err != nil {
		slog.Error("fee computation failed",
			"tariff_id", req.TariffID,
			"fee_type_id", req.FeeTypeID,
			"error", err,
		)
		return err
	}

	if req.ShouldCommit() {
		if err := w.engine.Commit(ctx, comp); err != nil {
			slog.Error("failed to commit computation",
				"id", comp.ID,
				"error", err,
			)
			return err
		}
	}

	resultPayload, _ := json.Marshal(comp)
	if err := w.bus.Publish(ctx, orgID, domain.TopicFeeComputed, resultPayload); err != nil {
		slog.Error("failed to publish computed fee",
			"id", comp.ID,
			"error", err,
		)
	}

	// A positive base floored to zero means the configuration gave the fee
	// away entirely; operators want to see those.
	if comp.Zeroed() {
		if err := w.bus.Publish(ctx, orgID, domain.TopicFeeZeroed, resultPayload); err != nil {
			slog.Error("failed to publish zeroed fee",
				"id", comp.ID,
				"error", err,
			)
		}
	}

	slog.Info("fee request processed",
		"id", comp.ID,
		"org_id", orgID,
		"tariff_id", req.TariffID,
		"final_amount", comp.FinalAmount.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
