package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmembership/bareme/internal/bus"
	"github.com/openmembership/bareme/internal/domain"
	"github.com/openmembership/bareme/internal/engine"
	"github.com/openmembership/bareme/internal/repository"
	"github.com/openmembership/bareme/internal/rules"
	"github.com/openmembership/bareme/internal/tree"
)

func newTestEngine(t *testing.T) (domain.Repository, *engine.Engine, *rules.Registry) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	err = repo.SaveTariffAmount(ctx, "org-test", &domain.TariffTypeAmount{
		TariffID:   "tariff-a",
		FeeTypeID:  "annual",
		BaseAmount: decimal.NewFromInt(100),
		Active:     true,
	})
	if err != nil {
		t.Fatalf("failed to save tariff amount: %v", err)
	}

	registry := rules.NewRegistry()
	treeEngine, err := tree.NewEngine()
	if err != nil {
		t.Fatalf("failed to create tree engine: %v", err)
	}

	return repo, engine.New(repo, registry, treeEngine), registry
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo, eng, registry := newTestEngine(t)

	t.Run("StartAndStop", func(t *testing.T) {
		worker := NewWorker(eventBus, repo, eng)

		cfg := Config{
			OrgIDs:      []string{"org-001"},
			WorkerCount: 1,
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessFeeRequest", func(t *testing.T) {
		w := NewWorker(eventBus, repo, eng)

		cfg := Config{
			OrgIDs: []string{"org-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track computed results
		var resultReceived atomic.Bool
		var resultPayload []byte

		eventBus.Subscribe(context.Background(), "org-test", domain.TopicFeeComputed, func(ctx context.Context, msg *domain.Message) error {
			resultPayload = msg.Payload
			resultReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		// Publish a fee request
		req := domain.FeeRequestedEvent{
			OrgID:     "org-test",
			TariffID:  "tariff-a",
			FeeTypeID: "annual",
			TraceID:   "trace-001",
			Profile:   &domain.PersonProfile{PersonID: "person-001"},
		}

		payload, _ := json.Marshal(req)
		err := eventBus.Publish(context.Background(), "org-test", domain.TopicFeeRequested, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !resultReceived.Load() {
			t.Fatal("expected computed fee to be published")
		}

		var comp domain.FeeComputation
		if err := json.Unmarshal(resultPayload, &comp); err != nil {
			t.Fatalf("failed to parse computation: %v", err)
		}

		if !comp.FinalAmount.Equal(decimal.NewFromInt(100)) {
			t.Errorf("expected final amount 100, got %s", comp.FinalAmount)
		}
		if comp.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", comp.Metadata.TraceID)
		}
		if !comp.Committed {
			t.Error("expected async computation to be committed")
		}

		// Committed computations are retrievable
		stored, err := repo.GetComputation(context.Background(), "org-test", comp.ID)
		if err != nil {
			t.Fatalf("failed to get stored computation: %v", err)
		}
		if !stored.FinalAmount.Equal(comp.FinalAmount) {
			t.Errorf("stored amount %s differs from published %s", stored.FinalAmount, comp.FinalAmount)
		}
	})

	t.Run("ZeroedPublished", func(t *testing.T) {
		// A full reduction floors the amount to zero and notifies operators.
		err := registry.LoadRule(&domain.ReductionRule{
			ID:         "free-disability",
			OrgID:      "org-test",
			Code:       "DIS100",
			Label:      "Full disability waiver",
			Version:    "1.0.0",
			SourceType: domain.SourceDisability,
			Rule: domain.AmountRule{
				CalculationType: domain.CalculationPercentage,
				Value:           decimal.NewFromInt(100),
			},
			ApplicationOrder: 10,
			Cumulable:        true,
			Enabled:          true,
		})
		if err != nil {
			t.Fatalf("failed to load rule: %v", err)
		}
		defer registry.ReloadRules(nil)

		w := NewWorker(eventBus, repo, eng)
		w.Start(Config{OrgIDs: []string{"org-test"}})
		defer w.Stop()

		var zeroedReceived atomic.Bool

		eventBus.Subscribe(context.Background(), "org-test", domain.TopicFeeZeroed, func(ctx context.Context, msg *domain.Message) error {
			zeroedReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		req := domain.FeeRequestedEvent{
			OrgID:     "org-test",
			TariffID:  "tariff-a",
			FeeTypeID: "annual",
			Profile:   &domain.PersonProfile{PersonID: "person-002", Disability: true},
		}

		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), "org-test", domain.TopicFeeRequested, payload)

		time.Sleep(100 * time.Millisecond)

		if !zeroedReceived.Load() {
			t.Error("expected zeroed event for fully reduced fee")
		}
	})

	t.Run("MultiOrg", func(t *testing.T) {
		w := NewWorker(eventBus, repo, eng)

		cfg := Config{
			OrgIDs: []string{"org-a", "org-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 organizations, got %d", stats.SubscriptionCount)
		}
	})
}
