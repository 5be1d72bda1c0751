package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/openmembership/bareme/internal/bracket"
	"github.com/openmembership/bareme/internal/domain"
	"github.com/openmembership/bareme/internal/engine"
	"github.com/openmembership/bareme/internal/preview"
	"github.com/openmembership/bareme/internal/rules"
	"github.com/openmembership/bareme/internal/tree"
)

// GlobalOrgID scopes configuration shared by every organization.
const GlobalOrgID = domain.GlobalOrgID

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	bus     domain.EventBus
	engine  *engine.Engine
	preview *preview.Service
	rules   *rules.Registry
	trees   *tree.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, bus domain.EventBus, eng *engine.Engine, prev *preview.Service, registry *rules.Registry, trees *tree.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		bus:     bus,
		engine:  eng,
		preview: prev,
		rules:   registry,
		trees:   trees,
		version: version,
	}
}

// ComputeRequest is the request body for POST /fees/compute.
type ComputeRequest struct {
	TariffID    string                 `json:"tariffId"`
	FeeTypeID   string                 `json:"feeTypeId"`
	StructureID string                 `json:"structureId,omitempty"`
	Profile     *domain.PersonProfile  `json:"profile"`
	Context     *domain.ComputeContext `json:"context,omitempty"`

	// Commit locks the tariff's decision tree and persists the result.
	// Default is a pure preview: nothing stored, nothing locked.
	Commit bool `json:"commit,omitempty"`
}

// ComputeFee handles POST /fees/compute requests.
func (h *Handler) ComputeFee(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	traceID := GetTraceID(ctx)

	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.TariffID == "" || req.FeeTypeID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tariffId and feeTypeId are required",
		})
		return
	}
	if req.Profile == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "profile is required",
		})
		return
	}

	cctx := req.Context
	if req.StructureID != "" {
		if cctx == nil {
			cctx = &domain.ComputeContext{}
		}
		cctx.StructureID = req.StructureID
	}

	comp, err := h.engine.ComputeFee(ctx, &engine.ComputeInput{
		OrgID:     orgID,
		TariffID:  req.TariffID,
		FeeTypeID: req.FeeTypeID,
		Profile:   req.Profile,
		Context:   cctx,
		TraceID:   traceID,
		StartTime: start,
	})
	if err != nil {
		slog.Error("fee computation failed",
			"tariff_id", req.TariffID,
			"fee_type_id", req.FeeTypeID,
			"error", err,
		)
		writeError(w, err)
		return
	}

	if req.Commit {
		if err := h.engine.Commit(ctx, comp); err != nil {
			slog.Error("failed to commit computation", "id", comp.ID, "error", err)
			writeError(w, err)
			return
		}

		h.publish(ctx, orgID, domain.TopicFeeComputed, comp)
		if comp.Zeroed() {
			h.publish(ctx, orgID, domain.TopicFeeZeroed, comp)
		}
	}

	writeJSON(w, http.StatusOK, comp)
}

// GetComputation retrieves a stored fee computation by ID.
func (h *Handler) GetComputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	compID := chi.URLParam(r, "id")

	comp, err := h.repo.GetComputation(ctx, orgID, compID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, comp)
}

// GetBounds returns the min/max amount a tariff can produce for a fee
// type, via the cached preview service.
func (h *Handler) GetBounds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	tariffID := chi.URLParam(r, "tariffID")
	feeTypeID := r.URL.Query().Get("feeTypeId")

	if feeTypeID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "feeTypeId query parameter is required",
		})
		return
	}

	bounds, err := h.preview.Bounds(ctx, orgID, tariffID, feeTypeID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tariffId":  tariffID,
		"feeTypeId": feeTypeID,
		"min":       bounds.Min,
		"max":       bounds.Max,
	})
}

// AmountsRequest is the request body for PUT /tariffs/{tariffID}/amounts.
type AmountsRequest struct {
	Amounts []struct {
		FeeTypeID  string `json:"feeTypeId"`
		BaseAmount string `json:"baseAmount"`
		Active     *bool  `json:"active,omitempty"`
	} `json:"amounts"`
}

// PutAmounts upserts base amounts for a tariff's fee types.
func (h *Handler) PutAmounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	tariffID := chi.URLParam(r, "tariffID")

	var req AmountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Amounts) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one amount is required",
		})
		return
	}

	saved := make([]*domain.TariffTypeAmount, 0, len(req.Amounts))
	for _, a := range req.Amounts {
		amount, err := domain.NewTariffTypeAmount(tariffID, a.FeeTypeID, a.BaseAmount)
		if err != nil {
			writeError(w, err)
			return
		}
		if a.Active != nil {
			amount.Active = *a.Active
		}

		if err := h.repo.SaveTariffAmount(ctx, orgID, amount); err != nil {
			slog.Error("failed to save tariff amount",
				"tariff_id", tariffID,
				"fee_type_id", a.FeeTypeID,
				"error", err,
			)
			writeError(w, err)
			return
		}

		h.preview.Invalidate(ctx, orgID, tariffID, a.FeeTypeID)
		saved = append(saved, amount)
	}

	h.publish(ctx, orgID, domain.TopicConfigChanged, domain.ConfigChangedEvent{
		Kind:     "tariff_amounts",
		TariffID: tariffID,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"amounts": saved,
		"count":   len(saved),
	})
}

// GetAmounts lists all configured base amounts for a tariff, including
// soft-disabled rows.
func (h *Handler) GetAmounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	tariffID := chi.URLParam(r, "tariffID")

	amounts, err := h.repo.ListTariffAmounts(ctx, orgID, tariffID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"amounts": amounts,
		"count":   len(amounts),
	})
}

// ListRules returns the reduction rules currently loaded in the registry
// for the caller's organization (including shared rules).
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	orgID := GetOrgID(r.Context())
	loaded := h.rules.Snapshot(orgID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule retrieves a reduction rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetReductionRule(ctx, orgID, ruleID)
	if errors.Is(err, domain.ErrNotFound) {
		rule, err = h.repo.GetReductionRule(ctx, GlobalOrgID, ruleID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule creates a reduction rule and saves it to the database.
// After saving, call POST /rules/reload to hot-reload into the registry.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var rule domain.ReductionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.OrgID == "" {
		rule.OrgID = orgID
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	if err := h.rules.ValidateRule(&rule); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.SaveReductionRule(ctx, rule.OrgID, &rule); err != nil {
		slog.Error("failed to save reduction rule", "id", rule.ID, "error", err)
		writeError(w, err)
		return
	}

	if err := h.rules.LoadRule(&rule); err != nil {
		writeError(w, err)
		return
	}

	h.publish(ctx, orgID, domain.TopicConfigChanged, domain.ConfigChangedEvent{
		Kind:   "reduction_rule",
		RuleID: rule.ID,
	})

	slog.Info("reduction rule created", "id", rule.ID, "code", rule.Code)
	writeJSON(w, http.StatusCreated, &rule)
}

// ReloadRules reloads the caller's reduction rules from the database
// into the registry, along with the shared global rules. Other
// organizations' loaded rules are untouched: a reload issued by one
// organization must never evict another's.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	dbRules, err := h.repo.ListReductionRules(ctx, orgID)
	if err != nil {
		slog.Error("failed to list reduction rules", "error", err)
		writeError(w, err)
		return
	}

	count := 0
	if orgID != GlobalOrgID {
		if err := h.rules.ReloadScope(orgID, dbRules); err != nil {
			slog.Error("failed to reload reduction rules", "error", err)
			writeError(w, err)
			return
		}
		count += len(dbRules)

		dbRules, err = h.repo.ListReductionRules(ctx, GlobalOrgID)
		if err != nil {
			slog.Error("failed to list shared reduction rules", "error", err)
			writeError(w, err)
			return
		}
	}

	if err := h.rules.ReloadScope(GlobalOrgID, dbRules); err != nil {
		slog.Error("failed to reload shared reduction rules", "error", err)
		writeError(w, err)
		return
	}
	count += len(dbRules)

	slog.Info("reduction rules reloaded", "org_id", orgID, "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// ListBrackets lists the bracket tables visible to the caller's
// organization.
func (h *Handler) ListBrackets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	tables, err := h.repo.ListBracketTables(ctx, orgID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"brackets": tables,
		"count":    len(tables),
	})
}

// GetBracket retrieves a bracket table by ID.
func (h *Handler) GetBracket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	tableID := chi.URLParam(r, "id")

	table, err := h.repo.GetBracketTable(ctx, orgID, tableID)
	if errors.Is(err, domain.ErrNotFound) {
		table, err = h.repo.GetBracketTable(ctx, GlobalOrgID, tableID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, table)
}

// CreateBracket creates or replaces a bracket table. Marking the table
// default clears the default flag on other tables in the same scope.
func (h *Handler) CreateBracket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	var table domain.BracketTable
	if err := json.NewDecoder(r.Body).Decode(&table); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := bracket.Validate(&table); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.SaveBracketTable(ctx, orgID, &table); err != nil {
		slog.Error("failed to save bracket table", "id", table.ID, "error", err)
		writeError(w, err)
		return
	}

	h.publish(ctx, orgID, domain.TopicConfigChanged, domain.ConfigChangedEvent{
		Kind:      "bracket_table",
		BracketID: table.ID,
	})

	slog.Info("bracket table saved", "id", table.ID, "name", table.Name)
	writeJSON(w, http.StatusCreated, &table)
}

// ReloadBrackets notifies consumers that bracket configuration changed.
// Bracket tables are read from the repository at computation time, so the
// engine itself needs no reload; cached bounds previews expire on TTL.
func (h *Handler) ReloadBrackets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)

	tables, err := h.repo.ListBracketTables(ctx, orgID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publish(ctx, orgID, domain.TopicConfigChanged, domain.ConfigChangedEvent{
		Kind: "bracket_tables",
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "bracket tables reloaded successfully",
		"count":   len(tables),
	})
}

// GetTree retrieves the current decision tree version for a tariff.
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	tariffID := chi.URLParam(r, "tariffID")

	t, err := h.repo.GetDecisionTree(ctx, orgID, tariffID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// PutTree creates or replaces a tariff's decision tree. A locked tree
// rejects the write with 409; duplicate it into a new version instead.
func (h *Handler) PutTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	tariffID := chi.URLParam(r, "tariffID")

	var t domain.DecisionTree
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	t.OrgID = orgID
	t.TariffID = tariffID

	if err := h.trees.ValidateTree(&t); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.SaveDecisionTree(ctx, orgID, &t); err != nil {
		if !errors.Is(err, domain.ErrTreeLocked) {
			slog.Error("failed to save decision tree", "tariff_id", tariffID, "error", err)
		}
		writeError(w, err)
		return
	}

	if err := h.trees.LoadTree(&t); err != nil {
		writeError(w, err)
		return
	}

	h.invalidateTariffBounds(ctx, orgID, tariffID)
	h.publish(ctx, orgID, domain.TopicConfigChanged, domain.ConfigChangedEvent{
		Kind:     "decision_tree",
		TariffID: tariffID,
	})

	slog.Info("decision tree saved", "tariff_id", tariffID, "version", t.TreeVersion)
	writeJSON(w, http.StatusOK, &t)
}

// DuplicateTree copies the latest tree version into an unlocked
// version+1 so a locked tree can evolve.
func (h *Handler) DuplicateTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	tariffID := chi.URLParam(r, "tariffID")

	dup, err := h.repo.DuplicateDecisionTree(ctx, orgID, tariffID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.trees.LoadTree(dup); err != nil {
		writeError(w, err)
		return
	}

	h.invalidateTariffBounds(ctx, orgID, tariffID)

	slog.Info("decision tree duplicated", "tariff_id", tariffID, "version", dup.TreeVersion)
	writeJSON(w, http.StatusCreated, dup)
}

// LockTree explicitly locks a tariff's tree. Locking an already locked
// tree succeeds without transitioning.
func (h *Handler) LockTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := GetOrgID(ctx)
	tariffID := chi.URLParam(r, "tariffID")

	at := time.Now().UTC()
	transitioned, err := h.repo.LockDecisionTree(ctx, orgID, tariffID, at)
	if err != nil {
		writeError(w, err)
		return
	}
	h.trees.LockLoaded(orgID, tariffID, at)

	if transitioned {
		slog.Info("decision tree locked", "tariff_id", tariffID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locked":       true,
		"transitioned": transitioned,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// invalidateTariffBounds drops cached bounds for every fee type
// configured on a tariff.
func (h *Handler) invalidateTariffBounds(ctx context.Context, orgID, tariffID string) {
	amounts, err := h.repo.ListTariffAmounts(ctx, orgID, tariffID)
	if err != nil {
		return
	}
	for _, a := range amounts {
		h.preview.Invalidate(ctx, orgID, tariffID, a.FeeTypeID)
	}
}

func (h *Handler) publish(ctx context.Context, orgID, topic string, payload interface{}) {
	if h.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, orgID, topic, data); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrTreeLocked):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrConfiguration):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
