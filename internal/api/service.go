// Package api exposes the rebalancing engine over HTTP: risk reports,
// forecast regeneration jobs and analysis, transfer recommendations,
// planner feedback and transfer execution.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/retaildss/rebalance-engine/internal/forecast"
	"github.com/retaildss/rebalance-engine/internal/matcher"
	"github.com/retaildss/rebalance-engine/internal/metrics"
	"github.com/retaildss/rebalance-engine/internal/model"
	"github.com/retaildss/rebalance-engine/internal/penalty"
	"github.com/retaildss/rebalance-engine/internal/risk"
	"github.com/retaildss/rebalance-engine/internal/scheduler"
	"github.com/retaildss/rebalance-engine/internal/store"
	"github.com/retaildss/rebalance-engine/internal/transfer"
	"github.com/retaildss/rebalance-engine/internal/validation"
)

const (
	defaultForecastLimit = 200
	maxForecastLimit     = 5000
)

// Service holds the engine components behind the HTTP handlers.
type Service struct {
	store      store.Store
	risk       *risk.Classifier
	forecaster *forecast.Forecaster
	matcher    *matcher.Service
	penalties  *penalty.Recorder
	transfers  *transfer.Executor
	jobs       *scheduler.Jobs
	hub        *WSHub // optional; nil disables event broadcasting
	logger     *slog.Logger
}

// Deps are the components a Service is built from.
type Deps struct {
	Store      store.Store
	Forecaster *forecast.Forecaster
	Matcher    *matcher.Service
	Jobs       *scheduler.Jobs
	Hub        *WSHub
	Logger     *slog.Logger
}

// NewService wires a Service. The risk classifier, penalty recorder and
// transfer executor are built over d.Store.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      d.Store,
		risk:       risk.NewClassifier(d.Store, logger),
		forecaster: d.Forecaster,
		matcher:    d.Matcher,
		penalties:  penalty.NewRecorder(d.Store, logger),
		transfers:  transfer.NewExecutor(d.Store, logger),
		jobs:       d.Jobs,
		hub:        d.Hub,
		logger:     logger,
	}
}

// --- Request/Response types ---

// StoreRiskResponse is the body of GET /stores/{storeID}/risk.
type StoreRiskResponse struct {
	StoreID string         `json:"store_id"`
	Status  model.RiskTier `json:"status"`
	Color   string         `json:"color"`
}

// LaunchRequest is the JSON body for POST /products/launch.
type LaunchRequest struct {
	ID                 string          `json:"id,omitempty"`
	Name               string          `json:"name" validate:"required"`
	Category           string          `json:"category" validate:"required"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	ReferenceProductID string          `json:"reference_product_id,omitempty"`
}

// RejectRequest is the JSON body for POST /transfers/reject.
type RejectRequest struct {
	TransferID    string                `json:"transfer_id,omitempty"`
	SourceStoreID string                `json:"source_store_id" validate:"required"`
	TargetStoreID string                `json:"target_store_id" validate:"required,nefield=SourceStoreID"`
	ProductID     string                `json:"product_id" validate:"required"`
	Reason        model.RejectionReason `json:"reason" validate:"required"`
}

// RejectResponse reports the route's penalty after the rejection.
type RejectResponse struct {
	SourceStoreID   string  `json:"source_store_id"`
	TargetStoreID   string  `json:"target_store_id"`
	NewPenaltyScore float64 `json:"new_penalty_score"`
}

// TransferRequest is the JSON body for POST /transfers.
type TransferRequest struct {
	SourceStoreID string `json:"source_store_id" validate:"required"`
	TargetStoreID string `json:"target_store_id" validate:"required,nefield=SourceStoreID"`
	ProductID     string `json:"product_id" validate:"required"`
	Amount        int    `json:"amount" validate:"gte=1"`
	// ExpectedVersion is the source_version of the recommendation being
	// executed. Omit to skip the staleness check.
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// WhatIfRequest is the JSON body for POST /transfers/what-if.
type WhatIfRequest struct {
	SourceStoreID string `json:"source_store_id" validate:"required"`
	TargetStoreID string `json:"target_store_id" validate:"required"`
	ProductID     string `json:"product_id" validate:"required"`
	Amount        int    `json:"amount" validate:"gte=1"`
}

// --- Network ---

// ListStores handles GET /api/v1/stores
func (s *Service) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.store.ListStores(r.Context())
	if err != nil {
		s.internalError(w, "failed to list stores", err)
		return
	}
	if stores == nil {
		stores = []model.Store{}
	}
	writeJSON(w, http.StatusOK, stores)
}

// StoreInventory handles GET /api/v1/stores/{storeID}/inventory
func (s *Service) StoreInventory(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	ctx := r.Context()

	if _, err := s.store.GetStore(ctx, storeID); err != nil {
		s.notFoundOr500(w, "store not found", err)
		return
	}
	positions, err := s.store.ListInventory(ctx, storeID)
	if err != nil {
		s.internalError(w, "failed to list inventory", err)
		return
	}
	if positions == nil {
		positions = []model.InventoryPosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// --- Risk ---

// StoreRisk handles GET /api/v1/stores/{storeID}/risk
func (s *Service) StoreRisk(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	ctx := r.Context()

	if _, err := s.store.GetStore(ctx, storeID); err != nil {
		s.notFoundOr500(w, "store not found", err)
		return
	}
	status := s.risk.ClassifyStore(ctx, storeID)
	writeJSON(w, http.StatusOK, StoreRiskResponse{StoreID: storeID, Status: status, Color: status.Color()})
}

// RiskReport handles GET /api/v1/risk/report
func (s *Service) RiskReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stores, err := s.store.ListStores(ctx)
	if err != nil {
		s.internalError(w, "failed to list stores", err)
		return
	}
	writeJSON(w, http.StatusOK, s.risk.BuildReport(ctx, stores))
}

// --- Forecasts ---

// RegenerateForecasts handles POST /api/v1/forecasts/regenerate
// Starts a background job; 409 while another job runs.
func (s *Service) RegenerateForecasts(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Start(scheduler.TriggerManual)
	if errors.Is(err, scheduler.ErrJobRunning) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "job": job})
		return
	}
	if err != nil {
		s.internalError(w, "failed to start regeneration", err)
		return
	}
	w.Header().Set("Location", "/api/v1/forecasts/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

// GetJob handles GET /api/v1/forecasts/jobs/{jobID}
func (s *Service) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles DELETE /api/v1/forecasts/jobs/{jobID}
func (s *Service) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	switch err := s.jobs.Cancel(id); {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeError(w, "job not found", http.StatusNotFound)
		return
	case errors.Is(err, scheduler.ErrJobFinished):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.internalError(w, "failed to cancel job", err)
		return
	}
	job, _ := s.jobs.Get(id)
	writeJSON(w, http.StatusAccepted, job)
}

// ListForecasts handles GET /api/v1/forecasts?store_id=&product_id=&limit=
func (s *Service) ListForecasts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultForecastLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxForecastLimit {
			writeError(w, fmt.Sprintf("limit must be 1-%d", maxForecastLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.store.ListForecasts(r.Context(), q.Get("store_id"), q.Get("product_id"))
	if err != nil {
		s.internalError(w, "failed to list forecasts", err)
		return
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []model.DemandForecast{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Accuracy handles GET /api/v1/analysis/accuracy?store_id=&product_id=
func (s *Service) Accuracy(w http.ResponseWriter, r *http.Request) {
	storeID, productID := r.URL.Query().Get("store_id"), r.URL.Query().Get("product_id")
	if storeID == "" || productID == "" {
		writeError(w, "store_id and product_id are required", http.StatusBadRequest)
		return
	}

	report, err := s.forecaster.EvaluateAccuracy(r.Context(), storeID, productID)
	if errors.Is(err, forecast.ErrNotEnoughData) {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		s.internalError(w, "failed to evaluate accuracy", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ColdStart handles GET /api/v1/analysis/cold-start?product_id=
func (s *Service) ColdStart(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeError(w, "product_id is required", http.StatusBadRequest)
		return
	}

	report, err := s.forecaster.AnalyzeColdStart(r.Context(), productID)
	if errors.Is(err, forecast.ErrProductNotFound) {
		writeError(w, "product not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, "failed to analyze cold start", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// LaunchProduct handles POST /api/v1/products/launch
func (s *Service) LaunchProduct(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.forecaster.LaunchProduct(r.Context(), forecast.Launch{
		ID:                 req.ID,
		Name:               req.Name,
		Category:           req.Category,
		UnitPrice:          req.UnitPrice,
		ReferenceProductID: req.ReferenceProductID,
	})
	switch {
	case errors.Is(err, forecast.ErrInvalidLaunch):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, forecast.ErrProductNotFound):
		writeError(w, "reference product not found", http.StatusNotFound)
	case errors.Is(err, forecast.ErrProductExists):
		writeError(w, "product already exists", http.StatusConflict)
	case err != nil:
		s.internalError(w, "failed to launch product", err)
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

// --- Transfers ---

// Recommendations handles GET /api/v1/transfers/recommendations?vehicle_capacity=
func (s *Service) Recommendations(w http.ResponseWriter, r *http.Request) {
	capacity := 0
	if v := r.URL.Query().Get("vehicle_capacity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, "vehicle_capacity must be an integer", http.StatusBadRequest)
			return
		}
		if n < 1 {
			writeError(w, fmt.Sprintf("vehicle_capacity must be 1-%d", matcher.MaxVehicleCapacity), http.StatusBadRequest)
			return
		}
		capacity = n
	}

	start := time.Now()
	recs, err := s.matcher.Recommend(r.Context(), capacity)
	if errors.Is(err, matcher.ErrInvalidCapacity) {
		writeError(w, fmt.Sprintf("vehicle_capacity must be 1-%d", matcher.MaxVehicleCapacity), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.internalError(w, "failed to generate recommendations", err)
		return
	}
	metrics.MatchLatency.Observe(time.Since(start).Seconds())
	for _, rec := range recs {
		metrics.RecommendationsTotal.WithLabelValues(string(rec.Source.Tier)).Inc()
	}

	if recs == nil {
		recs = []model.TransferRecommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// RejectTransfer handles POST /api/v1/transfers/reject
// reasonLabel folds free-form reasons into one metric label.
func reasonLabel(r model.RejectionReason) string {
	switch r {
	case model.ReasonCost, model.ReasonOps, model.ReasonStrategy:
		return string(r)
	}
	return "OTHER"
}

func (s *Service) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decode(w, r, &req) {
		return
	}

	score, err := s.penalties.RecordRejection(r.Context(), penalty.Rejection{
		TransferID:    req.TransferID,
		SourceStoreID: req.SourceStoreID,
		TargetStoreID: req.TargetStoreID,
		ProductID:     req.ProductID,
		Reason:        req.Reason,
	})
	if errors.Is(err, penalty.ErrMissingRoute) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.internalError(w, "failed to record rejection", err)
		return
	}
	metrics.RejectionsTotal.WithLabelValues(reasonLabel(req.Reason)).Inc()

	resp := RejectResponse{
		SourceStoreID:   req.SourceStoreID,
		TargetStoreID:   req.TargetStoreID,
		NewPenaltyScore: score,
	}
	if s.hub != nil {
		s.hub.Broadcast(Event{Type: EventRejectionRecorded, Data: resp})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExecuteTransfer handles POST /api/v1/transfers
func (s *Service) ExecuteTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}

	t, err := s.transfers.Execute(r.Context(), transfer.Request{
		SourceStoreID:   req.SourceStoreID,
		TargetStoreID:   req.TargetStoreID,
		ProductID:       req.ProductID,
		Amount:          req.Amount,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		s.transferError(w, err)
		return
	}
	metrics.TransfersExecuted.Inc()

	if s.hub != nil {
		s.hub.Broadcast(Event{Type: EventTransferExecuted, Data: t})
	}
	writeJSON(w, http.StatusCreated, t)
}

// WhatIf handles POST /api/v1/transfers/what-if
func (s *Service) WhatIf(w http.ResponseWriter, r *http.Request) {
	var req WhatIfRequest
	if !decode(w, r, &req) {
		return
	}

	sim, err := s.transfers.WhatIf(r.Context(), req.SourceStoreID, req.TargetStoreID, req.ProductID, req.Amount)
	if err != nil {
		s.transferError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

// transferError maps executor errors to HTTP statuses.
func (s *Service) transferError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transfer.ErrStoreNotFound),
		errors.Is(err, transfer.ErrPositionNotFound),
		errors.Is(err, transfer.ErrProductNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, transfer.ErrStaleVersion):
		metrics.TransferConflicts.WithLabelValues("stale_version").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, transfer.ErrInsufficientStock):
		metrics.TransferConflicts.WithLabelValues("insufficient_stock").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, transfer.ErrInvalidAmount), errors.Is(err, transfer.ErrSameStore):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		s.internalError(w, "transfer failed", err)
	}
}

func (s *Service) notFoundOr500(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, msg, http.StatusNotFound)
		return
	}
	s.internalError(w, "store lookup failed", err)
}

func (s *Service) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "err", err)
	writeError(w, msg, http.StatusInternalServerError)
}

// decode reads and validates a JSON body. It writes the 400 response itself
// and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validation.Struct(dst); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
