// Package penalty turns planner rejections into per-route penalty scores
// that bias later matching runs away from rejected routes.
package penalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/retaildss/rebalance-engine/internal/model"
)

// ErrMissingRoute is returned when a rejection names no source or target.
var ErrMissingRoute = errors.New("penalty: source and target stores are required")

// Weight returns the penalty increment of a rejection reason. Unknown
// reasons weigh the same as COST.
func Weight(reason model.RejectionReason) float64 {
	switch reason {
	case model.ReasonOps:
		return 2.5
	case model.ReasonStrategy:
		return 5.0
	default:
		return 1.0
	}
}

// Sink persists a rejection and its penalty increment atomically.
type Sink interface {
	RecordRejection(ctx context.Context, r *model.TransferRejection, increment float64) (float64, error)
}

// Source lists the current route penalties.
type Source interface {
	ListRoutePenalties(ctx context.Context) ([]model.RoutePenalty, error)
}

// Rejection is the input of Recorder.RecordRejection.
type Rejection struct {
	TransferID    string
	SourceStoreID string
	TargetStoreID string
	ProductID     string
	Reason        model.RejectionReason
}

// Recorder records planner rejections.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. A nil logger uses slog.Default().
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// RecordRejection appends the rejection and raises the route penalty by the
// reason's weight. Returns the new cumulative score of the route.
func (r *Recorder) RecordRejection(ctx context.Context, rej Rejection) (float64, error) {
	if rej.SourceStoreID == "" || rej.TargetStoreID == "" {
		return 0, ErrMissingRoute
	}

	rec := &model.TransferRejection{
		ID:            uuid.New().String(),
		TransferID:    rej.TransferID,
		SourceStoreID: rej.SourceStoreID,
		TargetStoreID: rej.TargetStoreID,
		ProductID:     rej.ProductID,
		Reason:        rej.Reason,
		CreatedAt:     r.now().UTC(),
	}
	weight := Weight(rej.Reason)

	score, err := r.sink.RecordRejection(ctx, rec, weight)
	if err != nil {
		return 0, fmt.Errorf("record rejection %s->%s: %w", rej.SourceStoreID, rej.TargetStoreID, err)
	}

	r.logger.Info("rejection recorded",
		"source", rej.SourceStoreID, "target", rej.TargetStoreID,
		"product", rej.ProductID, "reason", rej.Reason,
		"weight", weight, "score", score)
	return score, nil
}

// Map is a point-in-time view of route penalties, owned by one matching run.
type Map map[model.RouteKey]float64

// Load reads the whole penalty table once.
func Load(ctx context.Context, src Source) (Map, error) {
	penalties, err := src.ListRoutePenalties(ctx)
	if err != nil {
		return nil, fmt.Errorf("load route penalties: %w", err)
	}
	m := make(Map, len(penalties))
	for _, p := range penalties {
		m[model.RouteKey{SourceStoreID: p.SourceStoreID, TargetStoreID: p.TargetStoreID}] = p.Score
	}
	return m, nil
}

// Score returns the penalty of a route, or 0 when it was never rejected.
func (m Map) Score(sourceID, targetID string) float64 {
	return m[model.RouteKey{SourceStoreID: sourceID, TargetStoreID: targetID}]
}
