package adplatform

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/types"
)

// ReviewSink persists intended operations for human review. It is satisfied
// by the pending-review repo; the indirection keeps this package off gorm's
// query API.
type ReviewSink interface {
	Record(ctx context.Context, record *types.PendingReview) error
}

// Sandbox wraps an adapter so every mutating operation is captured as a
// pending-review record before any real spend can occur. In record-only mode
// the operation is not forwarded at all; otherwise it is recorded and then
// sent. Reads always pass through.
type Sandbox struct {
	log        *logger.Logger
	inner      Adapter
	sink       ReviewSink
	recordOnly bool
}

func NewSandbox(baseLog *logger.Logger, inner Adapter, sink ReviewSink, recordOnly bool) *Sandbox {
	return &Sandbox{
		log:        baseLog.With("adapter", "sandbox", "platform", inner.Platform()),
		inner:      inner,
		sink:       sink,
		recordOnly: recordOnly,
	}
}

func (s *Sandbox) Platform() string { return s.inner.Platform() }

func (s *Sandbox) record(ctx context.Context, operation, externalID string, request interface{}) {
	raw, err := json.Marshal(request)
	if err != nil {
		raw = []byte("{}")
	}
	rec := &types.PendingReview{
		ID:         uuid.New(),
		Platform:   s.inner.Platform(),
		Operation:  operation,
		ExternalID: externalID,
		Request:    datatypes.JSON(raw),
		CreatedAt:  time.Now(),
	}
	if err := s.sink.Record(ctx, rec); err != nil {
		s.log.Warn("Failed to persist pending review record", "operation", operation, "error", err)
	}
}

func (s *Sandbox) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	s.record(ctx, "create", "", spec)
	if s.recordOnly {
		// A deterministic placeholder id keeps downstream bookkeeping intact
		// while nothing is actually sent.
		return "sandbox-" + DeterministicID(spec.Title, spec.CreativeKey, spec.BudgetCents), nil
	}
	return s.inner.CreateCampaign(ctx, spec)
}

func (s *Sandbox) UpdateCampaign(ctx context.Context, id string, update CampaignUpdate) error {
	s.record(ctx, "update", id, update)
	if s.recordOnly {
		return nil
	}
	return s.inner.UpdateCampaign(ctx, id, update)
}

func (s *Sandbox) PauseCampaign(ctx context.Context, id string) error {
	s.record(ctx, "pause", id, nil)
	if s.recordOnly {
		return nil
	}
	return s.inner.PauseCampaign(ctx, id)
}

func (s *Sandbox) ResumeCampaign(ctx context.Context, id string) error {
	s.record(ctx, "resume", id, nil)
	if s.recordOnly {
		return nil
	}
	return s.inner.ResumeCampaign(ctx, id)
}

func (s *Sandbox) DeleteCampaign(ctx context.Context, id string) error {
	s.record(ctx, "delete", id, nil)
	if s.recordOnly {
		return nil
	}
	return s.inner.DeleteCampaign(ctx, id)
}

func (s *Sandbox) GetCampaignStatus(ctx context.Context, id string) (*CampaignStatus, error) {
	return s.inner.GetCampaignStatus(ctx, id)
}
