package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/types"
)

type OptimizePayload struct {
	CampaignID    *uuid.UUID `json:"campaign_id,omitempty"`
	LookbackHours int        `json:"lookback_hours,omitempty"`
}

// OptimizeWorker runs optimization off the queue: a payload with a campaign
// id targets that campaign, without one it sweeps every active auto-optimize
// campaign.
type OptimizeWorker struct {
	log       *logger.Logger
	optimizer OptimizerService
}

func NewOptimizeWorker(baseLog *logger.Logger, optimizer OptimizerService) *OptimizeWorker {
	return &OptimizeWorker{
		log:       baseLog.With("worker", "OptimizeWorker"),
		optimizer: optimizer,
	}
}

func (w *OptimizeWorker) Handle(ctx context.Context, job *types.JobRun) error {
	var payload OptimizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return validationErr("bad_payload", "optimize payload: %v", err)
	}
	if payload.CampaignID == nil {
		return w.optimizer.SweepActive(ctx, payload.LookbackHours)
	}
	result, err := w.optimizer.OptimizeCampaign(ctx, *payload.CampaignID, payload.LookbackHours)
	if err != nil {
		return err
	}
	w.log.Info("Optimize job finished", "campaign_id", *payload.CampaignID,
		"applied", result.Applied, "winner_group", result.WinnerGroup,
		"paused", result.Paused, "scaled", result.Scaled)
	return nil
}
