package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
	"github.com/adpilot/adpilot-backend/internal/config"
	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/repos"
	"github.com/adpilot/adpilot-backend/internal/types"
)

// PublishWorker executes publish jobs: one adapter create per platform in the
// payload, with a publish record upserted per (unit, platform) so a retried
// job touches only the platforms that have not succeeded yet.
type PublishWorker struct {
	db       *gorm.DB
	log      *logger.Logger
	cfg      config.Queue
	variants repos.AdVariantRepo
	records  repos.PublishRecordRepo
	creds    CredentialService
	registry *adplatform.Registry
}

func NewPublishWorker(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.Queue,
	variants repos.AdVariantRepo,
	records repos.PublishRecordRepo,
	creds CredentialService,
	registry *adplatform.Registry,
) *PublishWorker {
	return &PublishWorker{
		db:       db,
		log:      baseLog.With("worker", "PublishWorker"),
		cfg:      cfg,
		variants: variants,
		records:  records,
		creds:    creds,
		registry: registry,
	}
}

func (w *PublishWorker) Handle(ctx context.Context, job *types.JobRun) error {
	var payload PublishPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return validationErr("bad_payload", "publish payload: %v", err)
	}
	if len(payload.Platforms) == 0 {
		return validationErr("bad_payload", "publish payload has no platforms")
	}

	variant, err := w.variants.GetByID(ctx, nil, payload.UnitID)
	if err != nil {
		return err
	}
	if variant == nil {
		return ErrNotFound
	}

	existing, err := w.records.ListByUnit(ctx, nil, payload.UnitID)
	if err != nil {
		return err
	}
	published := map[string]bool{}
	for _, rec := range existing {
		if rec.Status == types.PublishStatusPublished {
			published[rec.Platform] = true
		}
	}

	successes := len(published)
	var firstRetryable, firstTerminal error
	for _, target := range payload.Platforms {
		if published[target.Platform] {
			continue
		}
		externalID, pubErr := w.publishOne(ctx, payload, target)
		w.upsertRecord(ctx, payload, target.Platform, externalID, pubErr, w.lastAttempt(job, pubErr))
		if pubErr != nil {
			w.log.Warn("Platform publish failed",
				"unit_id", payload.UnitID, "platform", target.Platform, "error", pubErr)
			if isTerminalJobError(pubErr) {
				if firstTerminal == nil {
					firstTerminal = pubErr
				}
			} else if firstRetryable == nil {
				firstRetryable = pubErr
			}
			continue
		}
		successes++
		if sErr := w.variants.SetExternalID(ctx, nil, variant.ID, externalID); sErr != nil {
			w.log.Error("Failed to store external id", "variant_id", variant.ID, "error", sErr)
		}
		if uErr := w.variants.UpdateFields(ctx, nil, variant.ID, map[string]interface{}{
			"status": types.VariantStatusActive,
		}); uErr != nil {
			w.log.Error("Failed to activate variant", "variant_id", variant.ID, "error", uErr)
		}
	}

	if firstRetryable == nil && firstTerminal == nil {
		return nil
	}

	// A retryable failure wins the classification so remaining platforms get
	// their attempts; the upserts above already preserved the successes.
	outcome := firstRetryable
	if outcome == nil {
		outcome = firstTerminal
	}
	if successes == 0 && w.lastAttempt(job, outcome) {
		if uErr := w.variants.UpdateFields(ctx, nil, variant.ID, map[string]interface{}{
			"status": types.VariantStatusFailed,
		}); uErr != nil {
			w.log.Error("Failed to mark variant failed", "variant_id", variant.ID, "error", uErr)
		}
	}
	if successes > 0 {
		return fmt.Errorf("partial publish (%d/%d platforms): %w",
			successes, len(payload.Platforms), outcome)
	}
	return outcome
}

// lastAttempt reports whether the queue will move this job to dead after the
// current failure.
func (w *PublishWorker) lastAttempt(job *types.JobRun, err error) bool {
	return job.Attempts >= w.cfg.MaxAttempts || isTerminalJobError(err)
}

func (w *PublishWorker) publishOne(ctx context.Context, payload PublishPayload, target PublishTarget) (string, error) {
	var adapter adplatform.Adapter
	var err error
	if target.Credentials != "" {
		creds, dErr := w.creds.Decrypt(target.Credentials)
		if dErr != nil {
			return "", validationErr("bad_credentials", "decrypt %s credentials: %v", target.Platform, dErr)
		}
		adapter, err = w.registry.ForCredentials(target.Platform, creds)
	} else {
		adapter, err = w.registry.Get(target.Platform)
	}
	if err != nil {
		return "", validationErr("unknown_platform", "no adapter for platform %q", target.Platform)
	}

	metadata := map[string]string{"caption": payload.Caption}
	for k, v := range target.Options {
		metadata[k] = v
	}
	return adapter.CreateCampaign(ctx, adplatform.CampaignSpec{
		Title:       payload.Title,
		CreativeKey: payload.CreativeKey,
		BudgetCents: payload.BudgetCents,
		Targeting:   target.Targeting,
		Metadata:    metadata,
	})
}

// upsertRecord projects the per-platform outcome: published on success,
// partial while the queue still has attempts left, failed once the failure is
// final.
func (w *PublishWorker) upsertRecord(ctx context.Context, payload PublishPayload, platform, externalID string, pubErr error, final bool) {
	record := &types.PublishRecord{
		UnitID:   payload.UnitID,
		Platform: platform,
		Status:   types.PublishStatusPublished,
	}
	if pubErr != nil {
		record.Status = types.PublishStatusPartial
		if final {
			record.Status = types.PublishStatusFailed
		}
		diag, _ := json.Marshal(map[string]string{"error": pubErr.Error(), "code": publishErrCode(pubErr)})
		record.Diagnostics = datatypes.JSON(diag)
	} else {
		record.ExternalID = externalID
	}
	if err := w.records.Upsert(ctx, nil, record); err != nil {
		w.log.Error("Failed to upsert publish record",
			"unit_id", payload.UnitID, "platform", platform, "error", err)
	}
}

func publishErrCode(err error) string {
	var (
		budget    *adplatform.InsufficientBudgetError
		targeting *adplatform.InvalidTargetingError
		creative  *adplatform.CreativeNotFoundError
		api       *adplatform.AdPlatformError
	)
	switch {
	case errors.As(err, &budget):
		return "insufficient_budget"
	case errors.As(err, &targeting):
		return "invalid_targeting"
	case errors.As(err, &creative):
		return "creative_not_found"
	case errors.As(err, &api):
		return api.Code
	default:
		return "error"
	}
}
