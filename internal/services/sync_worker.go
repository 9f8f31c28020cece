package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/clients/crm"
	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/repos"
	"github.com/adpilot/adpilot-backend/internal/types"
)

type SyncPayload struct {
	EntityID uuid.UUID              `json:"entity_id"`
	UserID   uuid.UUID              `json:"user_id"`
	SyncType string                 `json:"sync_type"`
	Data     map[string]interface{} `json:"data"`
}

// SyncWorker pushes lead/contact entities into the CRM. Entities already
// synced are skipped on retry, and a contact the CRM resolves to an external
// id we have already recorded is marked duplicate instead of synced.
type SyncWorker struct {
	db      *gorm.DB
	log     *logger.Logger
	crm     crm.Client
	records repos.SyncRecordRepo
}

func NewSyncWorker(db *gorm.DB, baseLog *logger.Logger, crmClient crm.Client, records repos.SyncRecordRepo) *SyncWorker {
	return &SyncWorker{
		db:      db,
		log:     baseLog.With("worker", "SyncWorker"),
		crm:     crmClient,
		records: records,
	}
}

func (w *SyncWorker) Handle(ctx context.Context, job *types.JobRun) error {
	var payload SyncPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return validationErr("bad_payload", "sync payload: %v", err)
	}
	email, _ := payload.Data["email"].(string)
	if email == "" {
		return validationErr("bad_payload", "sync payload missing email")
	}

	// Retry after a partial success: the entity may already be recorded.
	prior, err := w.records.GetByEntity(ctx, nil, payload.EntityID, payload.SyncType)
	if err != nil {
		return err
	}
	if prior != nil && prior.Status != types.SyncStatusFailed {
		w.log.Info("Entity already synced, skipping", "entity_id", payload.EntityID, "status", prior.Status)
		return nil
	}

	name, _ := payload.Data["name"].(string)
	contact, err := w.crm.CreateContact(ctx, crm.CreateContactRequest{
		Email:      email,
		Name:       name,
		Source:     "adpilot",
		Attributes: payload.Data,
	})
	if err != nil {
		// 429/5xx propagate for the scheduler; 4xx is terminal. Either way
		// the failure is recorded for auditability.
		w.recordOutcome(ctx, payload, "", types.SyncStatusFailed, err)
		return err
	}

	status := types.SyncStatusSynced
	dupe, err := w.records.GetSyncedByExternalID(ctx, nil, contact.ID)
	if err != nil {
		return err
	}
	if dupe != nil && dupe.EntityID != payload.EntityID {
		status = types.SyncStatusDuplicate
		w.log.Info("CRM resolved to an already-synced contact, marking duplicate",
			"entity_id", payload.EntityID, "external_contact_id", contact.ID)
	}
	w.recordOutcome(ctx, payload, contact.ID, status, nil)
	return nil
}

func (w *SyncWorker) recordOutcome(ctx context.Context, payload SyncPayload, externalID, status string, syncErr error) {
	detail := map[string]interface{}{}
	if syncErr != nil {
		detail["error"] = syncErr.Error()
	}
	raw, _ := json.Marshal(detail)
	record := &types.SyncRecord{
		ID:                uuid.New(),
		EntityID:          payload.EntityID,
		UserID:            payload.UserID,
		SyncType:          payload.SyncType,
		ExternalContactID: externalID,
		Status:            status,
		Detail:            datatypes.JSON(raw),
	}
	if _, err := w.records.Create(ctx, nil, record); err != nil {
		w.log.Error("Failed to record sync outcome", "entity_id", payload.EntityID, "error", err)
	}
}
