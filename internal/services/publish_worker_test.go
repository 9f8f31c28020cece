package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
	"github.com/adpilot/adpilot-backend/internal/types"
)

// stubAdapter counts create calls and fails on demand, so retry tests can
// assert which platforms were actually touched.
type stubAdapter struct {
	platform    string
	createErr   error
	createCalls int
	lastCreds   adplatform.Credentials
	statusResp  *adplatform.CampaignStatus
	statusErr   error
	statusCalls int
}

func (a *stubAdapter) Platform() string { return a.platform }

func (a *stubAdapter) CreateCampaign(ctx context.Context, spec adplatform.CampaignSpec) (string, error) {
	a.createCalls++
	if a.createErr != nil {
		return "", a.createErr
	}
	return a.platform + "-ext-1", nil
}

func (a *stubAdapter) UpdateCampaign(ctx context.Context, id string, update adplatform.CampaignUpdate) error {
	return nil
}
func (a *stubAdapter) PauseCampaign(ctx context.Context, id string) error  { return nil }
func (a *stubAdapter) ResumeCampaign(ctx context.Context, id string) error { return nil }
func (a *stubAdapter) DeleteCampaign(ctx context.Context, id string) error { return nil }
func (a *stubAdapter) GetCampaignStatus(ctx context.Context, id string) (*adplatform.CampaignStatus, error) {
	a.statusCalls++
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	if a.statusResp != nil {
		return a.statusResp, nil
	}
	return &adplatform.CampaignStatus{ID: id, Status: adplatform.StatusActive}, nil
}

type fakePublishRecordRepo struct {
	records map[string]*types.PublishRecord
}

func newFakePublishRecordRepo() *fakePublishRecordRepo {
	return &fakePublishRecordRepo{records: map[string]*types.PublishRecord{}}
}

func (r *fakePublishRecordRepo) key(unitID uuid.UUID, platform string) string {
	return unitID.String() + "|" + platform
}

func (r *fakePublishRecordRepo) Upsert(ctx context.Context, tx *gorm.DB, record *types.PublishRecord) error {
	r.records[r.key(record.UnitID, record.Platform)] = record
	return nil
}

func (r *fakePublishRecordRepo) ListByUnit(ctx context.Context, tx *gorm.DB, unitID uuid.UUID) ([]*types.PublishRecord, error) {
	var out []*types.PublishRecord
	for _, rec := range r.records {
		if rec.UnitID == unitID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakePublishRecordRepo) get(unitID uuid.UUID, platform string) *types.PublishRecord {
	return r.records[r.key(unitID, platform)]
}

type publishFixture struct {
	worker   *PublishWorker
	variants *fakeVariantRepo
	records  *fakePublishRecordRepo
	meta     *stubAdapter
	tiktok   *stubAdapter
}

func newPublishFixture(t *testing.T, variant *types.AdVariant) *publishFixture {
	t.Helper()
	meta := &stubAdapter{platform: adplatform.PlatformMeta}
	tiktok := &stubAdapter{platform: adplatform.PlatformTikTok}
	registry := adplatform.NewRegistry()
	registry.Register(adplatform.PlatformMeta, meta)
	registry.Register(adplatform.PlatformTikTok, tiktok)

	variants := newFakeVariantRepo(variant)
	records := newFakePublishRecordRepo()
	worker := &PublishWorker{
		log:      testLogger(t).With("worker", "PublishWorker"),
		cfg:      queueConfig(),
		variants: variants,
		records:  records,
		registry: registry,
	}
	return &publishFixture{worker: worker, variants: variants, records: records, meta: meta, tiktok: tiktok}
}

func pendingVariant() *types.AdVariant {
	return &types.AdVariant{
		ID:          uuid.New(),
		CampaignID:  uuid.New(),
		Label:       "A-meta",
		CreativeKey: "creatives/a-meta",
		Platform:    adplatform.PlatformMeta,
		BudgetCents: 5000,
		TestGroup:   "A",
		Status:      types.VariantStatusPending,
	}
}

func publishJob(t *testing.T, variant *types.AdVariant, attempts int, platforms ...string) *types.JobRun {
	t.Helper()
	payload := PublishPayload{
		UnitID:      variant.ID,
		CampaignID:  variant.CampaignID,
		Title:       variant.Label,
		CreativeKey: variant.CreativeKey,
		BudgetCents: variant.BudgetCents,
	}
	for _, p := range platforms {
		payload.Platforms = append(payload.Platforms, PublishTarget{
			Platform:  p,
			Targeting: adplatform.Targeting{AgeMin: 18, AgeMax: 45, Geos: []string{"US"}},
		})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &types.JobRun{ID: uuid.New(), Queue: types.QueuePublish, Payload: datatypes.JSON(raw), Attempts: attempts}
}

func TestPublishSuccessActivatesVariant(t *testing.T) {
	variant := pendingVariant()
	fx := newPublishFixture(t, variant)

	job := publishJob(t, variant, 1, adplatform.PlatformMeta)
	if err := fx.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if variant.Status != types.VariantStatusActive {
		t.Fatalf("variant must go active, got %q", variant.Status)
	}
	if variant.ExternalID == nil || *variant.ExternalID != "meta-ext-1" {
		t.Fatalf("external id not stored, got %v", variant.ExternalID)
	}
	rec := fx.records.get(variant.ID, adplatform.PlatformMeta)
	if rec == nil || rec.Status != types.PublishStatusPublished || rec.ExternalID != "meta-ext-1" {
		t.Fatalf("unexpected publish record: %+v", rec)
	}
}

func TestPublishRetrySkipsPublishedPlatforms(t *testing.T) {
	variant := pendingVariant()
	fx := newPublishFixture(t, variant)
	fx.tiktok.createErr = errors.New("upstream 502")

	job := publishJob(t, variant, 1, adplatform.PlatformMeta, adplatform.PlatformTikTok)
	err := fx.worker.Handle(context.Background(), job)
	if err == nil {
		t.Fatal("expected the partial failure to surface")
	}
	if !strings.Contains(err.Error(), "partial publish (1/2 platforms)") {
		t.Fatalf("expected a partial publish error, got %v", err)
	}
	if rec := fx.records.get(variant.ID, adplatform.PlatformTikTok); rec == nil || rec.Status != types.PublishStatusPartial {
		t.Fatalf("platform awaiting retry must have a partial record, got %+v", rec)
	}

	// Retry: the platform that already succeeded must not be created again.
	fx.tiktok.createErr = nil
	job.Attempts = 2
	if err := fx.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if fx.meta.createCalls != 1 {
		t.Fatalf("published platform re-created on retry: %d calls", fx.meta.createCalls)
	}
	if fx.tiktok.createCalls != 2 {
		t.Fatalf("failed platform must be retried, got %d calls", fx.tiktok.createCalls)
	}
	if rec := fx.records.get(variant.ID, adplatform.PlatformTikTok); rec.Status != types.PublishStatusPublished {
		t.Fatalf("retried platform must end published, got %+v", rec)
	}
}

func TestPublishTerminalFailureMarksVariantFailed(t *testing.T) {
	variant := pendingVariant()
	fx := newPublishFixture(t, variant)
	fx.meta.createErr = &adplatform.InsufficientBudgetError{
		Platform: adplatform.PlatformMeta, RequestedCents: 100, MinimumCents: 500,
	}

	job := publishJob(t, variant, 1, adplatform.PlatformMeta)
	err := fx.worker.Handle(context.Background(), job)
	var budget *adplatform.InsufficientBudgetError
	if !errors.As(err, &budget) {
		t.Fatalf("expected the budget error to surface, got %v", err)
	}
	if variant.Status != types.VariantStatusFailed {
		t.Fatalf("terminal failure with zero successes must fail the variant, got %q", variant.Status)
	}

	rec := fx.records.get(variant.ID, adplatform.PlatformMeta)
	if rec == nil || rec.Status != types.PublishStatusFailed {
		t.Fatalf("unexpected record: %+v", rec)
	}
	var diag map[string]string
	if err := json.Unmarshal(rec.Diagnostics, &diag); err != nil {
		t.Fatalf("diagnostics not JSON: %v", err)
	}
	if diag["code"] != "insufficient_budget" {
		t.Fatalf("expected insufficient_budget code, got %q", diag["code"])
	}
}

func TestPublishRetryableFailureKeepsVariantPending(t *testing.T) {
	variant := pendingVariant()
	fx := newPublishFixture(t, variant)
	fx.meta.createErr = errors.New("upstream 502")

	job := publishJob(t, variant, 1, adplatform.PlatformMeta)
	if err := fx.worker.Handle(context.Background(), job); err == nil {
		t.Fatal("expected the failure to surface")
	}
	if variant.Status != types.VariantStatusPending {
		t.Fatalf("variant must stay pending while retries remain, got %q", variant.Status)
	}
}

func TestPublishRecordPartialUntilRetriesExhausted(t *testing.T) {
	variant := pendingVariant()
	fx := newPublishFixture(t, variant)
	fx.meta.createErr = errors.New("upstream 502")

	if err := fx.worker.Handle(context.Background(), publishJob(t, variant, 1, adplatform.PlatformMeta)); err == nil {
		t.Fatal("expected the failure to surface")
	}
	if rec := fx.records.get(variant.ID, adplatform.PlatformMeta); rec == nil || rec.Status != types.PublishStatusPartial {
		t.Fatalf("retryable failure with attempts left must record partial, got %+v", rec)
	}

	if err := fx.worker.Handle(context.Background(), publishJob(t, variant, queueConfig().MaxAttempts, adplatform.PlatformMeta)); err == nil {
		t.Fatal("expected the failure to surface")
	}
	if rec := fx.records.get(variant.ID, adplatform.PlatformMeta); rec.Status != types.PublishStatusFailed {
		t.Fatalf("exhausted attempts must record failed, got %+v", rec)
	}
}

func TestPublishExhaustedAttemptsFailVariant(t *testing.T) {
	variant := pendingVariant()
	fx := newPublishFixture(t, variant)
	fx.meta.createErr = errors.New("upstream 502")

	job := publishJob(t, variant, queueConfig().MaxAttempts, adplatform.PlatformMeta)
	if err := fx.worker.Handle(context.Background(), job); err == nil {
		t.Fatal("expected the failure to surface")
	}
	if variant.Status != types.VariantStatusFailed {
		t.Fatalf("last attempt with zero successes must fail the variant, got %q", variant.Status)
	}
}

func TestPublishBadPayloadIsTerminal(t *testing.T) {
	variant := pendingVariant()
	fx := newPublishFixture(t, variant)

	job := &types.JobRun{ID: uuid.New(), Queue: types.QueuePublish, Payload: datatypes.JSON(`"nope"`), Attempts: 1}
	err := fx.worker.Handle(context.Background(), job)
	var v *ValidationError
	if !errors.As(err, &v) || v.Reason != "bad_payload" {
		t.Fatalf("expected bad_payload validation error, got %v", err)
	}
}

func TestPublishUnknownVariant(t *testing.T) {
	fx := newPublishFixture(t, pendingVariant())

	missing := &types.AdVariant{ID: uuid.New(), Label: "ghost", CreativeKey: "creatives/ghost", BudgetCents: 1000}
	job := publishJob(t, missing, 1, adplatform.PlatformMeta)
	if err := fx.worker.Handle(context.Background(), job); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPublishUnknownPlatformIsTerminal(t *testing.T) {
	variant := pendingVariant()
	fx := newPublishFixture(t, variant)

	job := publishJob(t, variant, 1, "myspace")
	err := fx.worker.Handle(context.Background(), job)
	var v *ValidationError
	if !errors.As(err, &v) || v.Reason != "unknown_platform" {
		t.Fatalf("expected unknown_platform validation error, got %v", err)
	}
}

func TestPublishSealedCredentialsReachFactory(t *testing.T) {
	variant := pendingVariant()
	fx := newPublishFixture(t, variant)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	creds, err := NewCredentialServiceWithKey(testLogger(t), key)
	if err != nil {
		t.Fatalf("credential service init failed: %v", err)
	}
	fx.worker.creds = creds

	bound := &stubAdapter{platform: adplatform.PlatformMeta}
	fx.worker.registry.RegisterFactory(adplatform.PlatformMeta, func(c adplatform.Credentials) adplatform.Adapter {
		bound.lastCreds = c
		return bound
	})

	sealed, err := creds.Encrypt(adplatform.Credentials{AccessToken: "tok-123", AccountID: "acct-9"})
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	payload := PublishPayload{
		UnitID:      variant.ID,
		CampaignID:  variant.CampaignID,
		Title:       variant.Label,
		CreativeKey: variant.CreativeKey,
		BudgetCents: variant.BudgetCents,
		Platforms: []PublishTarget{{
			Platform:    adplatform.PlatformMeta,
			Credentials: sealed,
		}},
	}
	raw, _ := json.Marshal(payload)
	job := &types.JobRun{ID: uuid.New(), Queue: types.QueuePublish, Payload: datatypes.JSON(raw), Attempts: 1}

	if err := fx.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("publish with sealed credentials failed: %v", err)
	}
	if bound.createCalls != 1 || fx.meta.createCalls != 0 {
		t.Fatalf("factory-bound adapter must handle the create, got bound=%d default=%d", bound.createCalls, fx.meta.createCalls)
	}
	if bound.lastCreds.AccessToken != "tok-123" || bound.lastCreds.AccountID != "acct-9" {
		t.Fatalf("credentials did not survive the seal/open round trip: %+v", bound.lastCreds)
	}
}
