package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adpilot/adpilot-backend/internal/logger"
)

const tiktokMinBudgetCents = 2000

// tiktokAdapter models the TikTok Ads API conventions: everything is a POST
// with an envelope {code, message, data}, status values are prefixed enums
// and numeric metrics come back as strings.
type tiktokAdapter struct {
	log        *logger.Logger
	baseURL    string
	creds      Credentials
	httpClient *http.Client
}

func NewTikTokAdapter(baseLog *logger.Logger, baseURL string, creds Credentials) Adapter {
	if baseURL == "" {
		baseURL = "https://business-api.tiktok.com/open_api/v1.3"
	}
	return &tiktokAdapter{
		log:        baseLog.With("adapter", "tiktok"),
		baseURL:    baseURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *tiktokAdapter) Platform() string { return PlatformTikTok }

var tiktokStatusMap = map[string]string{
	"CAMPAIGN_STATUS_ENABLE":      StatusActive,
	"CAMPAIGN_STATUS_DISABLE":     StatusPaused,
	"CAMPAIGN_STATUS_AUDIT":       StatusPending,
	"CAMPAIGN_STATUS_AUDIT_DENY":  StatusRejected,
	"CAMPAIGN_STATUS_TIME_DONE":   StatusCompleted,
	"CAMPAIGN_STATUS_DELETE":      StatusFailed,
	"CAMPAIGN_STATUS_BUDGET_EXCEED": StatusPaused,
}

func (a *tiktokAdapter) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	if err := validateSpec(PlatformTikTok, spec, tiktokMinBudgetCents); err != nil {
		return "", err
	}

	body := map[string]interface{}{
		"advertiser_id":  a.creds.AccountID,
		"campaign_name":  spec.Title,
		"objective_type": "TRAFFIC",
		// TikTok budgets are whole currency units.
		"budget":      float64(spec.BudgetCents) / 100,
		"budget_mode": "BUDGET_MODE_TOTAL",
		"creative": map[string]interface{}{
			"material_key": spec.CreativeKey,
		},
		"targeting": map[string]interface{}{
			"age_groups":     tiktokAgeGroups(spec.Targeting),
			"location_ids":   spec.Targeting.Geos,
			"interest_words": spec.Targeting.Interests,
			"placements":     spec.Targeting.Placements,
		},
	}
	data, err := a.call(ctx, "/campaign/create/", body)
	if err != nil {
		return "", err
	}
	id := asString(data["campaign_id"])
	if id == "" {
		return "", &AdPlatformError{Platform: PlatformTikTok, Operation: "create", Code: "missing_id", Message: "campaign create returned no campaign_id"}
	}
	return id, nil
}

func (a *tiktokAdapter) UpdateCampaign(ctx context.Context, id string, update CampaignUpdate) error {
	body := map[string]interface{}{
		"advertiser_id": a.creds.AccountID,
		"campaign_id":   id,
	}
	if update.Title != nil {
		body["campaign_name"] = *update.Title
	}
	if update.BudgetCents != nil {
		if *update.BudgetCents < tiktokMinBudgetCents {
			return &InsufficientBudgetError{Platform: PlatformTikTok, RequestedCents: *update.BudgetCents, MinimumCents: tiktokMinBudgetCents}
		}
		body["budget"] = float64(*update.BudgetCents) / 100
	}
	if update.Targeting != nil {
		if err := validateTargeting(PlatformTikTok, *update.Targeting); err != nil {
			return err
		}
		body["targeting"] = map[string]interface{}{
			"age_groups":   tiktokAgeGroups(*update.Targeting),
			"location_ids": update.Targeting.Geos,
		}
	}
	_, err := a.call(ctx, "/campaign/update/", body)
	return err
}

func (a *tiktokAdapter) PauseCampaign(ctx context.Context, id string) error {
	return a.setOperationStatus(ctx, id, "DISABLE")
}

func (a *tiktokAdapter) ResumeCampaign(ctx context.Context, id string) error {
	return a.setOperationStatus(ctx, id, "ENABLE")
}

func (a *tiktokAdapter) DeleteCampaign(ctx context.Context, id string) error {
	return a.setOperationStatus(ctx, id, "DELETE")
}

func (a *tiktokAdapter) setOperationStatus(ctx context.Context, id, op string) error {
	_, err := a.call(ctx, "/campaign/status/update/", map[string]interface{}{
		"advertiser_id":    a.creds.AccountID,
		"campaign_ids":     []string{id},
		"operation_status": op,
	})
	return err
}

func (a *tiktokAdapter) GetCampaignStatus(ctx context.Context, id string) (*CampaignStatus, error) {
	data, err := a.call(ctx, "/campaign/get/", map[string]interface{}{
		"advertiser_id": a.creds.AccountID,
		"campaign_ids":  []string{id},
	})
	if err != nil {
		return nil, err
	}
	list, _ := data["list"].([]interface{})
	if len(list) == 0 {
		return nil, &CampaignNotFoundError{Platform: PlatformTikTok, ID: id}
	}
	row, _ := list[0].(map[string]interface{})

	normalized, ok := tiktokStatusMap[asString(row["secondary_status"])]
	if !ok {
		normalized = StatusPending
	}
	metrics, _ := row["metrics"].(map[string]interface{})
	status := &CampaignStatus{
		ID:               id,
		Status:           normalized,
		BudgetSpentCents: int64(asFloat(metrics["spend"]) * 100),
		Impressions:      asInt64(metrics["impressions"]),
		Clicks:           asInt64(metrics["clicks"]),
		Conversions:      asInt64(metrics["conversions"]),
		CTR:              asFloat(metrics["ctr"]),
		CPC:              asFloat(metrics["cpc"]),
		CPM:              asFloat(metrics["cpm"]),
	}
	if t, err := time.Parse("2006-01-02 15:04:05", asString(row["create_time"])); err == nil {
		status.CreatedAt = t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", asString(row["modify_time"])); err == nil {
		status.UpdatedAt = t
	}
	return status, nil
}

// tiktokAgeGroups buckets the contiguous age range into the platform's fixed
// enums.
func tiktokAgeGroups(t Targeting) []string {
	if t.AgeMin == 0 && t.AgeMax == 0 {
		return nil
	}
	buckets := []struct {
		name     string
		min, max int
	}{
		{"AGE_13_17", 13, 17},
		{"AGE_18_24", 18, 24},
		{"AGE_25_34", 25, 34},
		{"AGE_35_44", 35, 44},
		{"AGE_45_54", 45, 54},
		{"AGE_55_100", 55, 100},
	}
	var out []string
	for _, b := range buckets {
		if t.AgeMin <= b.max && t.AgeMax >= b.min {
			out = append(out, b.name)
		}
	}
	return out
}

func (a *tiktokAdapter) call(ctx context.Context, path string, body map[string]interface{}) (map[string]interface{}, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, &buf)
	if err != nil {
		return nil, &AdPlatformError{Platform: PlatformTikTok, Operation: path, Code: "request", Message: err.Error()}
	}
	req.Header.Set("Access-Token", a.creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &AdPlatformError{Platform: PlatformTikTok, Operation: path, Code: "transport", Message: err.Error()}
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, &AdPlatformError{Platform: PlatformTikTok, Operation: path, Code: "read", Message: readErr.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AdPlatformError{Platform: PlatformTikTok, Operation: path, Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: string(raw)}
	}

	var envelope struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &AdPlatformError{Platform: PlatformTikTok, Operation: path, Code: "decode", Message: err.Error()}
	}
	// TikTok signals application errors inside a 200 response.
	if envelope.Code != 0 {
		if envelope.Code == 40002 {
			return nil, &CampaignNotFoundError{Platform: PlatformTikTok, ID: path}
		}
		return nil, &AdPlatformError{Platform: PlatformTikTok, Operation: path, Code: fmt.Sprintf("api_%d", envelope.Code), Message: envelope.Message}
	}
	return envelope.Data, nil
}
