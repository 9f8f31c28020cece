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

const metaMinBudgetCents = 500

// metaAdapter speaks an illustrative subset of the Meta Marketing API shape:
// a create is a campaign → ad set → ad sequence, statuses are SCREAMING_CASE
// and budgets are cent-denominated already.
type metaAdapter struct {
	log        *logger.Logger
	baseURL    string
	creds      Credentials
	httpClient *http.Client
}

func NewMetaAdapter(baseLog *logger.Logger, baseURL string, creds Credentials) Adapter {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v19.0"
	}
	return &metaAdapter{
		log:        baseLog.With("adapter", "meta"),
		baseURL:    baseURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *metaAdapter) Platform() string { return PlatformMeta }

var metaStatusMap = map[string]string{
	"ACTIVE":         StatusActive,
	"PAUSED":         StatusPaused,
	"PENDING_REVIEW": StatusPending,
	"IN_PROCESS":     StatusPending,
	"DISAPPROVED":    StatusRejected,
	"WITH_ISSUES":    StatusRejected,
	"COMPLETED":      StatusCompleted,
	"ARCHIVED":       StatusCompleted,
	"DELETED":        StatusFailed,
}

func (a *metaAdapter) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	if err := validateSpec(PlatformMeta, spec, metaMinBudgetCents); err != nil {
		return "", err
	}
	if len(spec.Targeting.Geos) == 0 {
		return "", &InvalidTargetingError{Platform: PlatformMeta, Details: "at least one geo is required"}
	}

	campaignBody := map[string]interface{}{
		"name":                  spec.Title,
		"objective":             "OUTCOME_TRAFFIC",
		"status":                "ACTIVE",
		"special_ad_categories": []string{},
	}
	var campaignResp map[string]interface{}
	if err := a.post(ctx, fmt.Sprintf("/act_%s/campaigns", a.creds.AccountID), campaignBody, &campaignResp); err != nil {
		return "", a.wrap("create", err)
	}
	campaignID := asString(campaignResp["id"])
	if campaignID == "" {
		return "", &AdPlatformError{Platform: PlatformMeta, Operation: "create", Code: "missing_id", Message: "campaign create returned no id"}
	}

	adSetBody := map[string]interface{}{
		"name":            spec.Title + " - ad set",
		"campaign_id":     campaignID,
		"daily_budget":    spec.BudgetCents,
		"billing_event":   "IMPRESSIONS",
		"optimization_goal": "LINK_CLICKS",
		"targeting": map[string]interface{}{
			"age_min":        spec.Targeting.AgeMin,
			"age_max":        spec.Targeting.AgeMax,
			"genders":        spec.Targeting.Genders,
			"geo_locations":  map[string]interface{}{"countries": spec.Targeting.Geos},
			"interests":      spec.Targeting.Interests,
		},
	}
	var adSetResp map[string]interface{}
	if err := a.post(ctx, fmt.Sprintf("/act_%s/adsets", a.creds.AccountID), adSetBody, &adSetResp); err != nil {
		return "", a.wrap("create", err)
	}
	adSetID := asString(adSetResp["id"])

	adBody := map[string]interface{}{
		"name":      spec.Title + " - ad",
		"adset_id":  adSetID,
		"creative":  map[string]interface{}{"creative_key": spec.CreativeKey},
		"status":    "ACTIVE",
	}
	var adResp map[string]interface{}
	if err := a.post(ctx, fmt.Sprintf("/act_%s/ads", a.creds.AccountID), adBody, &adResp); err != nil {
		return "", a.wrap("create", err)
	}

	return campaignID, nil
}

func (a *metaAdapter) UpdateCampaign(ctx context.Context, id string, update CampaignUpdate) error {
	body := map[string]interface{}{}
	if update.Title != nil {
		body["name"] = *update.Title
	}
	if update.BudgetCents != nil {
		if *update.BudgetCents < metaMinBudgetCents {
			return &InsufficientBudgetError{Platform: PlatformMeta, RequestedCents: *update.BudgetCents, MinimumCents: metaMinBudgetCents}
		}
		body["daily_budget"] = *update.BudgetCents
	}
	if update.Targeting != nil {
		if err := validateTargeting(PlatformMeta, *update.Targeting); err != nil {
			return err
		}
		body["targeting"] = map[string]interface{}{
			"age_min":       update.Targeting.AgeMin,
			"age_max":       update.Targeting.AgeMax,
			"geo_locations": map[string]interface{}{"countries": update.Targeting.Geos},
		}
	}
	if len(body) == 0 {
		return nil
	}
	return a.wrap("update", a.post(ctx, "/"+id, body, nil))
}

func (a *metaAdapter) PauseCampaign(ctx context.Context, id string) error {
	return a.wrap("pause", a.post(ctx, "/"+id, map[string]interface{}{"status": "PAUSED"}, nil))
}

func (a *metaAdapter) ResumeCampaign(ctx context.Context, id string) error {
	return a.wrap("resume", a.post(ctx, "/"+id, map[string]interface{}{"status": "ACTIVE"}, nil))
}

func (a *metaAdapter) DeleteCampaign(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.baseURL+"/"+id, nil)
	if err != nil {
		return a.wrap("delete", err)
	}
	return a.wrap("delete", a.send(req, nil))
}

func (a *metaAdapter) GetCampaignStatus(ctx context.Context, id string) (*CampaignStatus, error) {
	var resp map[string]interface{}
	path := fmt.Sprintf("/%s?fields=id,effective_status,insights{spend,impressions,clicks,conversions,ctr,cpc,cpm},created_time,updated_time", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, a.wrap("status", err)
	}
	if err := a.send(req, &resp); err != nil {
		return nil, a.wrap("status", err)
	}

	normalized, ok := metaStatusMap[asString(resp["effective_status"])]
	if !ok {
		normalized = StatusPending
	}
	insights, _ := resp["insights"].(map[string]interface{})
	status := &CampaignStatus{
		ID:               id,
		Status:           normalized,
		BudgetSpentCents: asInt64(insights["spend"]),
		Impressions:      asInt64(insights["impressions"]),
		Clicks:           asInt64(insights["clicks"]),
		Conversions:      asInt64(insights["conversions"]),
		CTR:              asFloat(insights["ctr"]),
		CPC:              asFloat(insights["cpc"]),
		CPM:              asFloat(insights["cpm"]),
	}
	if t, err := time.Parse(time.RFC3339, asString(resp["created_time"])); err == nil {
		status.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, asString(resp["updated_time"])); err == nil {
		status.UpdatedAt = t
	}
	return status, nil
}

func (a *metaAdapter) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.send(req, out)
}

func (a *metaAdapter) send(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+a.creds.AccessToken)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode == http.StatusNotFound {
		return &CampaignNotFoundError{Platform: PlatformMeta, ID: req.URL.Path}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AdPlatformError{
			Platform:  PlatformMeta,
			Operation: req.Method + " " + req.URL.Path,
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Message:   string(raw),
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// wrap folds transport errors into AdPlatformError while letting typed
// domain errors pass through unchanged.
func (a *metaAdapter) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *AdPlatformError, *CampaignNotFoundError, *InsufficientBudgetError, *InvalidTargetingError, *CreativeNotFoundError:
		return err
	}
	return &AdPlatformError{Platform: PlatformMeta, Operation: op, Code: "transport", Message: err.Error()}
}
