package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adpilot/adpilot-backend/internal/logger"
)

const googleMinBudgetCents = 1000

// googleAdapter models the Google Ads REST conventions: resource-name ids,
// micros-denominated budgets and camelCase statuses.
type googleAdapter struct {
	log        *logger.Logger
	baseURL    string
	creds      Credentials
	httpClient *http.Client
}

func NewGoogleAdapter(baseLog *logger.Logger, baseURL string, creds Credentials) Adapter {
	if baseURL == "" {
		baseURL = "https://googleads.googleapis.com/v16"
	}
	return &googleAdapter{
		log:        baseLog.With("adapter", "google"),
		baseURL:    baseURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *googleAdapter) Platform() string { return PlatformGoogle }

var googleStatusMap = map[string]string{
	"ENABLED":       StatusActive,
	"PAUSED":        StatusPaused,
	"PENDING":       StatusPending,
	"UNDER_REVIEW":  StatusPending,
	"DISAPPROVED":   StatusRejected,
	"ENDED":         StatusCompleted,
	"REMOVED":       StatusFailed,
}

func (a *googleAdapter) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	if err := validateSpec(PlatformGoogle, spec, googleMinBudgetCents); err != nil {
		return "", err
	}

	body := map[string]interface{}{
		"campaign": map[string]interface{}{
			"name":   spec.Title,
			"status": "ENABLED",
			"campaignBudget": map[string]interface{}{
				// cents → micros
				"amountMicros": spec.BudgetCents * 10000,
			},
			"targeting": map[string]interface{}{
				"ageRange":  map[string]int{"min": spec.Targeting.AgeMin, "max": spec.Targeting.AgeMax},
				"locations": spec.Targeting.Geos,
				"keywords":  spec.Targeting.Interests,
			},
			"adGroup": map[string]interface{}{
				"name":        spec.Title + " - ad group",
				"creativeKey": spec.CreativeKey,
			},
		},
	}
	var resp map[string]interface{}
	if err := a.do(ctx, http.MethodPost, fmt.Sprintf("/customers/%s/campaigns:mutate", a.creds.AccountID), body, &resp); err != nil {
		return "", err
	}
	resource := asString(resp["resourceName"])
	if resource == "" {
		return "", &AdPlatformError{Platform: PlatformGoogle, Operation: "create", Code: "missing_id", Message: "mutate returned no resourceName"}
	}
	// resourceName is customers/{cid}/campaigns/{id}; the trailing segment is
	// the stable external id.
	parts := strings.Split(resource, "/")
	return parts[len(parts)-1], nil
}

func (a *googleAdapter) UpdateCampaign(ctx context.Context, id string, update CampaignUpdate) error {
	campaign := map[string]interface{}{}
	if update.Title != nil {
		campaign["name"] = *update.Title
	}
	if update.BudgetCents != nil {
		if *update.BudgetCents < googleMinBudgetCents {
			return &InsufficientBudgetError{Platform: PlatformGoogle, RequestedCents: *update.BudgetCents, MinimumCents: googleMinBudgetCents}
		}
		campaign["campaignBudget"] = map[string]interface{}{"amountMicros": *update.BudgetCents * 10000}
	}
	if update.Targeting != nil {
		if err := validateTargeting(PlatformGoogle, *update.Targeting); err != nil {
			return err
		}
		campaign["targeting"] = map[string]interface{}{
			"ageRange":  map[string]int{"min": update.Targeting.AgeMin, "max": update.Targeting.AgeMax},
			"locations": update.Targeting.Geos,
		}
	}
	if len(campaign) == 0 {
		return nil
	}
	return a.do(ctx, http.MethodPatch, a.campaignPath(id), map[string]interface{}{"campaign": campaign}, nil)
}

func (a *googleAdapter) PauseCampaign(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPatch, a.campaignPath(id), map[string]interface{}{"campaign": map[string]string{"status": "PAUSED"}}, nil)
}

func (a *googleAdapter) ResumeCampaign(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPatch, a.campaignPath(id), map[string]interface{}{"campaign": map[string]string{"status": "ENABLED"}}, nil)
}

func (a *googleAdapter) DeleteCampaign(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, a.campaignPath(id), nil, nil)
}

func (a *googleAdapter) GetCampaignStatus(ctx context.Context, id string) (*CampaignStatus, error) {
	var resp map[string]interface{}
	if err := a.do(ctx, http.MethodGet, a.campaignPath(id), nil, &resp); err != nil {
		return nil, err
	}
	normalized, ok := googleStatusMap[asString(resp["status"])]
	if !ok {
		normalized = StatusPending
	}
	metrics, _ := resp["metrics"].(map[string]interface{})
	status := &CampaignStatus{
		ID:               id,
		Status:           normalized,
		BudgetSpentCents: asInt64(metrics["costMicros"]) / 10000,
		Impressions:      asInt64(metrics["impressions"]),
		Clicks:           asInt64(metrics["clicks"]),
		Conversions:      asInt64(metrics["conversions"]),
		CTR:              asFloat(metrics["ctr"]),
		CPC:              asFloat(metrics["averageCpc"]) / 1000000,
		CPM:              asFloat(metrics["averageCpm"]) / 1000000,
	}
	if t, err := time.Parse(time.RFC3339, asString(resp["createTime"])); err == nil {
		status.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, asString(resp["updateTime"])); err == nil {
		status.UpdatedAt = t
	}
	return status, nil
}

func (a *googleAdapter) campaignPath(id string) string {
	return fmt.Sprintf("/customers/%s/campaigns/%s", a.creds.AccountID, id)
}

func (a *googleAdapter) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return &AdPlatformError{Platform: PlatformGoogle, Operation: path, Code: "request", Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &AdPlatformError{Platform: PlatformGoogle, Operation: path, Code: "transport", Message: err.Error()}
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &AdPlatformError{Platform: PlatformGoogle, Operation: path, Code: "read", Message: readErr.Error()}
	}
	if resp.StatusCode == http.StatusNotFound {
		return &CampaignNotFoundError{Platform: PlatformGoogle, ID: lastSegment(path)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AdPlatformError{Platform: PlatformGoogle, Operation: path, Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func lastSegment(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}
