package adplatform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adpilot/adpilot-backend/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger init failed: %v", err)
	}
	return log
}

func TestTikTokAgeGroups(t *testing.T) {
	cases := []struct {
		name string
		in   Targeting
		want []string
	}{
		{"no_ages", Targeting{}, nil},
		{"teens_only", Targeting{AgeMin: 13, AgeMax: 17}, []string{"AGE_13_17"}},
		{"young_adults", Targeting{AgeMin: 18, AgeMax: 34}, []string{"AGE_18_24", "AGE_25_34"}},
		{"full_range", Targeting{AgeMin: 13, AgeMax: 65}, []string{"AGE_13_17", "AGE_18_24", "AGE_25_34", "AGE_35_44", "AGE_45_54", "AGE_55_100"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tiktokAgeGroups(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestTikTokCreateAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/campaign/create/":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 0,
				"data": map[string]interface{}{"campaign_id": "17000001"},
			})
		case "/campaign/get/":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 0,
				"data": map[string]interface{}{
					"list": []map[string]interface{}{
						{
							"secondary_status": "CAMPAIGN_STATUS_AUDIT",
							"metrics": map[string]interface{}{
								// String numerics, as the platform sends them.
								"spend":       "12.50",
								"impressions": "1000",
								"clicks":      "not-a-number",
								"ctr":         "0.02",
							},
						},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	adapter := NewTikTokAdapter(testLogger(t), server.URL, Credentials{AccessToken: "tok", AccountID: "adv-1"})
	ctx := context.Background()

	id, err := adapter.CreateCampaign(ctx, validSpec())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id != "17000001" {
		t.Fatalf("expected campaign id 17000001, got %q", id)
	}

	status, err := adapter.GetCampaignStatus(ctx, id)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != StatusPending {
		t.Fatalf("expected normalized pending status, got %q", status.Status)
	}
	if status.BudgetSpentCents != 1250 {
		t.Fatalf("expected spend 1250 cents, got %d", status.BudgetSpentCents)
	}
	if status.Impressions != 1000 {
		t.Fatalf("expected 1000 impressions, got %d", status.Impressions)
	}
	// Unparseable numerics default to zero instead of failing the call.
	if status.Clicks != 0 {
		t.Fatalf("expected clicks to default to 0, got %d", status.Clicks)
	}
}

func TestTikTokApplicationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    40100,
			"message": "advertiser quota exceeded",
		})
	}))
	defer server.Close()

	adapter := NewTikTokAdapter(testLogger(t), server.URL, Credentials{AccessToken: "tok", AccountID: "adv-1"})
	_, err := adapter.CreateCampaign(context.Background(), validSpec())
	if err == nil {
		t.Fatal("expected an error from code != 0")
	}
	platformErr, ok := err.(*AdPlatformError)
	if !ok {
		t.Fatalf("expected AdPlatformError, got %T", err)
	}
	if platformErr.Code != "api_40100" {
		t.Fatalf("expected code api_40100, got %q", platformErr.Code)
	}
}
