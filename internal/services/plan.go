package services

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
)

// AudienceSpec is the user-provided description of who the campaign should
// reach. It is translated into platform-appropriate targeting per variant.
type AudienceSpec struct {
	AgeMin    int      `json:"age_min"`
	AgeMax    int      `json:"age_max"`
	Genders   []string `json:"genders,omitempty"`
	Locations []string `json:"locations,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

type CreateCampaignRequest struct {
	Objective        string       `json:"objective"`
	BudgetTotalCents int64        `json:"budget_total_cents"`
	Platforms        []string     `json:"platforms"`
	Audience         AudienceSpec `json:"audience"`
	TestGroups       int          `json:"test_groups"`
	TestDurationDays int          `json:"test_duration_days"`
	AutoOptimize     bool         `json:"auto_optimize"`
}

type VariantPlan struct {
	Label       string               `json:"label"`
	CreativeKey string               `json:"creative_key"`
	Platform    string               `json:"platform"`
	BudgetCents int64                `json:"budget_cents"`
	Targeting   adplatform.Targeting `json:"targeting"`
	TestGroup   string               `json:"test_group"`
	RolloutDay  int                  `json:"rollout_day"`
}

type CampaignPlan struct {
	Name     string        `json:"name"`
	Variants []VariantPlan `json:"variants"`
}

type BudgetRecommendation struct {
	SuggestedBudgetCents int64            `json:"suggested_budget_cents"`
	DailyBudgetCents     int64            `json:"daily_budget_cents"`
	PlatformAllocation   map[string]int64 `json:"platform_allocation"`
	RiskLevel            string           `json:"risk_level"`
	Reasoning            string           `json:"reasoning"`
}

const conservativeReasoning = "Conservative budget recommendation based on platform minimums"

var groupLetters = []string{"A", "B", "C", "D", "E", "F", "G", "H"}

// fallbackPlan is the deterministic generator used whenever the collaborator
// fails or returns something unusable: even budget split across groups and
// platforms, labels derived from group letter and platform, rollout days
// staggered evenly across the test duration.
func fallbackPlan(req CreateCampaignRequest) *CampaignPlan {
	groups := req.TestGroups
	if groups < 1 {
		groups = 1
	}
	if groups > len(groupLetters) {
		groups = len(groupLetters)
	}
	duration := req.TestDurationDays
	if duration < 1 {
		duration = 1
	}

	total := groups * len(req.Platforms)
	share := req.BudgetTotalCents / int64(total)
	remainder := req.BudgetTotalCents - share*int64(total)

	plan := &CampaignPlan{
		Name: fmt.Sprintf("%s campaign (%d-way test)", capitalize(req.Objective), groups),
	}
	for g := 0; g < groups; g++ {
		group := groupLetters[g]
		rolloutDay := g * duration / groups
		for _, platform := range req.Platforms {
			budget := share
			if remainder > 0 {
				budget++
				remainder--
			}
			label := fmt.Sprintf("%s-%s", group, platform)
			plan.Variants = append(plan.Variants, VariantPlan{
				Label:       label,
				CreativeKey: fmt.Sprintf("creatives/%s", strings.ToLower(label)),
				Platform:    platform,
				BudgetCents: budget,
				Targeting:   targetingFromAudience(req.Audience),
				TestGroup:   group,
				RolloutDay:  rolloutDay,
			})
		}
	}
	return plan
}

// targetingFromAudience clamps the audience's age range into what the
// platforms accept and carries the rest through.
func targetingFromAudience(a AudienceSpec) adplatform.Targeting {
	t := adplatform.Targeting{
		AgeMin:    a.AgeMin,
		AgeMax:    a.AgeMax,
		Genders:   a.Genders,
		Geos:      a.Locations,
		Interests: a.Interests,
	}
	if t.AgeMin == 0 && t.AgeMax == 0 {
		t.AgeMin, t.AgeMax = 18, 65
	}
	if t.AgeMin < 13 {
		t.AgeMin = 13
	}
	if t.AgeMax > 65 || t.AgeMax == 0 {
		t.AgeMax = 65
	}
	if t.AgeMax < t.AgeMin {
		t.AgeMax = t.AgeMin
	}
	if len(t.Geos) == 0 {
		t.Geos = []string{"US"}
	}
	return t
}

func fallbackBudgetRecommendation(requestedCents int64, platforms []string) *BudgetRecommendation {
	suggested := requestedCents
	allocation := map[string]int64{}
	if len(platforms) > 0 {
		var floorSum int64
		for _, p := range platforms {
			floorSum += adplatform.MinimumBudget(p)
		}
		if suggested < floorSum {
			suggested = floorSum
		}
		share := suggested / int64(len(platforms))
		for _, p := range platforms {
			allocation[p] = share
		}
	}
	return &BudgetRecommendation{
		SuggestedBudgetCents: suggested,
		DailyBudgetCents:     suggested / 30,
		PlatformAllocation:   allocation,
		RiskLevel:            "low",
		Reasoning:            conservativeReasoning,
	}
}

func buildPlanPrompt(req CreateCampaignRequest) string {
	audience, _ := json.Marshal(req.Audience)
	return fmt.Sprintf(`You are planning an A/B advertising campaign.
Objective: %s
Platforms: %s
Total budget (cents): %d
Test groups: %d
Test duration (days): %d
Audience: %s

Respond with a single JSON object:
{"name": "...", "variants": [{"label", "creative_key", "platform", "budget_cents", "test_group", "rollout_day", "targeting": {"age_min", "age_max", "geos", "interests"}}]}
Budgets must sum to the total. Every test group needs one variant per platform.`,
		req.Objective, strings.Join(req.Platforms, ", "), req.BudgetTotalCents,
		req.TestGroups, req.TestDurationDays, string(audience))
}

// parsePlan validates untrusted collaborator output into a usable plan.
// Anything structurally off forces the deterministic fallback.
func parsePlan(content string, req CreateCampaignRequest) (*CampaignPlan, error) {
	obj, err := ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var plan CampaignPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, err
	}
	if plan.Name == "" {
		return nil, fmt.Errorf("plan missing name")
	}
	if len(plan.Variants) == 0 {
		return nil, fmt.Errorf("plan has no variants")
	}
	allowed := map[string]bool{}
	for _, p := range req.Platforms {
		allowed[p] = true
	}
	var sum int64
	for i := range plan.Variants {
		v := &plan.Variants[i]
		if !allowed[v.Platform] {
			return nil, fmt.Errorf("plan uses unrequested platform %q", v.Platform)
		}
		if v.BudgetCents <= 0 {
			return nil, fmt.Errorf("variant %q has non-positive budget", v.Label)
		}
		if v.RolloutDay < 0 || v.RolloutDay >= maxInt(req.TestDurationDays, 1) {
			return nil, fmt.Errorf("variant %q rollout day %d outside test window", v.Label, v.RolloutDay)
		}
		if v.CreativeKey == "" {
			v.CreativeKey = fmt.Sprintf("creatives/%s", strings.ToLower(v.Label))
		}
		sum += v.BudgetCents
	}
	if sum > req.BudgetTotalCents {
		return nil, fmt.Errorf("plan budgets %d exceed total %d", sum, req.BudgetTotalCents)
	}
	return &plan, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// PlatformBenchmark holds the constants used to seed expected metrics before
// any real spend exists. CPM is dollars per thousand impressions.
type PlatformBenchmark struct {
	CPM            float64 `yaml:"cpm"`
	CTR            float64 `yaml:"ctr"`
	ConversionRate float64 `yaml:"conversion_rate"`
}

var defaultBenchmarks = map[string]PlatformBenchmark{
	adplatform.PlatformMeta:   {CPM: 12.50, CTR: 0.012, ConversionRate: 0.085},
	adplatform.PlatformTikTok: {CPM: 9.80, CTR: 0.016, ConversionRate: 0.062},
	adplatform.PlatformGoogle: {CPM: 18.40, CTR: 0.031, ConversionRate: 0.075},
	adplatform.PlatformMock:   {CPM: 10.00, CTR: 0.020, ConversionRate: 0.100},
}

// loadBenchmarks merges an optional yaml override file (BENCHMARKS_FILE) over
// the built-in constants.
func loadBenchmarks() map[string]PlatformBenchmark {
	out := map[string]PlatformBenchmark{}
	for k, v := range defaultBenchmarks {
		out[k] = v
	}
	path := strings.TrimSpace(os.Getenv("BENCHMARKS_FILE"))
	if path == "" {
		return out
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	var overrides map[string]PlatformBenchmark
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return out
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func benchmarkFor(benchmarks map[string]PlatformBenchmark, platform string) PlatformBenchmark {
	if b, ok := benchmarks[platform]; ok {
		return b
	}
	return PlatformBenchmark{CPM: 15.00, CTR: 0.015, ConversionRate: 0.05}
}

// expectedDailyMetrics projects one day of expected performance for a variant
// from its platform benchmark, with bounded jitter from the injected source
// so tests can pin the output with a fixed seed.
func expectedDailyMetrics(b PlatformBenchmark, dailySpendCents int64, rng *rand.Rand) (impressions, clicks, conversions int64, ctr, cpc, cpm float64) {
	jitter := func(v float64) float64 {
		// +/- 15%
		return v * (0.85 + rng.Float64()*0.3)
	}
	spendDollars := float64(dailySpendCents) / 100
	cpm = jitter(b.CPM)
	impressions = int64(spendDollars / cpm * 1000)
	ctr = jitter(b.CTR)
	clicks = int64(float64(impressions) * ctr)
	conversions = int64(float64(clicks) * jitter(b.ConversionRate))
	if clicks > 0 {
		cpc = spendDollars / float64(clicks)
	}
	return
}

// stableSeed gives repeatable jitter per variant when no explicit source is
// injected.
func stableSeed(label string, day int) int64 {
	var h int64 = 1125899906842597
	for _, r := range label {
		h = 31*h + int64(r)
	}
	return 31*h + int64(day)
}
