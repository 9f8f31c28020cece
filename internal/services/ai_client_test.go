package services

import (
	"testing"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantKey string
		wantErr bool
	}{
		{"bare_object", `{"name": "x"}`, "name", false},
		{"leading_prose", `Sure, here is the plan: {"name": "x"} hope that helps!`, "name", false},
		{"fenced", "```json\n{\"name\": \"x\"}\n```", "name", false},
		{"fenced_no_language", "```\n{\"name\": \"x\"}\n```", "name", false},
		{"fenced_with_prose", "Here you go:\n```json\n{\"name\": \"x\"}\n```\nLet me know!", "name", false},
		{"no_object", "I could not generate a plan for that.", "", true},
		{"malformed", `{"name": `, "", true},
		{"empty", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, err := ExtractJSON(tc.content)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %v", obj)
				}
				return
			}
			if err != nil {
				t.Fatalf("extract failed: %v", err)
			}
			if _, ok := obj[tc.wantKey]; !ok {
				t.Fatalf("expected key %q in %v", tc.wantKey, obj)
			}
		})
	}
}

func TestExtractJSONNestedObjects(t *testing.T) {
	obj, err := ExtractJSON(`{"plan": {"variants": [{"label": "A-meta"}]}}`)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	plan, ok := obj["plan"].(map[string]interface{})
	if !ok {
		t.Fatalf("nested object lost: %v", obj)
	}
	if _, ok := plan["variants"]; !ok {
		t.Fatalf("nested array lost: %v", plan)
	}
}

func TestEstimateCost(t *testing.T) {
	cases := []struct {
		model  string
		tokens int64
		want   float64
	}{
		{"gpt-4o", 1000000, 5.00},
		{"gpt-4o-mini", 1000000, 0.30},
		{"gpt-4o", 0, 0},
		{"unknown-model", 1000000, 2.00},
	}
	for _, tc := range cases {
		if got := estimateCost(tc.model, tc.tokens); got != tc.want {
			t.Fatalf("estimateCost(%q, %d) = %v, want %v", tc.model, tc.tokens, got, tc.want)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		code      int
		retryable bool
	}{
		{408, true},
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tc := range cases {
		err := &aiHTTPError{StatusCode: tc.code, Body: "x"}
		if got := isRetryableErr(err); got != tc.retryable {
			t.Fatalf("isRetryableErr(%d) = %v, want %v", tc.code, got, tc.retryable)
		}
	}
	if isRetryableErr(nil) {
		t.Fatal("nil error is not retryable")
	}
}
