package adplatform

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adplatform_calls_total",
			Help: "Adapter calls by platform, operation, success and error code.",
		},
		[]string{"platform", "operation", "success", "code"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adplatform_call_duration_seconds",
			Help:    "Adapter call latency by platform and operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform", "operation"},
	)
)

func init() {
	prometheus.MustRegister(callsTotal, callDuration)
}

// instrumented wraps an Adapter so every call is timed and counted whether it
// succeeds or fails. This is the only observability surface for external-API
// health, so nothing is allowed to bypass it.
type instrumented struct {
	inner Adapter
}

// Instrument wraps an adapter with call metrics.
func Instrument(inner Adapter) Adapter {
	return &instrumented{inner: inner}
}

func (a *instrumented) Platform() string { return a.inner.Platform() }

func (a *instrumented) record(op string, start time.Time, err error) {
	callDuration.WithLabelValues(a.inner.Platform(), op).Observe(time.Since(start).Seconds())
	callsTotal.WithLabelValues(a.inner.Platform(), op, strconv.FormatBool(err == nil), errCode(err)).Inc()
}

func errCode(err error) string {
	if err == nil {
		return ""
	}
	var platformErr *AdPlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Code
	}
	var notFound *CampaignNotFoundError
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var budget *InsufficientBudgetError
	if errors.As(err, &budget) {
		return "insufficient_budget"
	}
	var targeting *InvalidTargetingError
	if errors.As(err, &targeting) {
		return "invalid_targeting"
	}
	var creative *CreativeNotFoundError
	if errors.As(err, &creative) {
		return "creative_not_found"
	}
	return "error"
}

func (a *instrumented) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	start := time.Now()
	id, err := a.inner.CreateCampaign(ctx, spec)
	a.record("create", start, err)
	return id, err
}

func (a *instrumented) UpdateCampaign(ctx context.Context, id string, update CampaignUpdate) error {
	start := time.Now()
	err := a.inner.UpdateCampaign(ctx, id, update)
	a.record("update", start, err)
	return err
}

func (a *instrumented) PauseCampaign(ctx context.Context, id string) error {
	start := time.Now()
	err := a.inner.PauseCampaign(ctx, id)
	a.record("pause", start, err)
	return err
}

func (a *instrumented) ResumeCampaign(ctx context.Context, id string) error {
	start := time.Now()
	err := a.inner.ResumeCampaign(ctx, id)
	a.record("resume", start, err)
	return err
}

func (a *instrumented) DeleteCampaign(ctx context.Context, id string) error {
	start := time.Now()
	err := a.inner.DeleteCampaign(ctx, id)
	a.record("delete", start, err)
	return err
}

func (a *instrumented) GetCampaignStatus(ctx context.Context, id string) (*CampaignStatus, error) {
	start := time.Now()
	status, err := a.inner.GetCampaignStatus(ctx, id)
	a.record("status", start, err)
	return status, err
}
