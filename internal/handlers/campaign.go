package handlers

import (
  "errors"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/adpilot/adpilot-backend/internal/adplatform"
  "github.com/adpilot/adpilot-backend/internal/requestdata"
  "github.com/adpilot/adpilot-backend/internal/services"
  "github.com/adpilot/adpilot-backend/internal/types"
)

type CampaignHandler struct {
  campaignService services.CampaignService
  jobService      services.JobService
}

func NewCampaignHandler(campaignService services.CampaignService, jobService services.JobService) *CampaignHandler {
  return &CampaignHandler{campaignService: campaignService, jobService: jobService}
}

func callerID(c *gin.Context) (uuid.UUID, bool) {
  rd := requestdata.GetRequestData(c.Request.Context())
  if rd == nil || rd.UserID == uuid.Nil {
    c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
    return uuid.Nil, false
  }
  return rd.UserID, true
}

func campaignID(c *gin.Context) (uuid.UUID, bool) {
  id, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "bad_campaign_id", err)
    return uuid.Nil, false
  }
  return id, true
}

// respondServiceError maps the service layer's typed errors onto HTTP.
func respondServiceError(c *gin.Context, err error) {
  var validation *services.ValidationError
  if errors.As(err, &validation) {
    RespondError(c, http.StatusBadRequest, validation.Reason, err)
    return
  }
  var state *services.InvalidStateError
  if errors.As(err, &state) {
    RespondError(c, http.StatusConflict, "invalid_state", err)
    return
  }
  var conflict *services.ConcurrencyConflictError
  if errors.As(err, &conflict) {
    RespondError(c, http.StatusConflict, "optimization_in_flight", err)
    return
  }
  var rate *services.RateLimitError
  if errors.As(err, &rate) {
    RespondError(c, http.StatusTooManyRequests, "rate_limited", err)
    return
  }
  var quota *services.QuotaExceededError
  if errors.As(err, &quota) {
    RespondError(c, http.StatusTooManyRequests, "quota_exceeded", err)
    return
  }
  if errors.Is(err, services.ErrNotFound) {
    RespondError(c, http.StatusNotFound, "not_found", err)
    return
  }
  RespondError(c, http.StatusInternalServerError, "internal", err)
}

func (ch *CampaignHandler) Create(c *gin.Context) {
  userID, ok := callerID(c)
  if !ok {
    return
  }
  var req services.CreateCampaignRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", err)
    return
  }
  detail, err := ch.campaignService.CreateCampaign(c.Request.Context(), userID, req)
  if err != nil {
    respondServiceError(c, err)
    return
  }
  c.JSON(http.StatusCreated, detail)
}

type launchRequest struct {
  Credentials map[string]adplatform.Credentials `json:"credentials,omitempty"`
}

func (ch *CampaignHandler) Launch(c *gin.Context) {
  userID, ok := callerID(c)
  if !ok {
    return
  }
  id, ok := campaignID(c)
  if !ok {
    return
  }
  var req launchRequest
  if c.Request.ContentLength > 0 {
    if err := c.ShouldBindJSON(&req); err != nil {
      RespondError(c, http.StatusBadRequest, "bad_request", err)
      return
    }
  }
  campaign, err := ch.campaignService.LaunchCampaign(c.Request.Context(), userID, id, req.Credentials)
  if err != nil {
    respondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"campaign": campaign})
}

// Optimize enqueues an optimize job for the campaign; the decision itself
// happens on the queue.
func (ch *CampaignHandler) Optimize(c *gin.Context) {
  userID, ok := callerID(c)
  if !ok {
    return
  }
  id, ok := campaignID(c)
  if !ok {
    return
  }
  if _, err := ch.campaignService.GetCampaign(c.Request.Context(), userID, id); err != nil {
    respondServiceError(c, err)
    return
  }
  job, err := ch.jobService.Enqueue(c.Request.Context(), userID, types.QueueOptimize, services.OptimizePayload{
    CampaignID: &id,
  })
  if err != nil {
    respondServiceError(c, err)
    return
  }
  c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

func (ch *CampaignHandler) List(c *gin.Context) {
  userID, ok := callerID(c)
  if !ok {
    return
  }
  campaigns, err := ch.campaignService.ListCampaigns(c.Request.Context(), userID)
  if err != nil {
    respondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"campaigns": campaigns})
}

func (ch *CampaignHandler) Get(c *gin.Context) {
  userID, ok := callerID(c)
  if !ok {
    return
  }
  id, ok := campaignID(c)
  if !ok {
    return
  }
  detail, err := ch.campaignService.GetCampaign(c.Request.Context(), userID, id)
  if err != nil {
    respondServiceError(c, err)
    return
  }
  RespondOK(c, detail)
}

func (ch *CampaignHandler) Cancel(c *gin.Context) {
  userID, ok := callerID(c)
  if !ok {
    return
  }
  id, ok := campaignID(c)
  if !ok {
    return
  }
  campaign, err := ch.campaignService.CancelCampaign(c.Request.Context(), userID, id)
  if err != nil {
    respondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"campaign": campaign})
}

type budgetRecommendationRequest struct {
  RequestedBudgetCents int64    `json:"requested_budget_cents"`
  Platforms            []string `json:"platforms"`
}

func (ch *CampaignHandler) BudgetRecommendation(c *gin.Context) {
  userID, ok := callerID(c)
  if !ok {
    return
  }
  var req budgetRecommendationRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "bad_request", err)
    return
  }
  rec, err := ch.campaignService.GenerateBudgetRecommendation(c.Request.Context(), userID, req.RequestedBudgetCents, req.Platforms)
  if err != nil {
    respondServiceError(c, err)
    return
  }
  RespondOK(c, rec)
}
