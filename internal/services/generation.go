package services

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/repos"
	"github.com/adpilot/adpilot-backend/internal/types"
)

// GenerationService fronts every collaborator call with the rate limiter and
// the monthly token quota. When the primary model's quota is exhausted — or
// the API call itself fails — the request is transparently retried against
// the cheaper fallback models, as an explicit bounded loop so the termination
// condition is visible. Every attempt lands in the usage ledger.
type GenerationService interface {
	Generate(ctx context.Context, userID uuid.UUID, callType, prompt string, maxTokens int) (*GenerateResponse, error)
}

type generationService struct {
	db        *gorm.DB
	log       *logger.Logger
	ai        AIClient
	limiter   RateLimitService
	usageRepo repos.AICallLogRepo

	primaryModel   string
	fallbackModels []string
}

func NewGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	ai AIClient,
	limiter RateLimitService,
	usageRepo repos.AICallLogRepo,
) GenerationService {
	primary := strings.TrimSpace(os.Getenv("AI_PRIMARY_MODEL"))
	if primary == "" {
		primary = "gpt-4o"
	}
	fallbacks := []string{"gpt-4o-mini"}
	if v := strings.TrimSpace(os.Getenv("AI_FALLBACK_MODELS")); v != "" {
		fallbacks = strings.Split(v, ",")
		for i := range fallbacks {
			fallbacks[i] = strings.TrimSpace(fallbacks[i])
		}
	}
	return &generationService{
		db:             db,
		log:            baseLog.With("service", "GenerationService"),
		ai:             ai,
		limiter:        limiter,
		usageRepo:      usageRepo,
		primaryModel:   primary,
		fallbackModels: fallbacks,
	}
}

func (s *generationService) Generate(ctx context.Context, userID uuid.UUID, callType, prompt string, maxTokens int) (*GenerateResponse, error) {
	if err := s.limiter.AllowRequest(ctx, userID.String(), s.primaryModel); err != nil {
		return nil, err
	}

	models := append([]string{s.primaryModel}, s.fallbackModels...)
	var lastErr error

	for i, model := range models {
		remaining, err := s.limiter.TokenBudgetRemaining(ctx, userID.String(), model)
		if err != nil {
			return nil, err
		}
		if remaining <= 0 {
			s.log.Warn("Monthly token quota exhausted, trying next model", "model", model, "user_id", userID)
			lastErr = &QuotaExceededError{UserID: userID.String(), Model: model}
			continue
		}

		resp, err := s.ai.Generate(ctx, GenerateRequest{
			Model:     model,
			Prompt:    prompt,
			MaxTokens: maxTokens,
			UserID:    userID.String(),
		})
		if err != nil {
			s.recordUsage(ctx, userID, callType, model, 0, 0, false, i > 0, err)
			lastErr = err
			// One fallback attempt for API-level failures, then surface.
			if i >= 1 {
				break
			}
			continue
		}

		resp.FallbackUsed = i > 0
		if err := s.limiter.AddTokenUsage(ctx, userID.String(), model, resp.TokensUsed); err != nil {
			s.log.Warn("Failed to add token usage", "model", model, "error", err)
		}
		s.recordUsage(ctx, userID, callType, model, resp.TokensUsed, resp.EstimatedCost, true, resp.FallbackUsed, nil)
		return resp, nil
	}

	return nil, lastErr
}

func (s *generationService) recordUsage(ctx context.Context, userID uuid.UUID, callType, model string, tokens int64, cost float64, success, fallback bool, callErr error) {
	entry := &types.AICallLog{
		ID:            uuid.New(),
		UserID:        &userID,
		CallType:      callType,
		Model:         model,
		TokensUsed:    tokens,
		EstimatedCost: cost,
		Success:       success,
		FallbackUsed:  fallback,
		CreatedAt:     time.Now(),
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	usage, err := json.Marshal(map[string]interface{}{"tokens": tokens, "cost": cost})
	if err == nil {
		entry.Usage = datatypes.JSON(usage)
	}
	if _, err := s.usageRepo.Create(ctx, nil, []*types.AICallLog{entry}); err != nil {
		s.log.Warn("Failed to record AI usage", "call_type", callType, "error", err)
	}
}
