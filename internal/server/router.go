package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"
  "github.com/prometheus/client_golang/prometheus/promhttp"
  "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

  "github.com/adpilot/adpilot-backend/internal/handlers"
  "github.com/adpilot/adpilot-backend/internal/middleware"
)

type RouterConfig struct {
  AuthMiddleware  *middleware.AuthMiddleware
  CampaignHandler *handlers.CampaignHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()
  router.Use(otelgin.Middleware("adpilot-backend"))

  // Cors
  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:80",
      "http://localhost:3000",
    },
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

// ===============
// || Public    ||
// ===============
  router.GET("/healthcheck", handlers.HealthCheck)
  router.GET("/metrics", gin.WrapH(promhttp.Handler()))

// ===============
// || Protected ||
// ===============
  protected := router.Group("/")
  protected.Use(cfg.AuthMiddleware.RequireAuth())
  // Campaigns
  protected.POST("/campaigns", cfg.CampaignHandler.Create)
  protected.GET("/campaigns", cfg.CampaignHandler.List)
  protected.GET("/campaigns/:id", cfg.CampaignHandler.Get)
  protected.POST("/campaigns/:id/launch", cfg.CampaignHandler.Launch)
  protected.POST("/campaigns/:id/optimize", cfg.CampaignHandler.Optimize)
  protected.POST("/campaigns/:id/cancel", cfg.CampaignHandler.Cancel)
  protected.POST("/campaigns/budget-recommendation", cfg.CampaignHandler.BudgetRecommendation)

  return router
}
