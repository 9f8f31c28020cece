package main

import (
  "context"
  "fmt"
  "os"
  "time"

  "github.com/joho/godotenv"

  "github.com/adpilot/adpilot-backend/internal/adplatform"
  "github.com/adpilot/adpilot-backend/internal/clients/crm"
  "github.com/adpilot/adpilot-backend/internal/config"
  "github.com/adpilot/adpilot-backend/internal/db"
  "github.com/adpilot/adpilot-backend/internal/handlers"
  "github.com/adpilot/adpilot-backend/internal/logger"
  "github.com/adpilot/adpilot-backend/internal/middleware"
  "github.com/adpilot/adpilot-backend/internal/observability"
  "github.com/adpilot/adpilot-backend/internal/repos"
  "github.com/adpilot/adpilot-backend/internal/server"
  "github.com/adpilot/adpilot-backend/internal/services"
  "github.com/adpilot/adpilot-backend/internal/types"
  "github.com/adpilot/adpilot-backend/internal/utils"
)

// reviewSink bridges the pending-review repo into the sandbox wrapper.
type reviewSink struct {
  repo repos.PendingReviewRepo
}

func (s *reviewSink) Record(ctx context.Context, record *types.PendingReview) error {
  _, err := s.repo.Create(ctx, nil, record)
  return err
}

func main() {
  _ = godotenv.Load()

  // Logger
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("Failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Config
  cfg, err := config.Load()
  if err != nil {
    log.Error("Could not parse config", "error", err)
    os.Exit(1)
  }

  // Tracing
  shutdownOtel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
    ServiceName: "adpilot-backend",
    Environment: cfg.Env,
    Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
  })
  if shutdownOtel != nil {
    defer func() {
      ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
      defer cancel()
      _ = shutdownOtel(ctx)
    }()
  }

  // Postgres
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("Postgres init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()

  // Redis counters
  counterStore, err := services.NewRedisCounterStore(cfg.Redis.Addr)
  if err != nil {
    log.Error("Redis init failed", "error", err)
    os.Exit(1)
  }

  // Repos
  log.Info("Setting up Repos from main...")
  userRepo := repos.NewUserRepo(thePG, log)
  campaignRepo := repos.NewCampaignRepo(thePG, log)
  adVariantRepo := repos.NewAdVariantRepo(thePG, log)
  campaignMetricRepo := repos.NewCampaignMetricRepo(thePG, log)
  publishRecordRepo := repos.NewPublishRecordRepo(thePG, log)
  syncRecordRepo := repos.NewSyncRecordRepo(thePG, log)
  jobRunRepo := repos.NewJobRunRepo(thePG, log)
  optimizationLogRepo := repos.NewOptimizationLogRepo(thePG, log)
  aiCallLogRepo := repos.NewAICallLogRepo(thePG, log)
  pendingReviewRepo := repos.NewPendingReviewRepo(thePG, log)

  // Adapter registry
  log.Info("Setting up platform adapters from main...")
  registry := buildRegistry(log, cfg, pendingReviewRepo)

  // Services
  log.Info("Setting up Services from main...")
  aiClient, err := services.NewAIClient(log)
  if err != nil {
    log.Error("Could not init AIClient", "error", err)
    os.Exit(1)
  }
  credentialService, err := services.NewCredentialService(log)
  if err != nil {
    log.Error("Could not init CredentialService", "error", err)
    os.Exit(1)
  }
  rateLimitService := services.NewRateLimitService(log, counterStore, cfg.Limits)
  generationService := services.NewGenerationService(thePG, log, aiClient, rateLimitService, aiCallLogRepo)
  jobService := services.NewJobService(thePG, log, cfg.Queue, jobRunRepo)
  campaignService := services.NewCampaignService(
    thePG,
    log,
    cfg.Limits,
    userRepo,
    campaignRepo,
    adVariantRepo,
    campaignMetricRepo,
    generationService,
    jobService,
    credentialService,
    registry,
  )
  optimizerService := services.NewOptimizerService(
    thePG,
    log,
    cfg.Optimizer,
    campaignRepo,
    adVariantRepo,
    campaignMetricRepo,
    optimizationLogRepo,
    registry,
  )
  metricsSyncService := services.NewMetricsSyncService(thePG, log, campaignRepo, adVariantRepo, campaignMetricRepo, registry)

  // Workers
  log.Info("Setting up queue workers from main...")
  publishWorker := services.NewPublishWorker(thePG, log, cfg.Queue, adVariantRepo, publishRecordRepo, credentialService, registry)
  jobService.RegisterHandler(types.QueuePublish, publishWorker.Handle)
  optimizeWorker := services.NewOptimizeWorker(log, optimizerService)
  jobService.RegisterHandler(types.QueueOptimize, optimizeWorker.Handle)
  crmClient, err := crm.NewFromEnv(log)
  if err != nil {
    log.Warn("CRM client not configured, crm_sync queue disabled", "error", err)
  } else {
    syncWorker := services.NewSyncWorker(thePG, log, crmClient, syncRecordRepo)
    jobService.RegisterHandler(types.QueueCRMSync, syncWorker.Handle)
  }

  workerCtx, stopWorkers := context.WithCancel(context.Background())
  defer stopWorkers()
  jobService.StartWorkers(workerCtx)
  startSweeps(workerCtx, log, cfg, campaignService, optimizerService, metricsSyncService)

  // Handlers
  log.Info("Setting up handlers from main...")
  campaignHandler := handlers.NewCampaignHandler(campaignService, jobService)

  // Middleware
  log.Info("Setting up middleware from main...")
  authMiddleware, err := middleware.NewAuthMiddleware(log)
  if err != nil {
    log.Error("Could not init AuthMiddleware", "error", err)
    os.Exit(1)
  }

  // Router
  log.Info("Setting up router from main...")
  router := server.NewRouter(server.RouterConfig{
    AuthMiddleware:  authMiddleware,
    CampaignHandler: campaignHandler,
  })

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }
}

// buildRegistry constructs the adapter dispatch table: a default adapter per
// platform using account-level env credentials, plus a factory so publish
// jobs carrying their own sealed credentials get a bound adapter. Sandbox
// mode wraps every adapter so mutating calls are recorded instead of sent.
func buildRegistry(log *logger.Logger, cfg config.Config, reviews repos.PendingReviewRepo) *adplatform.Registry {
  sink := &reviewSink{repo: reviews}
  wrap := func(adapter adplatform.Adapter) adplatform.Adapter {
    adapter = adplatform.Instrument(adapter)
    if cfg.Sandbox {
      adapter = adplatform.NewSandbox(log, adapter, sink, true)
    }
    return adapter
  }

  metaBase := utils.GetEnv("META_API_BASE_URL", "https://graph.facebook.com", log)
  tiktokBase := utils.GetEnv("TIKTOK_API_BASE_URL", "https://business-api.tiktok.com", log)
  googleBase := utils.GetEnv("GOOGLE_ADS_API_BASE_URL", "https://googleads.googleapis.com", log)

  registry := adplatform.NewRegistry()
  registry.Register(adplatform.PlatformMock, wrap(adplatform.NewMockAdapter()))
  registry.Register(adplatform.PlatformMeta, wrap(adplatform.NewMetaAdapter(log, metaBase, adplatform.Credentials{
    AccessToken: os.Getenv("META_ACCESS_TOKEN"),
    AccountID:   os.Getenv("META_ACCOUNT_ID"),
  })))
  registry.Register(adplatform.PlatformTikTok, wrap(adplatform.NewTikTokAdapter(log, tiktokBase, adplatform.Credentials{
    AccessToken: os.Getenv("TIKTOK_ACCESS_TOKEN"),
    AccountID:   os.Getenv("TIKTOK_ACCOUNT_ID"),
  })))
  registry.Register(adplatform.PlatformGoogle, wrap(adplatform.NewGoogleAdapter(log, googleBase, adplatform.Credentials{
    AccessToken: os.Getenv("GOOGLE_ADS_ACCESS_TOKEN"),
    AccountID:   os.Getenv("GOOGLE_ADS_ACCOUNT_ID"),
  })))
  registry.RegisterFactory(adplatform.PlatformMeta, func(creds adplatform.Credentials) adplatform.Adapter {
    return wrap(adplatform.NewMetaAdapter(log, metaBase, creds))
  })
  registry.RegisterFactory(adplatform.PlatformTikTok, func(creds adplatform.Credentials) adplatform.Adapter {
    return wrap(adplatform.NewTikTokAdapter(log, tiktokBase, creds))
  })
  registry.RegisterFactory(adplatform.PlatformGoogle, func(creds adplatform.Credentials) adplatform.Adapter {
    return wrap(adplatform.NewGoogleAdapter(log, googleBase, creds))
  })
  return registry
}

// startSweeps runs the time-driven loops: rollout advancement, the optimizer
// sweep and metrics polling.
func startSweeps(
  ctx context.Context,
  log *logger.Logger,
  cfg config.Config,
  campaignService services.CampaignService,
  optimizerService services.OptimizerService,
  metricsSyncService services.MetricsSyncService,
) {
  rolloutInterval := time.Duration(utils.GetEnvAsInt("ROLLOUT_INTERVAL_SECONDS", 3600, log)) * time.Second
  metricsInterval := time.Duration(utils.GetEnvAsInt("METRICS_SYNC_INTERVAL_SECONDS", 900, log)) * time.Second

  go runEvery(ctx, rolloutInterval, func() {
    if n, err := campaignService.RolloutDue(ctx); err != nil {
      log.Error("Rollout sweep failed", "error", err)
    } else if n > 0 {
      log.Info("Rollout sweep enqueued publish jobs", "count", n)
    }
  })
  go runEvery(ctx, cfg.Optimizer.SweepInterval, func() {
    if err := optimizerService.SweepActive(ctx, 0); err != nil {
      log.Error("Optimizer sweep failed", "error", err)
    }
  })
  go runEvery(ctx, metricsInterval, func() {
    if err := metricsSyncService.SweepActive(ctx); err != nil {
      log.Error("Metrics sync sweep failed", "error", err)
    }
  })
}

func runEvery(ctx context.Context, interval time.Duration, fn func()) {
  ticker := time.NewTicker(interval)
  defer ticker.Stop()
  for {
    select {
    case <-ctx.Done():
      return
    case <-ticker.C:
      fn()
    }
  }
}
