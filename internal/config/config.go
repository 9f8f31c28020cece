package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is parsed once at startup from environment variables and injected
// into the services that need it. Tier ceilings and quotas are expressed in
// integer minor-currency units (cents).
type Config struct {
	Env     string `env:"ENV" envDefault:"development"`
	LogMode string `env:"LOG_MODE" envDefault:"development"`

	Queue     Queue     `envPrefix:"QUEUE_"`
	Limits    Limits    `envPrefix:"LIMITS_"`
	Optimizer Optimizer `envPrefix:"OPTIMIZER_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Sandbox   bool      `env:"SANDBOX_MODE" envDefault:"false"`
}

// Queue controls the durable job workers. Concurrency is a per-queue ceiling,
// not a per-job-type one.
type Queue struct {
	PublishConcurrency  int64         `env:"PUBLISH_CONCURRENCY" envDefault:"4"`
	SyncConcurrency     int64         `env:"SYNC_CONCURRENCY" envDefault:"2"`
	OptimizeConcurrency int64         `env:"OPTIMIZE_CONCURRENCY" envDefault:"2"`
	MaxAttempts         int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase         time.Duration `env:"BACKOFF_BASE" envDefault:"30s"`
	BackoffCap          time.Duration `env:"BACKOFF_CAP" envDefault:"15m"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	StaleRunning        time.Duration `env:"STALE_RUNNING" envDefault:"5m"`
}

// Limits covers spend-tier ceilings and the collaborator rate/quota windows.
type Limits struct {
	FreeBudgetCeilingCents    int64         `env:"FREE_BUDGET_CEILING_CENTS" envDefault:"50000"`
	StarterBudgetCeilingCents int64         `env:"STARTER_BUDGET_CEILING_CENTS" envDefault:"500000"`
	ProBudgetCeilingCents     int64         `env:"PRO_BUDGET_CEILING_CENTS" envDefault:"5000000"`
	MonthlySpendCapCents      int64         `env:"MONTHLY_SPEND_CAP_CENTS" envDefault:"10000000"`
	RequestsPerWindow         int64         `env:"REQUESTS_PER_WINDOW" envDefault:"30"`
	RequestWindow             time.Duration `env:"REQUEST_WINDOW" envDefault:"1m"`
	MonthlyTokenQuota         int64         `env:"MONTHLY_TOKEN_QUOTA" envDefault:"2000000"`
}

type Optimizer struct {
	WinnerScaleMultiplier float64       `env:"WINNER_SCALE_MULTIPLIER" envDefault:"1.5"`
	LookbackHours         int           `env:"LOOKBACK_HOURS" envDefault:"168"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

type Redis struct {
	Addr string `env:"ADDR" envDefault:"localhost:6379"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
