package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
	"github.com/adpilot/adpilot-backend/internal/clients/crm"
	"github.com/adpilot/adpilot-backend/internal/config"
	"github.com/adpilot/adpilot-backend/internal/logger"
	"github.com/adpilot/adpilot-backend/internal/repos"
	"github.com/adpilot/adpilot-backend/internal/types"
)

// JobHandler executes one claimed job. The returned error decides the job's
// fate: nil → succeeded, terminal error → dead, rate-limit error → retried no
// earlier than its Retry-After, anything else → retried after exponential
// backoff until the attempt ceiling.
type JobHandler func(ctx context.Context, job *types.JobRun) error

type JobService interface {
	Enqueue(ctx context.Context, ownerUserID uuid.UUID, queue string, payload interface{}) (*types.JobRun, error)
	RegisterHandler(queue string, handler JobHandler)
	StartWorkers(ctx context.Context)
	Wait()
	CancelJob(ctx context.Context, id uuid.UUID) (bool, error)
}

type jobService struct {
	db   *gorm.DB
	log  *logger.Logger
	cfg  config.Queue
	jobs repos.JobRunRepo

	mu       sync.RWMutex
	handlers map[string]JobHandler
	wg       sync.WaitGroup
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, cfg config.Queue, jobs repos.JobRunRepo) JobService {
	return &jobService{
		db:       db,
		log:      baseLog.With("service", "JobService"),
		cfg:      cfg,
		jobs:     jobs,
		handlers: map[string]JobHandler{},
	}
}

func (s *jobService) Enqueue(ctx context.Context, ownerUserID uuid.UUID, queue string, payload interface{}) (*types.JobRun, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		Queue:       queue,
		Payload:     datatypes.JSON(raw),
		Status:      types.JobStatusQueued,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	created, err := s.jobs.Create(ctx, nil, job)
	if err != nil {
		return nil, err
	}
	s.log.Info("Enqueued job", "queue", queue, "job_id", created.ID)
	return created, nil
}

func (s *jobService) RegisterHandler(queue string, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[queue] = handler
}

func (s *jobService) handlerFor(queue string) (JobHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[queue]
	return h, ok
}

func (s *jobService) concurrencyFor(queue string) int64 {
	switch queue {
	case types.QueuePublish:
		return s.cfg.PublishConcurrency
	case types.QueueCRMSync:
		return s.cfg.SyncConcurrency
	case types.QueueOptimize:
		return s.cfg.OptimizeConcurrency
	default:
		return 1
	}
}

// StartWorkers launches one claim loop per registered queue. Loops stop
// claiming when ctx is canceled; outcomes of in-flight jobs are persisted on a
// detached context so shutdown cannot lose a result.
func (s *jobService) StartWorkers(ctx context.Context) {
	s.mu.RLock()
	queues := make([]string, 0, len(s.handlers))
	for q := range s.handlers {
		queues = append(queues, q)
	}
	s.mu.RUnlock()

	for _, queue := range queues {
		s.wg.Add(1)
		go s.runQueue(ctx, queue)
	}
}

func (s *jobService) Wait() { s.wg.Wait() }

func (s *jobService) runQueue(ctx context.Context, queue string) {
	defer s.wg.Done()
	limit := s.concurrencyFor(queue)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.log.Info("Queue worker started", "queue", queue, "concurrency", limit)
	for {
		select {
		case <-ctx.Done():
			// Drain: wait for in-flight jobs on this queue.
			_ = sem.Acquire(context.Background(), limit)
			s.log.Info("Queue worker stopped", "queue", queue)
			return
		case <-ticker.C:
			s.drainTick(ctx, queue, sem)
		}
	}
}

// drainTick claims as many runnable jobs as the semaphore allows, then yields
// until the next tick.
func (s *jobService) drainTick(ctx context.Context, queue string, sem *semaphore.Weighted) {
	for {
		if !sem.TryAcquire(1) {
			return
		}
		job, err := s.jobs.ClaimNextRunnable(ctx, nil, queue, s.cfg.MaxAttempts, s.cfg.StaleRunning)
		if err != nil {
			sem.Release(1)
			s.log.Error("Claim failed", "queue", queue, "error", err)
			return
		}
		if job == nil {
			sem.Release(1)
			return
		}
		go func(job *types.JobRun) {
			defer sem.Release(1)
			s.execute(ctx, queue, job)
		}(job)
	}
}

func (s *jobService) execute(ctx context.Context, queue string, job *types.JobRun) {
	handler, ok := s.handlerFor(queue)
	if !ok {
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go s.heartbeatLoop(hbCtx, job.ID)

	start := time.Now()
	err := handler(ctx, job)
	elapsed := time.Since(start)

	if err == nil {
		s.finish(job, map[string]interface{}{
			"status":      types.JobStatusSucceeded,
			"retry_after": nil,
		})
		s.log.Info("Job succeeded", "queue", queue, "job_id", job.ID, "attempt", job.Attempts, "elapsed", elapsed)
		return
	}

	now := time.Now()
	updates := map[string]interface{}{
		"last_error":    err.Error(),
		"last_error_at": now,
	}

	switch {
	case isTerminalJobError(err):
		updates["status"] = types.JobStatusDead
		s.log.Warn("Job dead (terminal error)", "queue", queue, "job_id", job.ID, "attempt", job.Attempts, "error", err)
	case job.Attempts >= s.cfg.MaxAttempts:
		updates["status"] = types.JobStatusDead
		s.log.Warn("Job dead (attempts exhausted)", "queue", queue, "job_id", job.ID, "attempts", job.Attempts, "error", err)
	default:
		updates["status"] = types.JobStatusFailed
		delay := s.backoff(job.Attempts)
		if ra, ok := retryAfterOf(err); ok && ra > delay {
			delay = ra
		}
		updates["retry_after"] = now.Add(delay)
		s.log.Warn("Job failed, will retry", "queue", queue, "job_id", job.ID, "attempt", job.Attempts, "retry_in", delay, "error", err)
	}
	s.finish(job, updates)
}

func (s *jobService) finish(job *types.JobRun, updates map[string]interface{}) {
	// Outcome writes use a fresh context: the worker ctx may already be
	// canceled during shutdown, and losing the outcome would re-run the job.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.jobs.UpdateFields(ctx, nil, job.ID, updates); err != nil {
		s.log.Error("Failed to persist job outcome", "job_id", job.ID, "error", err)
	}
}

func (s *jobService) heartbeatLoop(ctx context.Context, jobID uuid.UUID) {
	interval := s.cfg.StaleRunning / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.jobs.Heartbeat(ctx, nil, jobID); err != nil && ctx.Err() == nil {
				s.log.Warn("Heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// backoff doubles per attempt from the configured base up to the cap.
func (s *jobService) backoff(attempts int) time.Duration {
	delay := s.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	if delay > s.cfg.BackoffCap {
		delay = s.cfg.BackoffCap
	}
	return delay
}

func (s *jobService) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.jobs.Cancel(ctx, nil, id)
}

// isTerminalJobError classifies failures that retrying cannot fix: the job
// goes straight to dead without burning the remaining attempts.
func isTerminalJobError(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var (
		validation      *ValidationError
		conflict        *ConcurrencyConflictError
		crmValidation   *crm.ValidationError
		notFound        *adplatform.CampaignNotFoundError
		badBudget       *adplatform.InsufficientBudgetError
		badTargeting    *adplatform.InvalidTargetingError
		missingCreative *adplatform.CreativeNotFoundError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &conflict) ||
		errors.As(err, &crmValidation) ||
		errors.As(err, &notFound) ||
		errors.As(err, &badBudget) ||
		errors.As(err, &badTargeting) ||
		errors.As(err, &missingCreative)
}

// retryAfterOf extracts an upstream-mandated minimum delay when the failure
// carries one.
func retryAfterOf(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	var crmRL *crm.RateLimitedError
	if errors.As(err, &crmRL) {
		return crmRL.RetryAfter, true
	}
	return 0, false
}
