package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/metrics"
	"studiobook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler runs one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *models.Job) error

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

// JobWorker consumes persisted jobs. New jobs are announced through redis, or an in-memory
// channel when redis is missing or failing; the jobs table is polled for retries and leftovers.
type JobWorker struct {
	store         domain.JobStore
	redis         *redis.Client
	handlers      map[string]Handler
	mu            sync.RWMutex
	retryPolicy   RetryPolicy
	queue         chan models.Job
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewJobWorker builds a worker. Zero retry fields take DefaultRetryPolicy values.
func NewJobWorker(store domain.JobStore, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *JobWorker {
	return &JobWorker{
		store:         store,
		redis:         redisClient,
		handlers:      make(map[string]Handler),
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.Job, models.WorkerQueueSize),
		redisQueueKey: "jobs:queue",
		deadLetterKey: "jobs:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// Register sets the handler for a job type.
func (w *JobWorker) Register(jobType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

func (w *JobWorker) handler(jobType string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[jobType]
	return h, ok
}

// Enqueue persists the job and schedules it via redis or the in-memory queue.
func (w *JobWorker) Enqueue(ctx context.Context, jobType string, payload interface{}) error {
	if jobType == "" {
		return errors.New("job type is required")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	job := models.Job{
		Type:    jobType,
		Payload: string(payloadBytes),
		Status:  models.JobStatusPending,
	}
	if err := w.store.CreateJob(ctx, &job); err != nil {
		return fmt.Errorf("persist job: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, &job); err != nil {
			w.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- job:
	default:
		w.logger.Warn().Int64("job_id", job.ID).Msg("in-memory queue full, job left to polling")
	}
	return nil
}

// Start launches the main loop; stops when ctx is done.
func (w *JobWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("job worker started")
	defer w.logger.Info().Msg("job worker stopped")

	if n, err := w.store.ResetProcessingJobs(ctx); err != nil {
		w.logger.Error().Err(err).Msg("reset processing jobs")
	} else if n > 0 {
		w.logger.Warn().Int("jobs", n).Msg("requeued jobs left in processing")
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if j, ok := w.tryLocalQueue(); ok {
			w.processJob(ctx, &j)
			continue
		}

		if j, ok := w.tryRedis(ctx); ok {
			w.processJob(ctx, &j)
			continue
		}

		jobs, err := w.store.GetPendingJobs(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending jobs")
			w.sleep(ctx)
			continue
		}
		if len(jobs) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range jobs {
			w.processJob(ctx, &jobs[i])
		}
	}
}

func (w *JobWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *JobWorker) tryLocalQueue() (models.Job, bool) {
	select {
	case j := <-w.queue:
		return j, true
	default:
		return models.Job{}, false
	}
}

func (w *JobWorker) tryRedis(ctx context.Context) (models.Job, bool) {
	if w.redis == nil {
		return models.Job{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.Job{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.Job{}, false
	}
	if len(res) != 2 {
		return models.Job{}, false
	}
	var job models.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		w.logger.Error().Err(err).Msg("decode redis job")
		return models.Job{}, false
	}
	return job, true
}

func (w *JobWorker) processJob(ctx context.Context, job *models.Job) {
	won, err := w.store.ClaimJob(ctx, job.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("claim job")
		return
	}
	if !won {
		return
	}

	h, ok := w.handler(job.Type)
	if !ok {
		w.failJob(ctx, job, fmt.Errorf("unknown job type: %s", job.Type))
		return
	}

	if err := h(ctx, job); err != nil {
		if errors.Is(err, ErrPermanent) {
			w.failJob(ctx, job, err)
			return
		}
		w.retryOrFail(ctx, job, err)
		return
	}

	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, nil, nil); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark job completed")
	}
	metrics.IncJob(job.Type, models.JobStatusCompleted)
}

func (w *JobWorker) retryOrFail(ctx context.Context, job *models.Job, cause error) {
	attempt := job.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failJob(ctx, job, cause)
		return
	}

	msg := cause.Error()
	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusPending, &msg, &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark job retry")
	}
	w.logger.Warn().Err(cause).Int64("job_id", job.ID).Str("type", job.Type).Int("attempt", attempt).
		Time("next_retry_at", nextTime).Msg("job failed, will retry")
	metrics.IncJob(job.Type, "retry")
}

func (w *JobWorker) failJob(ctx context.Context, job *models.Job, cause error) {
	msg := cause.Error()
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, &msg, nil); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("mark job failed")
	}
	job.Status = models.JobStatusFailed
	job.LastError = &msg
	w.logger.Error().Err(cause).Int64("job_id", job.ID).Str("type", job.Type).Msg("job moved to dead letter")
	metrics.IncJob(job.Type, models.JobStatusFailed)

	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, job); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("deadletter push")
	}
}

func (w *JobWorker) pushRedis(ctx context.Context, key string, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

// Decode unmarshals the job payload into v. Malformed payloads are permanent failures.
func Decode(job *models.Job, v interface{}) error {
	if err := json.Unmarshal([]byte(job.Payload), v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrPermanent, job.Type, err)
	}
	return nil
}
